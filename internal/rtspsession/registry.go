package rtspsession

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Registry holds Sessions keyed by internal id and by RTSP Session:
// token, own-mutex guarded, never held across socket I/O.
type Registry struct {
	mutex    sync.RWMutex
	byID     map[uuid.UUID]*Session
	byToken  map[string]*Session
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[uuid.UUID]*Session),
		byToken: make(map[string]*Session),
	}
}

// Add registers s by id, and by token if one has already been minted.
func (r *Registry) Add(s *Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.byID[s.ID] = s
	if tok := s.Token(); tok != "" {
		r.byToken[tok] = s
	}
}

// IndexToken records the token for a Session already in the Registry,
// called right after SetToken mints it on first successful SETUP.
func (r *Registry) IndexToken(s *Session, token string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.byToken[token] = s
}

// Remove drops s from both indexes.
func (r *Registry) Remove(s *Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.byID, s.ID)
	if tok := s.Token(); tok != "" {
		delete(r.byToken, tok)
	}
}

// FindByID returns the Session with the given id, or nil.
func (r *Registry) FindByID(id uuid.UUID) *Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.byID[id]
}

// FindByToken looks up a Session by its trimmed RTSP Session: token,
// case-sensitive.
func (r *Registry) FindByToken(token string) *Session {
	token = strings.TrimSpace(token)
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.byToken[token]
}

// Snapshot returns every registered Session.
func (r *Registry) Snapshot() []*Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}
