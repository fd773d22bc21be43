package source

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Registry errors.
var (
	ErrAlreadyPresent = errors.New("source already present")
)

// Registry holds known sources keyed by identifier, own-mutex guarded,
// never held across socket I/O.
type Registry struct {
	mutex     sync.RWMutex
	listening bool
	sources   map[uuid.UUID]*Source
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[uuid.UUID]*Source)}
}

// SetListening marks the server as accepting connections; Add will start
// a newly added source immediately once this is true.
func (r *Registry) SetListening(listening bool) {
	r.mutex.Lock()
	r.listening = listening
	r.mutex.Unlock()
}

// Add registers src, failing with ErrAlreadyPresent if its id exists. If
// the server is already listening, src is started immediately.
func (r *Registry) Add(src *Source) error {
	r.mutex.Lock()
	if _, ok := r.sources[src.ID]; ok {
		r.mutex.Unlock()
		return ErrAlreadyPresent
	}
	r.sources[src.ID] = src
	listening := r.listening
	r.mutex.Unlock()

	if listening {
		return src.Start()
	}
	return nil
}

// Remove removes the source with the given id, optionally stopping it
// first. It reports whether a source was actually removed.
func (r *Registry) Remove(id uuid.UUID, stop bool) bool {
	r.mutex.Lock()
	src, ok := r.sources[id]
	if ok {
		delete(r.sources, id)
	}
	r.mutex.Unlock()

	if ok && stop {
		src.Stop()
	}
	return ok
}

// Get returns the source with the given id, or nil.
func (r *Registry) Get(id uuid.UUID) *Source {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.sources[id]
}

// Iter returns a snapshot of every registered source.
func (r *Registry) Iter() []*Source {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	return out
}

// Resolve maps a request path of the form "/live/<name-or-id>/..." (or
// "/archive/...", a stub that always returns nil) to a Source, matching
// case-insensitively against name, stringified id, and alias.
func (r *Registry) Resolve(requestURI string) *Source {
	path := requestURI
	if idx := strings.Index(path, "://"); idx >= 0 {
		path = path[idx+len("://"):]
		if slash := strings.IndexByte(path, '/'); slash >= 0 {
			path = path[slash:]
		} else {
			path = ""
		}
	}

	segments := make([]string, 0, 4)
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	for i, seg := range segments {
		switch strings.ToLower(seg) {
		case "live":
			if i+1 >= len(segments) {
				return nil
			}
			return r.findByKey(segments[i+1])
		case "archive":
			return nil
		}
	}

	return nil
}

func (r *Registry) findByKey(key string) *Source {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for _, s := range r.sources {
		if s.matches(key) {
			return s
		}
	}
	return nil
}
