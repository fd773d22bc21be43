// Package source holds known media sources and resolves request paths
// to them, in the style of a Path/PathManager pair.
package source

import (
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/google/uuid"

	"github.com/aler9/rtsp-gateway/internal/rtspauth"
)

// State is a Source's lifecycle state.
type State int

// Source lifecycle states.
const (
	Stopped State = iota
	Starting
	Started
	Faulted
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// TransportContext is per-track state binding one media description to a
// pair of channels (TCP) or ports (UDP) and an SSRC. The same shape is
// used for a Source's own contexts and for a Session's client/attached
// contexts.
type TransportContext struct {
	Media *description.Media

	InterleavedData    int
	InterleavedControl int
	ClientPorts        [2]int
	ServerPorts        [2]int

	SSRC uint32

	// RTCPEnabled is false when the media description carries both
	// b=RR:0 and b=RS:0, which jointly disable RTCP for this context.
	RTCPEnabled bool

	LastNTPTime time.Time
	LastRTPTime uint32
	LastSeq     uint16
}

// StartFunc connects to the upstream and begins forwarding packets into
// the Source's transport contexts; it returns once SETUP has completed,
// or an error if the upstream could not be reached.
type StartFunc func(src *Source) error

// StopFunc disconnects from the upstream.
type StopFunc func(src *Source)

// Source represents one pullable upstream.
type Source struct {
	ID         uuid.UUID
	Name       string
	Aliases    []string
	Credential *rtspauth.Credential
	AuthScheme rtspauth.Scheme
	ForceTCP   bool

	start StartFunc
	stop  StopFunc

	mutex              sync.RWMutex
	state              State
	firstMediaReceived bool
	sessionDescription *description.Session
	transportContexts  []*TransportContext
}

// New constructs a Source with a fresh identifier.
func New(name string, aliases []string, start StartFunc, stop StopFunc) *Source {
	return &Source{
		ID:      uuid.New(),
		Name:    name,
		Aliases: aliases,
		start:   start,
		stop:    stop,
		state:   Stopped,
	}
}

// State returns the current lifecycle state.
func (s *Source) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

// Ready reports whether the source is Started and has received at least
// one media packet.
func (s *Source) Ready() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state == Started && s.firstMediaReceived
}

// SessionDescription returns the source's session description, or nil if
// not yet known.
func (s *Source) SessionDescription() *description.Session {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.sessionDescription
}

// TransportContexts returns a snapshot of the source's per-track
// transport contexts.
func (s *Source) TransportContexts() []*TransportContext {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]*TransportContext, len(s.transportContexts))
	copy(out, s.transportContexts)
	return out
}

// SetSessionDescription installs the description once learned from the
// upstream collaborator.
func (s *Source) SetSessionDescription(desc *description.Session, contexts []*TransportContext) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sessionDescription = desc
	s.transportContexts = contexts
}

// MarkMediaReceived flips readiness on once the first upstream packet
// arrives, and updates the owning context's timestamps.
func (s *Source) MarkMediaReceived(ctx *TransportContext, ntpTime time.Time, rtpTime uint32, seq uint16) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.firstMediaReceived = true
	ctx.LastNTPTime = ntpTime
	ctx.LastRTPTime = rtpTime
	ctx.LastSeq = seq
}

// Start transitions Stopped/Faulted → Starting → Started (or Faulted on
// failure), invoking the upstream-pull collaborator.
func (s *Source) Start() error {
	s.mutex.Lock()
	s.state = Starting
	s.firstMediaReceived = false
	s.mutex.Unlock()

	if err := s.start(s); err != nil {
		s.mutex.Lock()
		s.state = Faulted
		s.mutex.Unlock()
		return err
	}

	s.mutex.Lock()
	s.state = Started
	s.mutex.Unlock()
	return nil
}

// Stop disconnects from the upstream and transitions to Stopped.
func (s *Source) Stop() {
	s.stop(s)
	s.mutex.Lock()
	s.state = Stopped
	s.firstMediaReceived = false
	s.mutex.Unlock()
}

// matches reports whether key matches the source's name, stringified id,
// or any alias, case-insensitively.
func (s *Source) matches(key string) bool {
	if strings.EqualFold(s.Name, key) || strings.EqualFold(s.ID.String(), key) {
		return true
	}
	for _, a := range s.Aliases {
		if strings.EqualFold(a, key) {
			return true
		}
	}
	return false
}
