package rtspsession

import "github.com/google/uuid"

// AttachedTo returns a snapshot of every Session currently attached to
// the given Source, for fanning out incoming upstream packets.
func (r *Registry) AttachedTo(sourceID uuid.UUID) []*Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]*Session, 0)
	for _, s := range r.byID {
		src := s.AttachedSource()
		if src != nil && src.ID == sourceID {
			out = append(out, s)
		}
	}
	return out
}
