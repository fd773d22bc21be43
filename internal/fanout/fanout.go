// Package fanout bridges one Source's incoming upstream packets to
// every Session currently attached to it, aligning each Session's
// client transport context to the Source's matching context by index.
package fanout

import (
	"time"

	"github.com/pion/rtp"

	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/source"
)

// Broadcaster fans out one Source's packets to the attached Sessions
// tracked by Sessions.
type Broadcaster struct {
	Sessions *rtspsession.Registry
}

// Deliver forwards pkt, which arrived on srcCtx, to every Session
// attached to src whose aligned client context matches srcCtx.
func (b *Broadcaster) Deliver(src *source.Source, srcCtx *source.TransportContext, pkt *rtp.Packet, arrived time.Time) {
	for _, sess := range b.Sessions.AttachedTo(src.ID) {
		mc := sess.MediaClient()
		if mc == nil {
			continue
		}

		sourceCtxs := sess.SourceContexts()
		clientCtxs := sess.ClientContexts()
		for i, sc := range sourceCtxs {
			if sc != srcCtx {
				continue
			}
			if i < len(clientCtxs) {
				mc.Forward(clientCtxs[i], pkt, arrived)
			}
			break
		}
	}
}
