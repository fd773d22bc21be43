// Package upstream wires a configured source entry to its upstream
// puller, translating gortsplib session descriptions into this
// gateway's Source/TransportContext shape and fanning out received
// packets to attached Sessions.
package upstream

import (
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/bluenviron/gortsplib/v5/pkg/format"
	"github.com/pion/rtp"

	"github.com/aler9/rtsp-gateway/internal/conf"
	"github.com/aler9/rtsp-gateway/internal/fanout"
	"github.com/aler9/rtsp-gateway/internal/rtspauth"
	"github.com/aler9/rtsp-gateway/internal/source"
	"github.com/aler9/rtsp-gateway/internal/sourceclient"
)

// Build constructs a Source for cfg, whose StartFunc pulls the
// configured upstream and whose StopFunc tears the pull down. Received
// packets are fanned out to every Session attached to the Source via
// broadcaster.
func Build(cfg *conf.SourceConf, broadcaster *fanout.Broadcaster) *source.Source {
	var cred *rtspauth.Credential
	authScheme := rtspauth.None
	if cfg.User != "" {
		cred = &rtspauth.Credential{User: cfg.User, Pass: cfg.Pass}
		switch cfg.AuthSchemeParsed {
		case conf.AuthBasic:
			authScheme = rtspauth.Basic
		case conf.AuthDigest:
			authScheme = rtspauth.Digest
		}
	}

	var puller *sourceclient.Puller
	var src *source.Source

	byMedia := make(map[*description.Media]*source.TransportContext)

	start := func(s *source.Source) error {
		puller = &sourceclient.Puller{
			URL:  cfg.URL,
			User: cfg.User,
			Pass: cfg.Pass,
			OnPacket: func(medi *description.Media, _ format.Format, pkt *rtp.Packet, arrived time.Time) {
				ctx, ok := byMedia[medi]
				if !ok {
					return
				}
				s.MarkMediaReceived(ctx, arrived, pkt.Timestamp, pkt.SequenceNumber)
				broadcaster.Deliver(s, ctx, pkt, arrived)
			},
		}

		desc, rtcpEnabled, err := puller.Start()
		if err != nil {
			return fmt.Errorf("source %s: %w", s.Name, err)
		}

		contexts := make([]*source.TransportContext, len(desc.Medias))
		for i, medi := range desc.Medias {
			ctx := &source.TransportContext{Media: medi, RTCPEnabled: rtcpEnabled[i]}
			contexts[i] = ctx
			byMedia[medi] = ctx
		}
		s.SetSessionDescription(desc, contexts)

		return nil
	}

	stop := func(*source.Source) {
		if puller != nil {
			puller.Stop()
		}
		for k := range byMedia {
			delete(byMedia, k)
		}
	}

	src = source.New(cfg.Name, cfg.Aliases, start, stop)
	src.Credential = cred
	src.AuthScheme = authScheme
	src.ForceTCP = cfg.ForceTCP
	return src
}
