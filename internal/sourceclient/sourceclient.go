// Package sourceclient pulls one upstream RTSP stream and exposes its
// session description and incoming RTP packets, wrapping
// gortsplib.Client the way examples/client-play/main.go does.
package sourceclient

import (
	"fmt"
	"net/url"
	"time"

	"github.com/bluenviron/gortsplib/v5"
	"github.com/bluenviron/gortsplib/v5/pkg/base"
	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/bluenviron/gortsplib/v5/pkg/format"
	"github.com/pion/rtp"
	psdp "github.com/pion/sdp/v3"
)

// OnPacketFunc receives one RTP packet from the upstream, tagged with the
// media it belongs to and the local time it arrived.
type OnPacketFunc func(medi *description.Media, forma format.Format, pkt *rtp.Packet, arrived time.Time)

// Puller connects to one upstream, describes it, sets up every media and
// starts playing, forwarding packets to OnPacket.
type Puller struct {
	URL      string
	User     string
	Pass     string
	OnPacket OnPacketFunc

	client *gortsplib.Client
}

// Start connects, describes and plays the upstream, returning its session
// description once SETUP has completed for every media, along with one
// RTCP-enabled flag per entry in desc.Medias (false where the media
// description carried both b=RR:0 and b=RS:0).
func (p *Puller) Start() (*description.Session, []bool, error) {
	rawURL := p.URL
	if p.User != "" {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid source url: %w", err)
		}
		parsed.User = url.UserPassword(p.User, p.Pass)
		rawURL = parsed.String()
	}

	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid source url: %w", err)
	}

	p.client = &gortsplib.Client{
		Scheme: u.Scheme,
		Host:   u.Host,
	}

	if err := p.client.Start(); err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}

	desc, res, err := p.client.Describe(u)
	if err != nil {
		p.client.Close()
		return nil, nil, fmt.Errorf("describe: %w", err)
	}

	rtcpEnabled := rtcpEnabledPerMedia(res.Body, len(desc.Medias))

	if err := p.client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		p.client.Close()
		return nil, nil, fmt.Errorf("setup: %w", err)
	}

	p.client.OnPacketRTPAny(func(medi *description.Media, forma format.Format, pkt *rtp.Packet) {
		if p.OnPacket != nil {
			p.OnPacket(medi, forma, pkt, time.Now())
		}
	})

	if _, err := p.client.Play(nil); err != nil {
		p.client.Close()
		return nil, nil, fmt.Errorf("play: %w", err)
	}

	return desc, rtcpEnabled, nil
}

// rtcpEnabledPerMedia reparses the raw SDP body to recover the b=RR/b=RS
// bandwidth lines that gortsplib's own description.Media does not carry
// over, returning one flag per media section (defaulting to true when
// the body can't be parsed or a section lacks both lines).
func rtcpEnabledPerMedia(body []byte, mediaCount int) []bool {
	enabled := make([]bool, mediaCount)
	for i := range enabled {
		enabled[i] = true
	}

	var raw psdp.SessionDescription
	if err := raw.Unmarshal(body); err != nil {
		return enabled
	}

	for i, md := range raw.MediaDescriptions {
		if i >= mediaCount {
			break
		}
		var sawRR, sawRS, rrZero, rsZero bool
		for _, bw := range md.Bandwidth {
			switch bw.Type {
			case "RR":
				sawRR = true
				rrZero = bw.Bandwidth == 0
			case "RS":
				sawRS = true
				rsZero = bw.Bandwidth == 0
			}
		}
		if sawRR && sawRS && rrZero && rsZero {
			enabled[i] = false
		}
	}

	return enabled
}

// Wait blocks until the upstream connection fails.
func (p *Puller) Wait() error {
	if p.client == nil {
		return fmt.Errorf("puller not started")
	}
	return p.client.Wait()
}

// Stop closes the upstream connection.
func (p *Puller) Stop() {
	if p.client != nil {
		p.client.Close()
	}
}
