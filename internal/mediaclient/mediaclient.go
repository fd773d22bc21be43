// Package mediaclient is the per-Session outgoing RTP/RTCP forwarding
// collaborator: it owns one Sender Report generator per attached
// transport context and the outgoing packet queue, kept separate from
// the control-plane Session object.
package mediaclient

import (
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v5/pkg/rtpsender"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/aler9/rtsp-gateway/internal/source"
)

// Protocol is the negotiated transport mode of a Client.
type Protocol int

// Transport modes a Client can run in.
const (
	UDP Protocol = iota
	TCP
)

// WritePacketFunc sends one RTP packet for the given context; it is
// supplied by whichever collaborator owns the actual socket (a UDP pair
// or the Session's TCP control connection in interleaved mode).
type WritePacketFunc func(ctx *source.TransportContext, pkt *rtp.Packet) error

// WriteRTCPFunc sends one RTCP packet for the given context.
type WriteRTCPFunc func(ctx *source.TransportContext, pkt rtcp.Packet) error

const senderReportPeriod = 10 * time.Second
const outgoingQueueSize = 256

// Client is a Session's outgoing media client. Forwarding runs in its
// own worker goroutine, draining the outgoing packet queue, so a slow
// client socket never blocks the upstream source's dispatch loop.
type Client struct {
	WritePacket WritePacketFunc
	WriteRTCP   WriteRTCPFunc

	mutex     sync.Mutex
	protocol  Protocol
	connected bool
	contexts  []*source.TransportContext
	senders   map[*source.TransportContext]*rtpsender.Sender
	queue     chan queuedPacket
	done      chan struct{}
}

type queuedPacket struct {
	ctx *source.TransportContext
	pkt *rtp.Packet
	ntp time.Time
}

// New constructs a disconnected Client in the given initial mode.
func New(protocol Protocol, writePacket WritePacketFunc, writeRTCP WriteRTCPFunc) *Client {
	return &Client{
		WritePacket: writePacket,
		WriteRTCP:   writeRTCP,
		protocol:    protocol,
		senders:     make(map[*source.TransportContext]*rtpsender.Sender),
	}
}

// Connect marks the client active and starts the forwarding worker. It
// is idempotent.
func (c *Client) Connect() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.connected {
		return
	}
	c.connected = true
	c.queue = make(chan queuedPacket, outgoingQueueSize)
	c.done = make(chan struct{})
	go c.run(c.queue, c.done)
}

func (c *Client) run(queue chan queuedPacket, done chan struct{}) {
	defer close(done)
	for qp := range queue {
		c.mutex.Lock()
		current := c.queue == queue
		rs, ok := c.senders[qp.ctx]
		writePacket := c.WritePacket
		c.mutex.Unlock()

		// a queue replaced by SetTransportProtocol or Disconnect is
		// drained without sending what is left in it.
		if !current {
			continue
		}

		if ok {
			rs.ProcessPacket(qp.pkt, qp.ntp, true)
		}
		if writePacket != nil {
			_ = writePacket(qp.ctx, qp.pkt)
		}
	}
}

// Disconnect stops the forwarding worker, every Sender Report
// generator, clears queues and contexts, and marks the client inactive.
// Per TEARDOWN semantics this leaves the Client reusable for a future
// SETUP.
func (c *Client) Disconnect() {
	c.mutex.Lock()
	for _, s := range c.senders {
		s.Close()
	}
	c.senders = make(map[*source.TransportContext]*rtpsender.Sender)
	c.contexts = nil
	queue, done := c.queue, c.done
	c.queue, c.done = nil, nil
	wasConnected := c.connected
	c.connected = false
	c.mutex.Unlock()

	if wasConnected {
		close(queue)
		<-done
	}
}

// Connected reports whether the client has been connected since the
// last Disconnect.
func (c *Client) Connected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.connected
}

// SetTransportProtocol switches UDP↔TCP, dropping any packets still
// queued under the previous mode and restarting the forwarding worker.
func (c *Client) SetTransportProtocol(p Protocol) {
	c.mutex.Lock()
	wasConnected := c.connected
	oldQueue, oldDone := c.queue, c.done
	c.protocol = p
	if wasConnected {
		c.queue = make(chan queuedPacket, outgoingQueueSize)
		c.done = make(chan struct{})
	}
	newQueue, newDone := c.queue, c.done
	c.mutex.Unlock()

	if wasConnected {
		close(oldQueue)
		<-oldDone
		go c.run(newQueue, newDone)
	}
}

// SetWriters swaps the underlying packet writers, used when a Session's
// transport switches between UDP and interleaved TCP.
func (c *Client) SetWriters(writePacket WritePacketFunc, writeRTCP WriteRTCPFunc) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.WritePacket = writePacket
	c.WriteRTCP = writeRTCP
}

// Protocol returns the current transport mode.
func (c *Client) Protocol() Protocol {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.protocol
}

// AddContext appends a new client transport context and, unless RTCP was
// disabled for it (b=RR:0 and b=RS:0 in the media description), starts
// its Sender Report generator.
func (c *Client) AddContext(ctx *source.TransportContext) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.contexts = append(c.contexts, ctx)

	if !ctx.RTCPEnabled {
		return
	}

	clockRate := 90000
	if ctx.Media != nil && len(ctx.Media.Formats) > 0 {
		clockRate = ctx.Media.Formats[0].ClockRate()
	}

	rs := &rtpsender.Sender{
		ClockRate: clockRate,
		Period:    senderReportPeriod,
		WritePacketRTCP: func(pkt rtcp.Packet) {
			if c.WriteRTCP != nil {
				_ = c.WriteRTCP(ctx, pkt)
			}
		},
	}
	rs.Initialize()
	c.senders[ctx] = rs
}

// RemoveContext detaches one context, stopping its Sender Report
// generator, and returns the number of contexts that remain.
func (c *Client) RemoveContext(ctx *source.TransportContext) (remaining int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for i, e := range c.contexts {
		if e == ctx {
			c.contexts = append(c.contexts[:i], c.contexts[i+1:]...)
			break
		}
	}
	if s, ok := c.senders[ctx]; ok {
		s.Close()
		delete(c.senders, ctx)
	}
	return len(c.contexts)
}

// TransportContexts returns a snapshot of the attached contexts.
func (c *Client) TransportContexts() []*source.TransportContext {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]*source.TransportContext, len(c.contexts))
	copy(out, c.contexts)
	return out
}

// Forward enqueues pkt for ctx to be sent by the forwarding worker,
// which also feeds it to that context's Sender Report generator. A full
// queue drops the packet rather than blocking the caller (typically the
// upstream source's own dispatch loop).
func (c *Client) Forward(ctx *source.TransportContext, pkt *rtp.Packet, ntp time.Time) {
	c.mutex.Lock()
	queue := c.queue
	c.mutex.Unlock()

	if queue == nil {
		return
	}
	select {
	case queue <- queuedPacket{ctx: ctx, pkt: pkt, ntp: ntp}:
	default:
	}
}

// SendSendersReports emits an immediate Sender Report on every attached
// context that has RTCP enabled, invoked right after PLAY attaches to a
// source.
func (c *Client) SendSendersReports() {
	c.mutex.Lock()
	ctxs := make([]*source.TransportContext, len(c.contexts))
	copy(ctxs, c.contexts)
	writeRTCP := c.WriteRTCP
	c.mutex.Unlock()

	if writeRTCP == nil {
		return
	}
	for _, ctx := range ctxs {
		if !ctx.RTCPEnabled {
			continue
		}
		writeRTCP(ctx, &rtcp.SenderReport{SSRC: ctx.SSRC})
	}
}

// SendGoodbyes emits an RTCP BYE on every attached context that has RTCP
// enabled, best effort, invoked on TEARDOWN or Maintenance-driven removal.
func (c *Client) SendGoodbyes() {
	c.mutex.Lock()
	ctxs := make([]*source.TransportContext, len(c.contexts))
	copy(ctxs, c.contexts)
	writeRTCP := c.WriteRTCP
	c.mutex.Unlock()

	if writeRTCP == nil {
		return
	}
	for _, ctx := range ctxs {
		if !ctx.RTCPEnabled {
			continue
		}
		_ = writeRTCP(ctx, &rtcp.Goodbye{Sources: []uint32{ctx.SSRC}})
	}
}
