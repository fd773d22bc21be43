// Package rtspsession holds per-client control-plane state and its
// Registry, in the lifecycle style of a per-client connection object.
package rtspsession

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aler9/rtsp-gateway/internal/mediaclient"
	"github.com/aler9/rtsp-gateway/internal/source"
	"github.com/aler9/rtsp-gateway/internal/wire"
)

// State is a Session's lifecycle state.
type State int

// Session lifecycle states, per the SETUP/PLAY/PAUSE/TEARDOWN transition
// table.
const (
	StateNew State = iota
	Ready
	Playing
	Closed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Protocol identifies which Transport Bridge accepted a Session.
type Protocol int

// Transport Bridge protocols a Session may be bound to.
const (
	ProtoTCP Protocol = iota
	ProtoUDP
	ProtoHTTPTunnel
)

// Session represents one connected RTSP client.
type Session struct {
	ID       uuid.UUID
	Proto    Protocol
	Conn     net.Conn // nil for UDP-seeded sessions
	UDPPeer  net.Addr // set for UDP-seeded sessions
	RemoteID string   // stringified remote endpoint, for the hijack defense
	LocalID  string   // stringified local endpoint, used to build Content-Base
	Reader   *bufio.Reader

	mutex        sync.Mutex
	state        State
	token        string
	lastCSeq     string
	lastRequest  *wire.Request
	lastResponse *wire.Response
	lastActivity time.Time
	mediaClient  *mediaclient.Client
	attachedSrc  *source.Source
	clientCtxs   []*source.TransportContext
	sourceCtxs   []*source.TransportContext
	udpConns     map[*source.TransportContext]*udpConnPair
	releasePort  func(int)
}

// udpConnPair is the RTP/RTCP socket pair bound to one UDP SETUP track,
// plus the RTP port they were allocated under (the allocator always
// hands out consecutive even/odd port pairs keyed by the RTP port).
type udpConnPair struct {
	rtp     *net.UDPConn
	rtcp    *net.UDPConn
	rtpPort int
}

func closeUDPConnPair(pair *udpConnPair, release func(int)) {
	if pair == nil {
		return
	}
	if pair.rtp != nil {
		_ = pair.rtp.Close()
	}
	if pair.rtcp != nil {
		_ = pair.rtcp.Close()
	}
	if release != nil {
		release(pair.rtpPort)
	}
}

// New constructs a Session bound to the given transport, in state New.
func New(proto Protocol, conn net.Conn, remoteID, localID string) *Session {
	return &Session{
		ID:           uuid.New(),
		Proto:        proto,
		Conn:         conn,
		RemoteID:     remoteID,
		LocalID:      localID,
		state:        StateNew,
		lastActivity: time.Now(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// SetState transitions the Session; callers hold no lock across this.
func (s *Session) SetState(st State) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state = st
}

// Token returns the minted RTSP Session: token, or "" before the first
// successful SETUP.
func (s *Session) Token() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.token
}

// SetToken mints the Session token; it must only be called once.
func (s *Session) SetToken(token string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.token = token
}

// Touch refreshes lastActivity; callable from Maintenance under no other
// lock.
func (s *Session) Touch() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns the last-touched timestamp.
func (s *Session) LastActivity() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastActivity
}

// IsDuplicate reports whether cseq equals the last serviced CSeq, and
// records cseq as serviced either way (so the very next distinct CSeq is
// compared against this one).
func (s *Session) IsDuplicate(cseq string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	dup := cseq != "" && cseq == s.lastCSeq
	s.lastCSeq = cseq
	return dup
}

// LastRequest and LastResponse are exposed for idempotence assertions in
// tests and for error logging.
func (s *Session) LastRequest() *wire.Request {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastRequest
}
func (s *Session) LastResponse() *wire.Response {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastResponse
}

// RecordExchange stores the request/response pair just served.
func (s *Session) RecordExchange(req *wire.Request, res *wire.Response) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastRequest = req
	s.lastResponse = res
}

// MediaClient returns the Session's outgoing media client, or nil before
// the first successful SETUP.
func (s *Session) MediaClient() *mediaclient.Client {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.mediaClient
}

// SetMediaClient installs the outgoing media client, created lazily on
// first SETUP.
func (s *Session) SetMediaClient(c *mediaclient.Client) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.mediaClient = c
}

// AttachedSource returns the Source this Session is currently attached
// to for packet forwarding (distinct from having transport contexts set
// up), or nil.
func (s *Session) AttachedSource() *source.Source {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.attachedSrc
}

// SetAttachedSource records which Source packet forwarding is bound to.
func (s *Session) SetAttachedSource(src *source.Source) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.attachedSrc = src
}

// ClientContexts returns a snapshot of per-SETUP-track client transport
// contexts.
func (s *Session) ClientContexts() []*source.TransportContext {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]*source.TransportContext, len(s.clientCtxs))
	copy(out, s.clientCtxs)
	return out
}

// SourceContexts returns a snapshot of the parallel list of attached
// source transport contexts.
func (s *Session) SourceContexts() []*source.TransportContext {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]*source.TransportContext, len(s.sourceCtxs))
	copy(out, s.sourceCtxs)
	return out
}

// SetPortReleaser installs the callback the Session uses to return an
// allocated UDP port pair to the server's allocator. The SETUP handler
// calls this on each UDP SETUP, before registering the track's sockets,
// so that rtspsession need not import the package that owns the
// allocator.
func (s *Session) SetPortReleaser(release func(rtpPort int)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.releasePort = release
}

// AddUDPConns registers the RTP/RTCP socket pair bound to ctx, so that a
// writer can look it up per-packet and so it gets closed and released on
// teardown or Close.
func (s *Session) AddUDPConns(ctx *source.TransportContext, rtpConn, rtcpConn *net.UDPConn, rtpPort int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.udpConns == nil {
		s.udpConns = make(map[*source.TransportContext]*udpConnPair)
	}
	s.udpConns[ctx] = &udpConnPair{rtp: rtpConn, rtcp: rtcpConn, rtpPort: rtpPort}
}

// UDPConns returns the socket pair registered for ctx, or nil, nil if
// none was registered (e.g. the context is interleaved over TCP).
func (s *Session) UDPConns(ctx *source.TransportContext) (rtpConn, rtcpConn *net.UDPConn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	pair, ok := s.udpConns[ctx]
	if !ok {
		return nil, nil
	}
	return pair.rtp, pair.rtcp
}

// RemoveUDPConns closes and releases the socket pair registered for ctx,
// if any. Used on per-track TEARDOWN.
func (s *Session) RemoveUDPConns(ctx *source.TransportContext) {
	s.mutex.Lock()
	pair := s.udpConns[ctx]
	delete(s.udpConns, ctx)
	release := s.releasePort
	s.mutex.Unlock()

	closeUDPConnPair(pair, release)
}

// clearUDPConns closes and releases every socket pair currently tracked
// by the Session.
func (s *Session) clearUDPConns() {
	s.mutex.Lock()
	pairs := s.udpConns
	s.udpConns = nil
	release := s.releasePort
	s.mutex.Unlock()

	for _, pair := range pairs {
		closeUDPConnPair(pair, release)
	}
}

// AddTrack appends one aligned (client, source) transport context pair,
// preserving the invariant that both lists stay the same length and
// index-aligned by media description.
func (s *Session) AddTrack(client, src *source.TransportContext) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clientCtxs = append(s.clientCtxs, client)
	s.sourceCtxs = append(s.sourceCtxs, src)
}

// RemoveTrack removes the pair at the given client context, closes and
// releases any UDP socket pair bound to it, and returns the number of
// tracks that remain. Used on per-track TEARDOWN.
func (s *Session) RemoveTrack(client *source.TransportContext) (remaining int) {
	s.mutex.Lock()
	for i, c := range s.clientCtxs {
		if c == client {
			s.clientCtxs = append(s.clientCtxs[:i], s.clientCtxs[i+1:]...)
			s.sourceCtxs = append(s.sourceCtxs[:i], s.sourceCtxs[i+1:]...)
			break
		}
	}
	remaining = len(s.clientCtxs)
	s.mutex.Unlock()

	s.RemoveUDPConns(client)
	return remaining
}

// ClearTracks drops every track pair and closes and releases every
// tracked UDP socket pair. Used on full TEARDOWN and on UDP→TCP
// transport switch.
func (s *Session) ClearTracks() {
	s.mutex.Lock()
	s.clientCtxs = nil
	s.sourceCtxs = nil
	s.mutex.Unlock()

	s.clearUDPConns()
}

// Close transitions to Closed, disposes the media client and socket, and
// clears context lists. Idempotent.
func (s *Session) Close() {
	s.mutex.Lock()
	mc := s.mediaClient
	conn := s.Conn
	s.state = Closed
	s.clientCtxs = nil
	s.sourceCtxs = nil
	s.attachedSrc = nil
	s.mutex.Unlock()

	if mc != nil {
		mc.SendGoodbyes()
		mc.Disconnect()
	}
	s.clearUDPConns()
	if conn != nil {
		_ = conn.Close()
	}
}
