package rtspserver

import (
	"bufio"
	"bytes"
	"net"
	"sync"

	"github.com/aler9/rtsp-gateway/internal/logger"
	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/wire"
)

// udpPeers tracks one Session per originating address, since UDP carries
// no persistent connection to key a Session's lifetime on. Each peer
// also gets its own dispatch lock, so two datagrams from the same peer
// arriving back-to-back never run Dispatch concurrently on one Session.
type udpPeers struct {
	mutex sync.Mutex
	byKey map[string]*udpPeer
}

type udpPeer struct {
	session    *rtspsession.Session
	dispatchMu sync.Mutex
}

func newUDPPeers() *udpPeers {
	return &udpPeers{byKey: make(map[string]*udpPeer)}
}

// getOrCreate returns the existing peer for key, or builds one with create.
func (p *udpPeers) getOrCreate(key string, create func() *rtspsession.Session) *udpPeer {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	peer, ok := p.byKey[key]
	if !ok {
		peer = &udpPeer{session: create()}
		p.byKey[key] = peer
	}
	return peer
}

func (s *Server) serveUDP() {
	peers := newUDPPeers()
	buf := make([]byte, 65536)

	for {
		n, addr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		go s.handleUDPDatagram(peers, addr, data)
	}
}

func (s *Server) handleUDPDatagram(peers *udpPeers, addr *net.UDPAddr, data []byte) {
	key := addr.String()

	peer := peers.getOrCreate(key, func() *rtspsession.Session {
		sess := rtspsession.New(rtspsession.ProtoUDP, nil, key, s.udpConn.LocalAddr().String())
		sess.UDPPeer = addr
		s.sessions.Add(sess)
		return sess
	})

	reader := bufio.NewReader(bytes.NewReader(data))
	req, err := wire.ReadRequest(reader)
	if err != nil {
		s.logger.Log(logger.Warn, "malformed UDP datagram from %s: %v", addr, err)
		return
	}

	peer.dispatchMu.Lock()
	res := s.deps.Dispatch(peer.session, req)
	peer.dispatchMu.Unlock()
	if res == nil {
		return
	}

	var out bytes.Buffer
	if err := wire.WriteResponse(&out, res, s.conf.ServerName); err != nil {
		return
	}
	_, _ = s.udpConn.WriteToUDP(out.Bytes(), addr)
}
