// Package rtspserver accepts client connections over TCP, connectionless
// UDP and HTTP-tunnelled RTSP, and feeds each parsed request into the
// method dispatcher.
package rtspserver

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/aler9/rtsp-gateway/internal/conf"
	"github.com/aler9/rtsp-gateway/internal/handlers"
	"github.com/aler9/rtsp-gateway/internal/logger"
	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/wire"
)

// Server listens on the configured transports and drives request
// dispatch through Deps.
type Server struct {
	conf     *conf.Conf
	deps     *handlers.Deps
	sessions *rtspsession.Registry
	logger   *logger.Logger

	tcpListener  net.Listener
	udpConn      *net.UDPConn
	httpListener net.Listener

	clientSlots chan struct{}
}

// New constructs a Server bound to cfg, ready to Start.
func New(cfg *conf.Conf, deps *handlers.Deps, sessions *rtspsession.Registry, lg *logger.Logger) *Server {
	return &Server{
		conf:        cfg,
		deps:        deps,
		sessions:    sessions,
		logger:      lg,
		clientSlots: make(chan struct{}, cfg.MaximumClients),
	}
}

// Start opens every configured listener and begins serving. It returns
// once the TCP listener (mandatory) is bound; UDP and HTTP tunnel
// listeners are best-effort and logged, not fatal.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.conf.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.tcpListener = ln
	s.logger.Log(logger.Info, "TCP listener opened on %s", addr)
	go s.acceptTCP()

	if s.conf.EnableUDP {
		udpAddr := fmt.Sprintf(":%d", s.conf.UDPPort)
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.conf.UDPPort})
		if err != nil {
			s.logger.Log(logger.Error, "UDP listener on %s failed: %v", udpAddr, err)
		} else {
			s.udpConn = conn
			s.logger.Log(logger.Info, "UDP listener opened on %s", udpAddr)
			go s.serveUDP()
		}
	}

	if s.conf.EnableHTTP {
		httpAddr := fmt.Sprintf(":%d", s.conf.HTTPPort)
		hln, err := net.Listen("tcp", httpAddr)
		if err != nil {
			s.logger.Log(logger.Error, "HTTP tunnel listener on %s failed: %v", httpAddr, err)
		} else {
			s.httpListener = hln
			s.logger.Log(logger.Info, "HTTP tunnel listener opened on %s", httpAddr)
			go s.serveHTTPTunnel(hln)
		}
	}

	return nil
}

// Stop closes every listener; in-flight connections drain on their own.
func (s *Server) Stop() {
	if s.tcpListener != nil {
		_ = s.tcpListener.Close()
	}
	if s.udpConn != nil {
		_ = s.udpConn.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
}

func (s *Server) acceptTCP() {
	for {
		conn, err := s.tcpListener.Accept()
		if err != nil {
			return
		}

		select {
		case s.clientSlots <- struct{}{}:
			go s.handleTCPConn(conn)
		default:
			s.logger.Log(logger.Warn, "rejecting %s: at maximumClients", conn.RemoteAddr())
			_ = conn.Close()
		}
	}
}

func (s *Server) handleTCPConn(conn net.Conn) {
	defer func() { <-s.clientSlots }()
	defer conn.Close()

	sess := rtspsession.New(rtspsession.ProtoTCP, conn, conn.RemoteAddr().String(), conn.LocalAddr().String())
	s.sessions.Add(sess)
	defer func() {
		s.sessions.Remove(sess)
		sess.Close()
	}()

	reader := bufio.NewReader(conn)

	for {
		if s.conf.ReceiveTimeout() > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.conf.ReceiveTimeout()))
		}

		req, err := wire.ReadRequest(reader)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		res := s.deps.Dispatch(sess, req)
		if res == nil {
			continue
		}

		if s.conf.SendTimeout() > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.conf.SendTimeout()))
		}

		if err := wire.WriteResponse(conn, res, s.conf.ServerName); err != nil {
			return
		}
	}
}
