package rtspserver

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/aler9/rtsp-gateway/internal/logger"
	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/wire"
)

func (s *Server) serveHTTPTunnel(ln net.Listener) {
	srv := &http.Server{Handler: http.HandlerFunc(s.handleTunnelRequest)}
	_ = srv.Serve(ln)
}

func (s *Server) handleTunnelRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.Contains(r.Header.Get("Accept"), "application/x-rtsp-tunnelled") {
		http.Error(w, "expected a tunnelled RTSP request", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	decoded, err := wire.DecodeTunnelBody(body)
	if err != nil {
		http.Error(w, "invalid base64 body", http.StatusBadRequest)
		return
	}

	reader := bufio.NewReader(bytes.NewReader(decoded))
	req, err := wire.ReadRequest(reader)
	if err != nil {
		http.Error(w, "malformed tunnelled request", http.StatusBadRequest)
		return
	}

	localID := s.conf.ServerName
	if la, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		localID = la.String()
	}

	sess := s.sessionForTunnel(req, r.RemoteAddr, localID)

	res := s.deps.Dispatch(sess, req)
	if res == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	encoded, err := wire.EncodeTunnelResponse(res, s.conf.ServerName)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-rtsp-tunnelled")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

func (s *Server) sessionForTunnel(req *wire.Request, remoteAddr, localID string) *rtspsession.Session {
	if tok, ok := req.Header.Get("Session"); ok {
		if existing := s.deps.Sessions.FindByToken(strings.TrimSpace(tok)); existing != nil {
			return existing
		}
	}

	sess := rtspsession.New(rtspsession.ProtoHTTPTunnel, nil, remoteAddr, localID)
	s.sessions.Add(sess)
	s.logger.Log(logger.Debug, "new HTTP-tunnelled session from %s", remoteAddr)
	return sess
}
