package rtspserver

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aler9/rtsp-gateway/internal/conf"
	"github.com/aler9/rtsp-gateway/internal/handlers"
	"github.com/aler9/rtsp-gateway/internal/logger"
	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/source"
)

func testServer(t *testing.T) (*Server, string) {
	cfg := &conf.Conf{
		Port:                           0,
		MaximumClients:                 4,
		ReceiveTimeoutMs:               200,
		SendTimeoutMs:                  200,
		ServerName:                     "test-server",
		ClientInactivityTimeoutSeconds: 60,
	}

	sources := source.NewRegistry()
	sessions := rtspsession.NewRegistry()
	lg, err := logger.New(logger.Error, map[logger.Destination]struct{}{logger.DestinationStdout: {}}, "")
	require.NoError(t, err)
	t.Cleanup(lg.Close)

	deps := handlers.NewDeps(sources, sessions, lg, handlers.NewPortAllocator(30000, 30100))
	srv := New(cfg, deps, sessions, lg)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return srv, srv.tcpListener.Addr().String()
}

func TestTCPServerRoundTripOptions(t *testing.T) {
	_, addr := testServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("OPTIONS rtsp://x/live/cam1 RTSP/1.0\r\nCSeq: 1\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "404")
}

func TestTCPServerRejectsBeyondMaximumClients(t *testing.T) {
	cfg := &conf.Conf{
		Port:             0,
		MaximumClients:   1,
		ReceiveTimeoutMs: 200,
		SendTimeoutMs:    200,
		ServerName:       "test-server",
	}
	sources := source.NewRegistry()
	sessions := rtspsession.NewRegistry()
	lg, err := logger.New(logger.Error, map[logger.Destination]struct{}{logger.DestinationStdout: {}}, "")
	require.NoError(t, err)
	t.Cleanup(lg.Close)

	deps := handlers.NewDeps(sources, sessions, lg, handlers.NewPortAllocator(30000, 30100))
	srv := New(cfg, deps, sessions, lg)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	addr := srv.tcpListener.Addr().String()

	conn1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn1.Close()

	time.Sleep(50 * time.Millisecond)

	conn2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn2.Close()

	conn2.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	_, err = conn2.Read(buf)
	require.Error(t, err)
}
