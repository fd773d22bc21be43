package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/aler9/rtsp-gateway/internal/mediaclient"
	"github.com/aler9/rtsp-gateway/internal/rtspheaders"
	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/source"
	"github.com/aler9/rtsp-gateway/internal/wire"
)

func randomSessionToken() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func randomSSRC() uint32 {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

// clientIPFromRemoteID recovers the client host from a Session's
// stringified remote endpoint, for addressing its UDP transport.
func clientIPFromRemoteID(remoteID string) net.IP {
	host, _, err := net.SplitHostPort(remoteID)
	if err != nil {
		host = remoteID
	}
	return net.ParseIP(host)
}

// localHostFromLocalID recovers the server's own bind host from a
// Session's stringified local endpoint, for the UDP Transport response's
// source= parameter.
func localHostFromLocalID(localID string) string {
	host, _, err := net.SplitHostPort(localID)
	if err != nil {
		return localID
	}
	return host
}

// findSourceContextByTrack matches the final URI segment against each
// media description's a=control: attribute, by equality or containment.
func findSourceContextByTrack(src *source.Source, track string) *source.TransportContext {
	for _, ctx := range src.TransportContexts() {
		if ctx.Media == nil {
			continue
		}
		control := ctx.Media.Control
		if control == track || strings.Contains(control, track) {
			return ctx
		}
	}
	return nil
}

func (d *Deps) handleSetup(sess *rtspsession.Session, req *wire.Request) (*wire.Response, error) {
	if err := d.checkSessionOwnership(sess, req); err != nil {
		return nil, err
	}

	src, err := d.resolveSource(req)
	if err != nil {
		return nil, err
	}
	if !src.Ready() {
		return nil, errPreconditionFailed("source not ready")
	}

	track := trackControlSuffix(req.URI)
	srcCtx := findSourceContextByTrack(src, track)
	if srcCtx == nil {
		return nil, errNotFound("no such track")
	}

	if res := d.authenticate(src, req); res != nil {
		return res, nil
	}

	transportHeader, ok := req.Header.Get("Transport")
	if !ok {
		return nil, errMalformedRequest("missing Transport header")
	}
	transport, err := rtspheaders.ParseTransport(transportHeader)
	if err != nil {
		return nil, errMalformedRequest(err.Error())
	}

	clientCtx := &source.TransportContext{
		Media:       srcCtx.Media,
		SSRC:        randomSSRC(),
		RTCPEnabled: srcCtx.RTCPEnabled,
		LastNTPTime: srcCtx.LastNTPTime,
		LastRTPTime: srcCtx.LastRTPTime,
		LastSeq:     srcCtx.LastSeq,
	}

	var transportResponseHeader string

	switch {
	case transport.ClientPorts != nil && src.ForceTCP:
		return nil, errUnsupportedTransport()

	case transport.ClientPorts != nil:
		rtpConn, rtcpConn, err := d.Ports.Allocate()
		if err != nil {
			return nil, errUnsupportedTransport()
		}
		rtpPort := rtpConn.LocalAddr().(*net.UDPAddr).Port
		rtcpPort := rtcpConn.LocalAddr().(*net.UDPAddr).Port
		clientCtx.ClientPorts = *transport.ClientPorts
		clientCtx.ServerPorts = [2]int{rtpPort, rtcpPort}

		clientIP := clientIPFromRemoteID(sess.RemoteID)
		sess.SetPortReleaser(d.Ports.Release)
		sess.AddUDPConns(clientCtx, rtpConn, rtcpConn, rtpPort)

		mc := sess.MediaClient()
		if mc == nil {
			mc = mediaclient.New(mediaclient.UDP, udpWriter(sess, clientIP), udpRTCPWriter(sess, clientIP))
			mc.Connect()
			sess.SetMediaClient(mc)
		}
		mc.AddContext(clientCtx)

		transportResponseHeader = rtspheaders.BuildUDPTransport(
			clientCtx.ClientPorts, clientCtx.ServerPorts, localHostFromLocalID(sess.LocalID), clientCtx.SSRC)

	default:
		if transport.InterleavedIDs == nil {
			return nil, errMalformedRequest("transport header has neither client_port nor interleaved")
		}

		mc := sess.MediaClient()
		if mc == nil {
			mc = mediaclient.New(mediaclient.TCP, tcpWriter(sess.Conn), tcpRTCPWriter(sess.Conn))
			mc.Connect()
			sess.SetMediaClient(mc)
		} else if mc.Protocol() == mediaclient.UDP {
			for _, ctx := range mc.TransportContexts() {
				mc.RemoveContext(ctx)
			}
			sess.ClearTracks()
			mc.SetWriters(tcpWriter(sess.Conn), tcpRTCPWriter(sess.Conn))
			mc.SetTransportProtocol(mediaclient.TCP)
		}

		clientCtx.InterleavedData = transport.InterleavedIDs[0]
		clientCtx.InterleavedControl = transport.InterleavedIDs[1]

		mc.AddContext(clientCtx)

		transportResponseHeader = rtspheaders.BuildTCPTransport(
			[2]int{clientCtx.InterleavedData, clientCtx.InterleavedControl}, clientCtx.SSRC)
	}

	sess.AddTrack(clientCtx, srcCtx)

	token := sess.Token()
	if token == "" {
		token, err = randomSessionToken()
		if err != nil {
			return nil, errMalformedRequest("failed to mint session token")
		}
		sess.SetToken(token)
		d.Sessions.IndexToken(sess, token)
	}

	if sess.State() == rtspsession.StateNew {
		sess.SetState(rtspsession.Ready)
	}

	return &wire.Response{
		StatusCode: 200,
		Header: wire.Header{
			"Session":   fmt.Sprintf("%s;timeout=%d", token, d.SessionTimeoutSeconds),
			"Transport": transportResponseHeader,
		},
	}, nil
}
