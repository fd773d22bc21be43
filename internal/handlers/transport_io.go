package handlers

import (
	"fmt"
	"net"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/aler9/rtsp-gateway/internal/mediaclient"
	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/source"
)

// udpWriter builds the RTP-packet writer shared by every UDP unicast
// track of sess: each track keeps its own socket pair (registered on
// sess via AddUDPConns), so the writer looks the right one up per call
// instead of closing over a single pair from the first SETUP.
func udpWriter(sess *rtspsession.Session, clientIP net.IP) mediaclient.WritePacketFunc {
	return func(ctx *source.TransportContext, pkt *rtp.Packet) error {
		rtpConn, _ := sess.UDPConns(ctx)
		if rtpConn == nil {
			return fmt.Errorf("no UDP socket bound for track")
		}
		buf, err := pkt.Marshal()
		if err != nil {
			return err
		}
		_, err = rtpConn.WriteToUDP(buf, &net.UDPAddr{IP: clientIP, Port: ctx.ClientPorts[0]})
		return err
	}
}

// udpRTCPWriter is the RTCP counterpart of udpWriter, addressed at the
// client's advertised RTCP port.
func udpRTCPWriter(sess *rtspsession.Session, clientIP net.IP) mediaclient.WriteRTCPFunc {
	return func(ctx *source.TransportContext, pkt rtcp.Packet) error {
		_, rtcpConn := sess.UDPConns(ctx)
		if rtcpConn == nil {
			return fmt.Errorf("no UDP socket bound for track")
		}
		buf, err := pkt.Marshal()
		if err != nil {
			return err
		}
		_, err = rtcpConn.WriteToUDP(buf, &net.UDPAddr{IP: clientIP, Port: ctx.ClientPorts[1]})
		return err
	}
}

// tcpWriter builds the RTP-packet writer for an interleaved client
// transport context: packets are framed with a '$' marker, channel id
// and length, then written to the Session's own control socket.
func tcpWriter(conn net.Conn) mediaclient.WritePacketFunc {
	return func(ctx *source.TransportContext, pkt *rtp.Packet) error {
		buf, err := pkt.Marshal()
		if err != nil {
			return err
		}
		return writeInterleavedFrame(conn, ctx.InterleavedData, buf)
	}
}

// tcpRTCPWriter is the RTCP counterpart of tcpWriter.
func tcpRTCPWriter(conn net.Conn) mediaclient.WriteRTCPFunc {
	return func(ctx *source.TransportContext, pkt rtcp.Packet) error {
		buf, err := pkt.Marshal()
		if err != nil {
			return err
		}
		return writeInterleavedFrame(conn, ctx.InterleavedControl, buf)
	}
}

func writeInterleavedFrame(conn net.Conn, channel int, payload []byte) error {
	header := []byte{'$', byte(channel), byte(len(payload) >> 8), byte(len(payload))}
	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}
