// Package rtspheaders parses and serializes the RTSP headers whose
// syntax this gateway speaks directly (Transport, Range, RTP-Info),
// in the style of gortsplib's headers/transport.go.
package rtspheaders

import (
	"fmt"
	"strconv"
	"strings"
)

// Transport is a parsed Transport: header.
type Transport struct {
	TCP            bool
	ClientPorts    *[2]int
	ServerPorts    *[2]int
	InterleavedIDs *[2]int
}

func parsePortPair(val string) (*[2]int, error) {
	parts := strings.SplitN(val, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid port pair %q", val)
	}
	a, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid port pair %q", val)
	}
	b, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid port pair %q", val)
	}
	return &[2]int{a, b}, nil
}

// ParseTransport parses the value of a Transport header. Only the
// subset needed here is extracted: client_port and interleaved;
// server_port is parsed for completeness/round-trip but is normally
// absent on a client-sent SETUP.
func ParseTransport(value string) (*Transport, error) {
	t := &Transport{}

	for _, tok := range strings.Split(value, ";") {
		tok = strings.TrimSpace(tok)

		switch {
		case tok == "RTP/AVP/TCP":
			t.TCP = true
		case strings.HasPrefix(tok, "client_port="):
			pp, err := parsePortPair(tok[len("client_port="):])
			if err != nil {
				return nil, err
			}
			t.ClientPorts = pp
		case strings.HasPrefix(tok, "server_port="):
			pp, err := parsePortPair(tok[len("server_port="):])
			if err != nil {
				return nil, err
			}
			t.ServerPorts = pp
		case strings.HasPrefix(tok, "interleaved="):
			pp, err := parsePortPair(tok[len("interleaved="):])
			if err != nil {
				return nil, err
			}
			t.InterleavedIDs = pp
		}
		// unicast/multicast, mode= and other tokens are accepted but
		// ignored: multicast distribution is out of scope.
	}

	if t.ClientPorts == nil && t.InterleavedIDs == nil {
		return nil, fmt.Errorf("transport header has neither client_port nor interleaved")
	}

	return t, nil
}

// BuildUDPTransport renders the Transport header for a successful UDP
// unicast SETUP response.
func BuildUDPTransport(clientPorts, serverPorts [2]int, source string, ssrc uint32) string {
	return fmt.Sprintf(
		"RTP/AVP/UDP;unicast;client_port=%d-%d;server_port=%d-%d;source=%s;ssrc=%08x",
		clientPorts[0], clientPorts[1], serverPorts[0], serverPorts[1], source, ssrc,
	)
}

// BuildTCPTransport renders the Transport header for a successful
// interleaved TCP SETUP response.
func BuildTCPTransport(interleavedIDs [2]int, ssrc uint32) string {
	return fmt.Sprintf(
		"RTP/AVP/TCP;unicast;interleaved=%d-%d;ssrc=%08x",
		interleavedIDs[0], interleavedIDs[1], ssrc,
	)
}
