package rtspheaders

import (
	"strconv"
	"strings"
)

// RTPInfoEntry is one "url=...;seq=<n>;rtptime=<t>" entry of an RTP-Info
// header, sent in PLAY responses.
type RTPInfoEntry struct {
	URL     string
	Seq     uint16
	RTPTime uint32
}

// BuildRTPInfo joins entries into the header value, one per attached
// client transport context.
func BuildRTPInfo(entries []RTPInfoEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, formatEntry(e))
	}
	return strings.Join(parts, ",")
}

func formatEntry(e RTPInfoEntry) string {
	return "url=" + e.URL + ";seq=" + strconv.Itoa(int(e.Seq)) + ";rtptime=" + strconv.Itoa(int(e.RTPTime))
}
