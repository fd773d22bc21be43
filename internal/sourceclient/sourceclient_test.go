package sourceclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRTCPEnabledPerMediaDisablesOnMatchingBandwidthLines(t *testing.T) {
	body := []byte("v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=video 0 RTP/AVP 96\r\n" +
		"b=RR:0\r\n" +
		"b=RS:0\r\n" +
		"a=control:track1\r\n" +
		"m=audio 0 RTP/AVP 97\r\n" +
		"a=control:track2\r\n")

	enabled := rtcpEnabledPerMedia(body, 2)
	require.Equal(t, []bool{false, true}, enabled)
}

func TestRTCPEnabledPerMediaRequiresBothLines(t *testing.T) {
	body := []byte("v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=video 0 RTP/AVP 96\r\n" +
		"b=RR:0\r\n" +
		"a=control:track1\r\n")

	enabled := rtcpEnabledPerMedia(body, 1)
	require.Equal(t, []bool{true}, enabled)
}

func TestRTCPEnabledPerMediaDefaultsOnUnparseableBody(t *testing.T) {
	enabled := rtcpEnabledPerMedia([]byte("not sdp"), 2)
	require.Equal(t, []bool{true, true}, enabled)
}
