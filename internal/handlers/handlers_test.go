package handlers

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/bluenviron/gortsplib/v5/pkg/format"
	"github.com/stretchr/testify/require"

	"github.com/aler9/rtsp-gateway/internal/rtspauth"
	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/source"
	"github.com/aler9/rtsp-gateway/internal/wire"
)

// discardConn is a net.Conn stub for TCP sessions built in tests: it
// discards writes and never yields data on read, so handlers exercising
// the interleaved write path (e.g. RTCP sender reports during PLAY)
// have a non-nil socket to write to instead of dereferencing nil.
type discardConn struct{}

func (discardConn) Read([]byte) (int, error)         { return 0, io.EOF }
func (discardConn) Write(b []byte) (int, error)      { return len(b), nil }
func (discardConn) Close() error                     { return nil }
func (discardConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (discardConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (discardConn) SetDeadline(time.Time) error      { return nil }
func (discardConn) SetReadDeadline(time.Time) error  { return nil }
func (discardConn) SetWriteDeadline(time.Time) error { return nil }

func testMedia(control string) *description.Media {
	return &description.Media{
		Type:    description.MediaTypeVideo,
		Control: control,
		Formats: []format.Format{&format.H264{PayloadTyp: 96}},
	}
}

func newReadySource(t *testing.T, name string) *source.Source {
	src := source.New(name, nil, func(*source.Source) error { return nil }, func(*source.Source) {})
	require.NoError(t, src.Start())

	media := testMedia("track1")
	ctx := &source.TransportContext{Media: media, RTCPEnabled: true}
	src.SetSessionDescription(&description.Session{Medias: []*description.Media{media}}, []*source.TransportContext{ctx})
	src.MarkMediaReceived(ctx, time.Now(), 1000, 1)
	require.True(t, src.Ready())
	return src
}

func newTestDeps(t *testing.T) (*Deps, *source.Registry, *rtspsession.Registry) {
	sources := source.NewRegistry()
	sessions := rtspsession.NewRegistry()
	ports := NewPortAllocator(30000, 30100)
	deps := NewDeps(sources, sessions, nil, ports)
	return deps, sources, sessions
}

func newTCPSession(sessions *rtspsession.Registry) *rtspsession.Session {
	sess := rtspsession.New(rtspsession.ProtoTCP, discardConn{}, "127.0.0.1:5000", "127.0.0.1:554")
	sessions.Add(sess)
	return sess
}

func req(method, uri, cseq string, header wire.Header) *wire.Request {
	if header == nil {
		header = wire.Header{}
	}
	header["CSeq"] = cseq
	return &wire.Request{Method: method, URI: uri, VersionMajor: 1, VersionMinor: 0, Header: header}
}

func TestDispatchOptionsHappyPath(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newReadySource(t, "cam1")
	require.NoError(t, sources.Add(src))

	sess := newTCPSession(sessions)
	res := deps.Dispatch(sess, req("OPTIONS", "rtsp://127.0.0.1/live/cam1", "1", nil))

	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, "1", res.Header["CSeq"])
}

func TestDispatchMissingCSeqRejected(t *testing.T) {
	deps, _, sessions := newTestDeps(t)
	sess := newTCPSession(sessions)

	res := deps.Dispatch(sess, &wire.Request{Method: "OPTIONS", URI: "rtsp://x/live/cam1", Header: wire.Header{}})
	require.Equal(t, 400, res.StatusCode)
}

func TestDispatchDuplicateCSeqDropped(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newReadySource(t, "cam1")
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	res1 := deps.Dispatch(sess, req("OPTIONS", "rtsp://127.0.0.1/live/cam1", "5", nil))
	require.NotNil(t, res1)

	res2 := deps.Dispatch(sess, req("OPTIONS", "rtsp://127.0.0.1/live/cam1", "5", nil))
	require.Nil(t, res2)
}

func TestDescribeRequiresSDPAccept(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newReadySource(t, "cam1")
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	res := deps.Dispatch(sess, req("DESCRIBE", "rtsp://127.0.0.1/live/cam1", "1", nil))
	require.Equal(t, 400, res.StatusCode)
}

func TestDescribeNotReadySource(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := source.New("cam1", nil, func(*source.Source) error { return nil }, func(*source.Source) {})
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	res := deps.Dispatch(sess, req("DESCRIBE", "rtsp://127.0.0.1/live/cam1", "1", wire.Header{"Accept": "application/sdp"}))
	require.Equal(t, 405, res.StatusCode)
}

func TestDescribeUnknownSource404(t *testing.T) {
	deps, _, sessions := newTestDeps(t)
	sess := newTCPSession(sessions)

	res := deps.Dispatch(sess, req("DESCRIBE", "rtsp://127.0.0.1/live/unknown", "1", wire.Header{"Accept": "application/sdp"}))
	require.Equal(t, 404, res.StatusCode)
}

func TestDescribeHappyPath(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newReadySource(t, "cam1")
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	res := deps.Dispatch(sess, req("DESCRIBE", "rtsp://127.0.0.1/live/cam1", "1", wire.Header{"Accept": "application/sdp"}))
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, "application/sdp", res.Header["Content-Type"])
	require.NotEmpty(t, res.Body)
}

func TestSetupThenPlayThenTeardownTCP(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newReadySource(t, "cam1")
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	setupRes := deps.Dispatch(sess, req("SETUP", "rtsp://127.0.0.1/live/cam1/track1", "1",
		wire.Header{"Transport": "RTP/AVP/TCP;unicast;interleaved=0-1"}))
	require.Equal(t, 200, setupRes.StatusCode)
	require.Contains(t, setupRes.Header["Transport"], "interleaved=0-1")
	token := setupRes.Header["Session"]
	require.NotEmpty(t, token)
	require.Equal(t, rtspsession.Ready, sess.State())

	playRes := deps.Dispatch(sess, req("PLAY", "rtsp://127.0.0.1/live/cam1", "2", nil))
	require.Equal(t, 200, playRes.StatusCode)
	require.Equal(t, rtspsession.Playing, sess.State())
	require.NotEmpty(t, playRes.Header["RTP-Info"])

	teardownRes := deps.Dispatch(sess, req("TEARDOWN", "rtsp://127.0.0.1/live/cam1", "3", nil))
	require.Equal(t, 200, teardownRes.StatusCode)
	require.Equal(t, rtspsession.StateNew, sess.State())
	require.Empty(t, sess.ClientContexts())
}

func TestSetupForceTCPRejectsUDP(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newReadySource(t, "cam1")
	src.ForceTCP = true
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	res := deps.Dispatch(sess, req("SETUP", "rtsp://127.0.0.1/live/cam1/track1", "1",
		wire.Header{"Transport": "RTP/AVP;unicast;client_port=4000-4001"}))
	require.Equal(t, 461, res.StatusCode)
}

func TestSetupUnknownTrack404(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newReadySource(t, "cam1")
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	res := deps.Dispatch(sess, req("SETUP", "rtsp://127.0.0.1/live/cam1/track99", "1",
		wire.Header{"Transport": "RTP/AVP/TCP;unicast;interleaved=0-1"}))
	require.Equal(t, 404, res.StatusCode)
}

func TestPlayWithoutSetupRejected(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newReadySource(t, "cam1")
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	res := deps.Dispatch(sess, req("PLAY", "rtsp://127.0.0.1/live/cam1", "1", nil))
	require.Equal(t, 405, res.StatusCode)
}

func TestPauseWithoutPlayingRejected(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newReadySource(t, "cam1")
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	deps.Dispatch(sess, req("SETUP", "rtsp://127.0.0.1/live/cam1/track1", "1",
		wire.Header{"Transport": "RTP/AVP/TCP;unicast;interleaved=0-1"}))

	res := deps.Dispatch(sess, req("PAUSE", "rtsp://127.0.0.1/live/cam1", "2", nil))
	require.Equal(t, 405, res.StatusCode)
}

func TestSessionHijackDefenseRejectsForeignRemote(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newReadySource(t, "cam1")
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	setupRes := deps.Dispatch(sess, req("SETUP", "rtsp://127.0.0.1/live/cam1/track1", "1",
		wire.Header{"Transport": "RTP/AVP/TCP;unicast;interleaved=0-1"}))
	token := setupRes.Header["Session"]
	require.NotEmpty(t, token)

	attacker := rtspsession.New(rtspsession.ProtoTCP, nil, "10.0.0.9:6000", "127.0.0.1:554")
	sessions.Add(attacker)

	res := deps.Dispatch(attacker, req("PLAY", "rtsp://127.0.0.1/live/cam1", "2", wire.Header{"Session": token}))
	require.Equal(t, 401, res.StatusCode)
}

func TestAuthChallengeThenDigestSuccess(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newReadySource(t, "cam1")
	src.AuthScheme = rtspauth.Digest
	src.Credential = &rtspauth.Credential{User: "alice", Pass: "secret"}
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	challengeRes := deps.Dispatch(sess, req("DESCRIBE", "rtsp://127.0.0.1/live/cam1", "1", wire.Header{"Accept": "application/sdp"}))
	require.Equal(t, 401, challengeRes.StatusCode)
	require.Contains(t, challengeRes.Header["WWW-Authenticate"], "Digest")

	digestHex := func(s string) string {
		sum := md5.Sum([]byte(s))
		return hex.EncodeToString(sum[:])
	}
	challenge := deps.challengeFor(src)
	uri := "rtsp://127.0.0.1/live/cam1"
	ha1 := digestHex("alice:" + challenge.Realm + ":secret")
	ha2 := digestHex("DESCRIBE:" + uri)
	response := digestHex(ha1 + ":" + challenge.Nonce + ":00000001:" + challenge.Cnonce + ":auth:" + ha2)
	authHeader := fmt.Sprintf(
		`Digest username="alice",realm="%s",nonce="%s",uri="%s",response="%s",nc=00000001,cnonce="%s",qop=auth`,
		challenge.Realm, challenge.Nonce, uri, response, challenge.Cnonce)

	successRes := deps.Dispatch(sess, req("DESCRIBE", uri, "2",
		wire.Header{"Accept": "application/sdp", "Authorization": authHeader}))
	require.Equal(t, 200, successRes.StatusCode)
}

func TestPauseAndTeardownRequireAuthentication(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newReadySource(t, "cam1")
	src.AuthScheme = rtspauth.Digest
	src.Credential = &rtspauth.Credential{User: "alice", Pass: "secret"}
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	pauseRes := deps.Dispatch(sess, req("PAUSE", "rtsp://127.0.0.1/live/cam1", "1", nil))
	require.Equal(t, 401, pauseRes.StatusCode)

	teardownRes := deps.Dispatch(sess, req("TEARDOWN", "rtsp://127.0.0.1/live/cam1", "2", nil))
	require.Equal(t, 401, teardownRes.StatusCode)
}

func TestTeardownOnFullSourceURLTearsDownAllTracks(t *testing.T) {
	deps, sources, sessions := newTestDeps(t)
	src := newTwoTrackReadySource(t, "cam1")
	require.NoError(t, sources.Add(src))
	sess := newTCPSession(sessions)

	deps.Dispatch(sess, req("SETUP", "rtsp://127.0.0.1/live/cam1/track1", "1",
		wire.Header{"Transport": "RTP/AVP/TCP;unicast;interleaved=0-1"}))
	deps.Dispatch(sess, req("SETUP", "rtsp://127.0.0.1/live/cam1/track2", "2",
		wire.Header{"Transport": "RTP/AVP/TCP;unicast;interleaved=2-3"}))
	require.Len(t, sess.ClientContexts(), 2)

	playRes := deps.Dispatch(sess, req("PLAY", "rtsp://127.0.0.1/live/cam1", "3", nil))
	require.Equal(t, 200, playRes.StatusCode)

	// A full TEARDOWN's URL ends in the source key, not a track control
	// value, and must tear down every attached track in one call.
	teardownRes := deps.Dispatch(sess, req("TEARDOWN", "rtsp://127.0.0.1/live/cam1", "4", nil))
	require.Equal(t, 200, teardownRes.StatusCode)
	require.Equal(t, rtspsession.StateNew, sess.State())
	require.Empty(t, sess.ClientContexts())
}
