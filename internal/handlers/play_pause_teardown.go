package handlers

import (
	"strings"

	"github.com/aler9/rtsp-gateway/internal/rtspheaders"
	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/source"
	"github.com/aler9/rtsp-gateway/internal/wire"
)

func (d *Deps) handlePlay(sess *rtspsession.Session, req *wire.Request) (*wire.Response, error) {
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

	if res := d.authenticate(src, req); res != nil {
		return res, nil
	}

	clientCtxs := sess.ClientContexts()
	if len(clientCtxs) == 0 {
		return nil, errMethodNotAllowed("no tracks set up")
	}

	rangeHeader, hasRange := req.Header.Get("Range")
	if d.RequireRangeHeader && !hasRange {
		return nil, errMalformedRequest("Range header required")
	}

	var rng *rtspheaders.Range
	if hasRange {
		rng, err = rtspheaders.ParseRange(rangeHeader)
		if err != nil {
			return nil, errMalformedRequest(err.Error())
		}
	}

	sess.SetAttachedSource(src)
	sess.SetState(rtspsession.Playing)

	mc := sess.MediaClient()
	if mc != nil {
		mc.SendSendersReports()
	}

	entries := make([]rtspheaders.RTPInfoEntry, 0, len(clientCtxs))
	for i, ctx := range clientCtxs {
		url := trackURL(req.URI, ctx)
		srcCtxs := sess.SourceContexts()
		var rtpTime uint32
		var seq uint16
		if i < len(srcCtxs) {
			rtpTime = srcCtxs[i].LastRTPTime
			seq = srcCtxs[i].LastSeq
		}
		entries = append(entries, rtspheaders.RTPInfoEntry{URL: url, Seq: seq, RTPTime: rtpTime})
	}

	header := wire.Header{"RTP-Info": rtspheaders.BuildRTPInfo(entries)}
	if rng != nil {
		header["Range"] = rng.String()
	}

	return &wire.Response{StatusCode: 200, Header: header}, nil
}

func (d *Deps) handlePause(sess *rtspsession.Session, req *wire.Request) (*wire.Response, error) {
	if err := d.checkSessionOwnership(sess, req); err != nil {
		return nil, err
	}
	src, err := d.resolveSource(req)
	if err != nil {
		return nil, err
	}
	if res := d.authenticate(src, req); res != nil {
		return res, nil
	}

	if sess.State() != rtspsession.Playing {
		return nil, errMethodNotAllowed("not playing")
	}

	sess.SetAttachedSource(nil)
	sess.SetState(rtspsession.Ready)

	return &wire.Response{StatusCode: 200}, nil
}

func (d *Deps) handleTeardown(sess *rtspsession.Session, req *wire.Request) (*wire.Response, error) {
	if err := d.checkSessionOwnership(sess, req); err != nil {
		return nil, err
	}
	src, err := d.resolveSource(req)
	if err != nil {
		return nil, err
	}
	if res := d.authenticate(src, req); res != nil {
		return res, nil
	}

	track := trackControlSuffix(req.URI)
	mc := sess.MediaClient()

	// The suffix only names a track when it matches one of this
	// Session's set-up tracks; a full TEARDOWN's URL ends in the
	// source key instead (e.g. rtsp://host/live/cam1), which never
	// matches an a=control: value.
	target := findClientContextByTrack(sess, track)
	if target == nil {
		if mc != nil {
			mc.SendGoodbyes()
			mc.Disconnect()
		}
		sess.ClearTracks()
		sess.SetAttachedSource(nil)
		// Left in New rather than Closed here: a full TEARDOWN leaves
		// the Session registered under its token, and a later SETUP on
		// it starts over. The Registry entry is dropped when the TCP
		// bridge sees its connection close (Session.Close), or, for
		// UDP-seeded and HTTP-tunnel sessions, when Maintenance's
		// inactivity sweep culls it.
		sess.SetState(rtspsession.StateNew)
		return &wire.Response{StatusCode: 200}, nil
	}

	if mc != nil {
		remaining := mc.RemoveContext(target)
		sess.RemoveTrack(target)
		if remaining == 0 {
			mc.SendGoodbyes()
			mc.Disconnect()
			sess.SetAttachedSource(nil)
			sess.SetState(rtspsession.StateNew)
		}
	}

	return &wire.Response{StatusCode: 200}, nil
}

// trackURL builds the RTP-Info url for ctx relative to the PLAY
// request's own URI: the track's a=control: attribute is a suffix, not
// a full URL, so it is appended to the request URI rather than used
// verbatim.
func trackURL(requestURI string, ctx *source.TransportContext) string {
	if ctx.Media == nil || ctx.Media.Control == "" {
		return requestURI
	}
	return strings.TrimRight(requestURI, "/") + "/" + ctx.Media.Control
}

func findClientContextByTrack(sess *rtspsession.Session, track string) *source.TransportContext {
	for _, ctx := range sess.ClientContexts() {
		if ctx.Media == nil {
			continue
		}
		if ctx.Media.Control == track {
			return ctx
		}
	}
	return nil
}
