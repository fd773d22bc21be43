package handlers

import (
	"strings"

	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/wire"
)

func (d *Deps) handleOptions(sess *rtspsession.Session, req *wire.Request) (*wire.Response, error) {
	if _, err := d.resolveSource(req); err != nil {
		return nil, err
	}

	return &wire.Response{
		StatusCode: 200,
		Header:     wire.Header{"Public": "DESCRIBE, SETUP, PLAY, PAUSE, TEARDOWN, GET_PARAMETER"},
	}, nil
}

func (d *Deps) handleDescribe(sess *rtspsession.Session, req *wire.Request) (*wire.Response, error) {
	accept, _ := req.Header.Get("Accept")
	if strings.TrimSpace(accept) != "application/sdp" {
		return nil, errMalformedRequest("Accept: application/sdp required")
	}

	src, err := d.resolveSource(req)
	if err != nil {
		return nil, err
	}

	if res := d.authenticate(src, req); res != nil {
		return res, nil
	}

	if !src.Ready() {
		return nil, errMethodNotAllowed("source not ready")
	}

	desc := src.SessionDescription()
	body, err := desc.Marshal()
	if err != nil {
		return nil, errMalformedRequest("failed to render session description")
	}

	contentBase := req.URI
	if strings.Contains(strings.ToLower(req.URI), "/live/") {
		contentBase = "rtsp://" + sess.LocalID + "/live/" + src.ID.String() + "/"
	}

	return &wire.Response{
		StatusCode: 200,
		Header: wire.Header{
			"Content-Base": contentBase,
			"Content-Type": "application/sdp",
		},
		Body: body,
	}, nil
}
