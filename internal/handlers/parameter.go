package handlers

import (
	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/wire"
)

func (d *Deps) handleGetParameter(sess *rtspsession.Session, req *wire.Request) (*wire.Response, error) {
	if err := d.checkSessionOwnership(sess, req); err != nil {
		return nil, err
	}
	sess.Touch()
	return &wire.Response{StatusCode: 200}, nil
}

func (d *Deps) handleSetParameter(sess *rtspsession.Session, req *wire.Request) (*wire.Response, error) {
	if err := d.checkSessionOwnership(sess, req); err != nil {
		return nil, err
	}
	sess.Touch()
	return &wire.Response{StatusCode: 200}, nil
}
