// Package handlers implements the OPTIONS/DESCRIBE/SETUP/PLAY/PAUSE/
// TEARDOWN/GET_PARAMETER/SET_PARAMETER method handlers, each consuming a
// parsed request plus its Session and emitting a response.
package handlers

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aler9/rtsp-gateway/internal/logger"
	"github.com/aler9/rtsp-gateway/internal/rtspauth"
	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/source"
	"github.com/aler9/rtsp-gateway/internal/wire"
)

// Deps are the collaborators every handler needs.
type Deps struct {
	Sources  *source.Registry
	Sessions *rtspsession.Registry
	Logger   *logger.Logger
	Ports    *PortAllocator

	ServerName             string
	RequireUserAgent       bool
	RequireRangeHeader     bool
	SessionTimeoutSeconds  int

	challengeMu sync.Mutex
	challenges  map[uuid.UUID]*rtspauth.Challenge
}

// NewDeps constructs Deps with its internal challenge cache initialised.
func NewDeps(sources *source.Registry, sessions *rtspsession.Registry, lg *logger.Logger, ports *PortAllocator) *Deps {
	return &Deps{
		Sources:    sources,
		Sessions:   sessions,
		Logger:     lg,
		Ports:      ports,
		challenges: make(map[uuid.UUID]*rtspauth.Challenge),
	}
}

// Dispatch routes one parsed request to its handler. A nil return means
// the request was a detected duplicate and must not be written back.
func (d *Deps) Dispatch(sess *rtspsession.Session, req *wire.Request) *wire.Response {
	cseq, ok := req.Header.Get("CSeq")
	if !ok || strings.TrimSpace(cseq) == "" {
		return d.finalize(sess, req, "", nil, errMalformedRequest("missing CSeq"))
	}

	sess.Touch()

	if sess.IsDuplicate(cseq) {
		return nil
	}

	if req.VersionMajor > 1 || (req.VersionMajor == 1 && req.VersionMinor > 0) {
		return d.finalize(sess, req, cseq, nil, errVersionNotSupported())
	}

	if d.RequireUserAgent {
		if _, ok := req.Header.Get("User-Agent"); !ok {
			return d.finalize(sess, req, cseq, nil, errMalformedRequest("User-Agent header required"))
		}
	}

	if d.Logger != nil {
		d.Logger.Log(logger.Debug, "%s %s from %s", req.Method, req.URI, sess.RemoteID)
	}

	var res *wire.Response
	var err error

	switch req.Method {
	case "OPTIONS":
		res, err = d.handleOptions(sess, req)
	case "DESCRIBE":
		res, err = d.handleDescribe(sess, req)
	case "SETUP":
		res, err = d.handleSetup(sess, req)
	case "PLAY":
		res, err = d.handlePlay(sess, req)
	case "PAUSE":
		res, err = d.handlePause(sess, req)
	case "TEARDOWN":
		res, err = d.handleTeardown(sess, req)
	case "GET_PARAMETER":
		res, err = d.handleGetParameter(sess, req)
	case "SET_PARAMETER":
		res, err = d.handleSetParameter(sess, req)
	default:
		err = errMethodNotAllowed("method not implemented: " + req.Method)
	}

	if err != nil && d.Logger != nil {
		d.Logger.Log(logger.Warn, "%s %s failed: %v", req.Method, req.URI, err)
	}

	return d.finalize(sess, req, cseq, res, err)
}

func (d *Deps) finalize(sess *rtspsession.Session, req *wire.Request, cseq string, res *wire.Response, err error) *wire.Response {
	out := res
	if err != nil {
		out = d.errorResponse(err)
	}
	if out == nil {
		out = &wire.Response{StatusCode: 200}
	}
	if out.Header == nil {
		out.Header = wire.Header{}
	}
	if cseq != "" {
		out.Header["CSeq"] = cseq
	}

	sess.RecordExchange(req, out)
	return out
}

func (d *Deps) errorResponse(err error) *wire.Response {
	if se, ok := err.(*StatusError); ok {
		return &wire.Response{StatusCode: se.Code}
	}
	return &wire.Response{StatusCode: 400}
}

// resolveSource looks up the source named by the request URI, or returns
// a 404 error. The Session: token hijack defense is enforced separately
// by checkSessionOwnership.
func (d *Deps) resolveSource(req *wire.Request) (*source.Source, error) {
	src := d.Sources.Resolve(req.URI)
	if src == nil {
		return nil, errNotFound("no such source")
	}
	return src, nil
}

// checkSessionOwnership enforces that a Session: token in the request
// matches the Session servicing it, preventing off-path hijacking on
// connectionless transports.
func (d *Deps) checkSessionOwnership(sess *rtspsession.Session, req *wire.Request) error {
	tok, ok := req.Header.Get("Session")
	if !ok {
		return nil
	}
	tok = strings.TrimSpace(tok)
	owner := d.Sessions.FindByToken(tok)
	if owner == nil {
		return errSessionNotFound()
	}
	if owner.RemoteID != sess.RemoteID {
		return errUnauthorized()
	}
	return nil
}

// authenticate returns a ready-made 401/403 response if src requires
// authentication and the request fails it, or nil if the request may
// proceed.
func (d *Deps) authenticate(src *source.Source, req *wire.Request) *wire.Response {
	if src.AuthScheme == rtspauth.None || src.Credential == nil {
		return nil
	}

	challenge := d.challengeFor(src)
	authHeader, _ := req.Header.Get("Authorization")

	result := rtspauth.Verify(src.AuthScheme, *src.Credential, challenge, authHeader, req.Method, req.URI)
	switch result {
	case rtspauth.ResultOK:
		return nil
	case rtspauth.ResultMissing:
		return &wire.Response{
			StatusCode: 401,
			Header:     wire.Header{"WWW-Authenticate": challenge.WWWAuthenticate(src.AuthScheme)},
		}
	default:
		fe := errForbidden()
		return &wire.Response{StatusCode: fe.Code}
	}
}

func (d *Deps) challengeFor(src *source.Source) *rtspauth.Challenge {
	d.challengeMu.Lock()
	defer d.challengeMu.Unlock()

	if c, ok := d.challenges[src.ID]; ok {
		return c
	}
	c, err := rtspauth.NewChallenge(src.Name)
	if err != nil {
		c = &rtspauth.Challenge{Realm: src.Name}
	}
	d.challenges[src.ID] = c
	return c
}

// trackControlSuffix returns the final URI segment, used both to match
// a=control: attributes and to identify a TEARDOWN's target track.
func trackControlSuffix(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if idx := strings.LastIndexByte(uri, '/'); idx >= 0 {
		return uri[idx+1:]
	}
	return uri
}
