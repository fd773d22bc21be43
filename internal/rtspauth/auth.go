// Package rtspauth implements Basic and Digest challenge/response
// authentication, in the style of gortsplib's pkg/auth
// Validate/Verify/GenerateWWWAuthenticate, using the RFC 2617
// algorithm with lowercase hex MD5 throughout.
package rtspauth

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Scheme identifies which challenge a source requires.
type Scheme int

// Supported authentication schemes.
const (
	None Scheme = iota
	Basic
	Digest
)

// Credential is the username/password pair a source is protected by.
type Credential struct {
	User string
	Pass string
}

// Challenge carries server-generated nonce material for a Digest challenge.
type Challenge struct {
	Realm  string
	Nonce  string
	Cnonce string
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewChallenge draws fresh nonce/cnonce material from a CSPRNG.
func NewChallenge(realm string) (*Challenge, error) {
	nonce, err := randomHex(16) // 32 hex chars
	if err != nil {
		return nil, err
	}
	cnonce, err := randomHex(4) // 8 hex chars
	if err != nil {
		return nil, err
	}
	return &Challenge{Realm: realm, Nonce: nonce, Cnonce: cnonce}, nil
}

// WWWAuthenticate renders the WWW-Authenticate header for the given scheme.
func (c *Challenge) WWWAuthenticate(scheme Scheme) string {
	switch scheme {
	case Basic:
		realm := c.Realm
		if realm == "" {
			realm = "//"
		}
		return fmt.Sprintf(`Basic realm=%q`, realm)
	case Digest:
		return fmt.Sprintf(`Digest username=%q,realm=%q,nonce=%s,cnonce=%s`,
			"", c.Realm, c.Nonce, c.Cnonce)
	default:
		return ""
	}
}

// parsed Authorization header.
type authorization struct {
	scheme   string
	user     string
	pass     string // Basic only
	realm    string
	nonce    string
	uri      string
	response string
	nc       string
	cnonce   string
	qop      string
}

func parseAuthorization(value string) (*authorization, error) {
	value = strings.TrimSpace(value)

	switch {
	case strings.HasPrefix(value, "Basic "):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value[len("Basic "):]))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 in Authorization: %w", err)
		}
		parts := strings.SplitN(string(decoded), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed Basic credentials")
		}
		return &authorization{scheme: "Basic", user: parts[0], pass: parts[1]}, nil

	case strings.HasPrefix(value, "Digest "):
		a := &authorization{scheme: "Digest"}
		fields := strings.TrimSpace(value[len("Digest "):])
		for _, kv := range splitCommaSeparated(fields) {
			idx := strings.IndexByte(kv, '=')
			if idx < 0 {
				continue
			}
			key := strings.TrimSpace(kv[:idx])
			val := strings.Trim(strings.TrimSpace(kv[idx+1:]), `"`)
			switch strings.ToLower(key) {
			case "username":
				a.user = val
			case "realm":
				a.realm = val
			case "nonce":
				a.nonce = val
			case "uri":
				a.uri = val
			case "response":
				a.response = val
			case "nc":
				a.nc = val
			case "cnonce":
				a.cnonce = val
			case "qop":
				a.qop = val
			}
		}
		if a.user == "" || a.realm == "" || a.uri == "" || a.response == "" {
			return nil, fmt.Errorf("digest Authorization missing required field")
		}
		return a, nil

	default:
		return nil, fmt.Errorf("unsupported Authorization scheme")
	}
}

// splitCommaSeparated splits a Digest field list on commas that are not
// inside a quoted string.
func splitCommaSeparated(s string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// Result is the outcome of Verify.
type Result int

// Verification outcomes.
const (
	// ResultOK means the request is authenticated.
	ResultOK Result = iota
	// ResultMissing means no Authorization header was supplied (⇒ 401).
	ResultMissing
	// ResultBadCredentials means the header was present but wrong (⇒ 403).
	ResultBadCredentials
)

// Verify checks the Authorization header (if any) of a request against
// a stored credential.
func Verify(
	scheme Scheme,
	cred Credential,
	challenge *Challenge,
	authorizationHeader string,
	method string,
	requestURI string,
) Result {
	if authorizationHeader == "" {
		return ResultMissing
	}

	a, err := parseAuthorization(authorizationHeader)
	if err != nil {
		return ResultBadCredentials
	}

	switch scheme {
	case Basic:
		if a.scheme != "Basic" {
			return ResultBadCredentials
		}
		if subtle.ConstantTimeCompare([]byte(a.user), []byte(cred.User)) != 1 ||
			subtle.ConstantTimeCompare([]byte(a.pass), []byte(cred.Pass)) != 1 {
			return ResultBadCredentials
		}
		return ResultOK

	case Digest:
		if a.scheme != "Digest" {
			return ResultBadCredentials
		}
		if a.nonce != challenge.Nonce {
			return ResultBadCredentials
		}
		if subtle.ConstantTimeCompare([]byte(a.user), []byte(cred.User)) != 1 {
			return ResultBadCredentials
		}

		ha1 := md5Hex(a.user + ":" + a.realm + ":" + cred.Pass)
		ha2 := md5Hex(method + ":" + a.uri)

		nc := a.nc
		cnonce := a.cnonce
		qop := a.qop

		expected := md5Hex(ha1 + ":" + a.nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + ha2)

		if subtle.ConstantTimeCompare([]byte(a.response), []byte(expected)) != 1 {
			return ResultBadCredentials
		}
		return ResultOK

	default:
		return ResultOK
	}
}
