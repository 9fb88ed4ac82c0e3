// Package entityid normalises and validates OpenID Federation entity
// identifiers (§3 of the federation data model: absolute URLs without
// trailing-slash ambiguity). Normalize accepts both https and http schemes;
// it does not restrict identifiers to HTTPS.
package entityid

import (
	"net/url"
	"strings"

	"github.com/inahga/trustfed/internal/ferrors"
)

// ID is a normalised entity identifier: lowercase scheme/host, path kept
// verbatim (minus a trailing slash), fragment and query stripped.
type ID string

// Normalize validates and normalises raw as an entity identifier.
func Normalize(raw string) (ID, error) {
	if raw == "" {
		return "", ferrors.New(ferrors.KindInvalidEntityID, raw, "empty entity id")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ferrors.Wrap(ferrors.KindInvalidEntityID, raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", ferrors.New(ferrors.KindInvalidEntityID, raw, "not an absolute URL")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && scheme != "http" {
		return "", ferrors.New(ferrors.KindInvalidEntityID, raw, "scheme must be http(s)")
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawQuery = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return ID(u.String()), nil
}

// MustNormalize is Normalize but panics on error; reserved for literals in
// tests and fixtures.
func MustNormalize(raw string) ID {
	id, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the normalised identifier string.
func (id ID) String() string { return string(id) }

// WellKnown returns the entity configuration URL for id.
func (id ID) WellKnown() string {
	return string(id) + "/.well-known/openid-federation"
}

// Equal reports whether two raw identifiers normalise to the same ID.
func Equal(a, b string) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return na == nb
}
