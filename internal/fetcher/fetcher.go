// Package fetcher retrieves signed entity statements from well-known
// configuration URLs and superior fetch/list endpoints (§4.1), coalescing
// concurrent requests for the same (iss, sub) and bounding total in-flight
// HTTP requests (§5).
package fetcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/jws"

	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/ferrors"
	"github.com/inahga/trustfed/internal/statement"
	"github.com/inahga/trustfed/internal/verifier"
)

const (
	entityStatementContentType = "application/entity-statement+jwt"
	listContentType            = "application/json"
)

// Config configures a Fetcher.
type Config struct {
	HTTPTimeout     time.Duration // per-request timeout, default 10s
	MaxConcurrent   int           // global in-flight HTTP request cap, default 32
	MaxRetries      int           // retry attempts for transient network errors, default 2
	Insecure        bool          // disable TLS verification, default false
	DefaultCacheTTL time.Duration // cache TTL cap, also used when a statement's own exp is unusable, default 5m
	Skew            time.Duration // clock skew tolerance, default verifier.DefaultSkew
	Now             func() time.Time
}

func (c *Config) setDefaults() {
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 32
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.DefaultCacheTTL == 0 {
		c.DefaultCacheTTL = 5 * time.Minute
	}
	if c.Skew == 0 {
		c.Skew = verifier.DefaultSkew
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Fetcher is the stateful-over-a-run façade described in §4.1: stateless
// per call except for its cache and single-flight bookkeeping.
type Fetcher struct {
	cfg   Config
	http  *httpClient
	cache *statementCache

	mu       sync.Mutex
	inflight map[string]*call
}

type call struct {
	done chan struct{}
	stmt *statement.Statement
	err  error
}

// New constructs a Fetcher with defaults applied to any zero-valued Config
// fields.
func New(cfg Config) *Fetcher {
	cfg.setDefaults()
	return &Fetcher{
		cfg:      cfg,
		http:     newHTTPClient(cfg),
		cache:    newStatementCache(cfg.DefaultCacheTTL),
		inflight: make(map[string]*call),
	}
}

// singleflight ensures only one fetch for key is in progress at a time;
// concurrent callers for the same key share the result (§5 Single-flight).
func (f *Fetcher) singleflight(key string, fn func() (*statement.Statement, error)) (*statement.Statement, error) {
	f.mu.Lock()
	if c, ok := f.inflight[key]; ok {
		f.mu.Unlock()
		<-c.done
		return c.stmt, c.err
	}
	c := &call{done: make(chan struct{})}
	f.inflight[key] = c
	f.mu.Unlock()

	c.stmt, c.err = fn()
	close(c.done)

	f.mu.Lock()
	delete(f.inflight, key)
	f.mu.Unlock()

	return c.stmt, c.err
}

// FetchConfiguration retrieves and verifies id's self-signed entity
// configuration from its well-known URL (§4.1).
func (f *Fetcher) FetchConfiguration(ctx context.Context, id entityid.ID) (*statement.Statement, error) {
	if s, ok := f.cache.get(id, id); ok {
		return s, nil
	}
	key := cacheKey(id, id)
	return f.singleflight(key, func() (*statement.Statement, error) {
		if s, ok := f.cache.get(id, id); ok {
			return s, nil
		}
		body, err := f.http.get(ctx, id.WellKnown(), entityStatementContentType)
		if err != nil {
			return nil, err
		}
		s, err := f.verifySelfSigned(body, id)
		if err != nil {
			return nil, err
		}
		f.cache.put(s)
		return s, nil
	})
}

// verifySelfSigned verifies a compact JWS as a self-signed bootstrap
// statement: signature checked against the JWKS embedded in its own
// payload, and iss == sub == expected.
func (f *Fetcher) verifySelfSigned(compact []byte, expected entityid.ID) (*statement.Statement, error) {
	msg, err := jws.Parse(compact)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindMalformedJWS, string(expected), err)
	}
	unverified, err := statement.Parse(msg.Payload(), string(compact))
	if err != nil {
		return nil, err
	}
	if unverified.Issuer != unverified.Subject || unverified.Subject != expected {
		return nil, ferrors.New(ferrors.KindIssuerSubjectMismatch, string(expected), "self-signed statement iss=%s sub=%s, expected %s", unverified.Issuer, unverified.Subject, expected)
	}
	if unverified.JWKS == nil {
		return nil, ferrors.New(ferrors.KindMalformedJWS, string(expected), "self-signed statement missing jwks")
	}
	payload, err := verifier.Verify(compact, unverified.JWKS, string(expected), verifier.Options{Now: f.cfg.Now(), Skew: f.cfg.Skew})
	if err != nil {
		return nil, err
	}
	return statement.Parse(payload, string(compact))
}

// FetchSubordinate retrieves and verifies the subordinate statement issuer
// issues about subject, via issuer's federation_fetch_endpoint (§4.1).
func (f *Fetcher) FetchSubordinate(ctx context.Context, issuer, subject entityid.ID) (*statement.Statement, error) {
	if s, ok := f.cache.get(issuer, subject); ok {
		return s, nil
	}
	key := cacheKey(issuer, subject)
	return f.singleflight(key, func() (*statement.Statement, error) {
		if s, ok := f.cache.get(issuer, subject); ok {
			return s, nil
		}
		issuerStmt, err := f.FetchConfiguration(ctx, issuer)
		if err != nil {
			return nil, err
		}
		endpoint, ok := issuerStmt.FetchEndpoint()
		if !ok {
			return nil, ferrors.New(ferrors.KindMissingEndpoint, string(issuer), "issuer has no federation_fetch_endpoint")
		}
		url, err := buildURL(endpoint, fetchQuery{Sub: string(subject), Iss: string(issuer)})
		if err != nil {
			return nil, ferrors.Wrap(ferrors.KindMalformedJWS, string(subject), err)
		}
		body, err := f.http.get(ctx, url, entityStatementContentType)
		if err != nil {
			return nil, err
		}
		payload, err := verifier.Verify(body, issuerStmt.JWKS, string(subject), verifier.Options{Now: f.cfg.Now(), Skew: f.cfg.Skew})
		if err != nil {
			return nil, err
		}
		s, err := statement.Parse(payload, string(body))
		if err != nil {
			return nil, err
		}
		if s.Issuer != issuer || s.Subject != subject {
			return nil, ferrors.New(ferrors.KindIssuerSubjectMismatch, string(subject), "subordinate statement iss=%s sub=%s, expected iss=%s sub=%s", s.Issuer, s.Subject, issuer, subject)
		}
		f.cache.put(s)
		return s, nil
	})
}

// ListSubordinates retrieves the set of subordinate entity IDs id lists,
// optionally filtered by entityType (§4.1).
func (f *Fetcher) ListSubordinates(ctx context.Context, id entityid.ID, entityType string) ([]entityid.ID, error) {
	stmt, err := f.FetchConfiguration(ctx, id)
	if err != nil {
		return nil, err
	}
	endpoint, ok := stmt.ListEndpoint()
	if !ok {
		return nil, ferrors.New(ferrors.KindMissingEndpoint, string(id), "entity has no federation_list_endpoint")
	}
	url, err := buildURL(endpoint, listQuery{EntityType: entityType})
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindMalformedJWS, string(id), err)
	}
	body, err := f.http.get(ctx, url, listContentType)
	if err != nil {
		return nil, err
	}
	var raw []string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ferrors.Wrap(ferrors.KindMalformedJWS, string(id), err)
	}
	out := make([]entityid.ID, 0, len(raw))
	for _, r := range raw {
		nid, err := entityid.Normalize(r)
		if err != nil {
			continue
		}
		out = append(out, nid)
	}
	return out, nil
}
