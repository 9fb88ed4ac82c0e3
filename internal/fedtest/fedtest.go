// Package fedtest runs small in-process federation participants over real
// HTTP listeners, for exercising the fetcher/explorer/resolver/discovery
// stack end to end in tests rather than stubbing transport away.
package fedtest

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwk"
	"github.com/lestrrat-go/jwx/jws"

	"crypto/rand"
	"crypto/rsa"

	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/statement"
)

// Entity is a federation participant with its own key pair, its own
// .well-known/openid-federation endpoint, and (once subordinates are
// granted) its own fetch and list endpoints.
type Entity struct {
	ID             entityid.ID
	AuthorityHints []entityid.ID
	Metadata       statement.Metadata
	MetadataPolicy statement.MetadataPolicy
	Constraints    *statement.Constraints
	TrustMarkIssuers map[string][]string

	priv *rsa.PrivateKey
	kid  string
	pub  jwk.Set

	trustMarks   []trustMarkClaim
	subordinates map[entityid.ID]*subordinateGrant

	listener net.Listener
	app      *fiber.App

	wellKnownHits atomic.Int64
}

type subordinateGrant struct {
	metadata       statement.Metadata
	metadataPolicy statement.MetadataPolicy
	constraints    *statement.Constraints
	expiresAt      time.Time // zero means the default one-hour TTL
}

// NewEntity allocates a loopback listener and derives the entity's ID from
// its address, generates an RSA key pair, and returns an unstarted Entity.
// Call Start once every AuthorityHints/AddSubordinate wiring is in place.
func NewEntity() (*Entity, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	id, err := entityid.Normalize(fmt.Sprintf("http://%s", ln.Addr().String()))
	if err != nil {
		return nil, err
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	pubKey, err := jwk.New(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	kid := uuid.NewString()
	if err := pubKey.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, err
	}
	if err := pubKey.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, err
	}
	pub := jwk.NewSet()
	pub.Add(pubKey)

	return &Entity{
		ID:           id,
		priv:         priv,
		kid:          kid,
		pub:          pub,
		Metadata:     statement.Metadata{},
		listener:     ln,
		subordinates: make(map[entityid.ID]*subordinateGrant),
	}, nil
}

// AddSubordinate grants child a subordinate statement from e, carrying
// metadata/policy/constraints, and adds e to child's authority_hints.
func (e *Entity) AddSubordinate(child *Entity, metadata statement.Metadata, policy statement.MetadataPolicy, constraints *statement.Constraints) {
	e.subordinates[child.ID] = &subordinateGrant{metadata: metadata, metadataPolicy: policy, constraints: constraints}
	child.AuthorityHints = append(child.AuthorityHints, e.ID)
}

// ExpireSubordinate overrides the exp claim of a previously granted
// subordinate statement, for exercising the expired-statement scenario
// (spec.md §8 scenario 3) without faking a JWS by hand.
func (e *Entity) ExpireSubordinate(child *Entity, expiresAt time.Time) {
	if grant, ok := e.subordinates[child.ID]; ok {
		grant.expiresAt = expiresAt
	}
}

// IssueTrustMark signs a trust mark JWT naming subject, using golang-jwt,
// mirroring statement.VerifyTrustMark's verification path.
func (e *Entity) IssueTrustMark(id string, subject entityid.ID, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"trust_mark_id": id,
		"iss":           string(e.ID),
		"sub":           string(subject),
		"iat":           now.Unix(),
		"exp":           now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = e.kid
	return token.SignedString(e.priv)
}

// CarryTrustMark adds a previously-issued trust mark JWT to e's own
// self-signed statement's trust_marks array.
func (e *Entity) CarryTrustMark(id, raw string) {
	e.trustMarks = append(e.trustMarks, trustMarkClaim{ID: id, TrustMark: raw})
}

// BaseURL is the entity's HTTP origin, usable directly in federation_entity
// metadata such as trust_anchors.
func (e *Entity) BaseURL() string { return string(e.ID) }

// WellKnownHits returns the number of times e's well-known configuration
// endpoint has been requested, for asserting single-flight coalescing.
func (e *Entity) WellKnownHits() int64 { return e.wellKnownHits.Load() }

// Start brings up e's fiber app on its pre-allocated listener, wiring
// well-known/fetch/list, and publishes its own federation_fetch_endpoint and
// federation_list_endpoint in Metadata.
func (e *Entity) Start() {
	fe := e.Metadata[statement.TypeFederationEntity]
	if fe == nil {
		fe = map[string]interface{}{}
	}
	fe["federation_fetch_endpoint"] = e.BaseURL() + "/federation/fetch"
	fe["federation_list_endpoint"] = e.BaseURL() + "/federation/list"
	e.Metadata[statement.TypeFederationEntity] = fe

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/.well-known/openid-federation", func(c *fiber.Ctx) error {
		e.wellKnownHits.Add(1)
		body, err := e.selfStatement(time.Now())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		c.Set(fiber.HeaderContentType, "application/entity-statement+jwt")
		return c.SendString(body)
	})

	app.Get("/federation/fetch", func(c *fiber.Ctx) error {
		id, err := entityid.Normalize(c.Query("sub"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		body, err := e.subordinateStatement(id, time.Now())
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		c.Set(fiber.HeaderContentType, "application/entity-statement+jwt")
		return c.SendString(body)
	})

	app.Get("/federation/list", func(c *fiber.Ctx) error {
		filter := statement.EntityType(c.Query("entity_type"))
		ids := make([]string, 0, len(e.subordinates))
		for id, grant := range e.subordinates {
			if filter != "" {
				if _, ok := grant.metadata[filter]; !ok {
					continue
				}
			}
			ids = append(ids, string(id))
		}
		return c.JSON(ids)
	})

	e.app = app
	go app.Listener(e.listener) //nolint:errcheck
}

// Close shuts down e's HTTP listener.
func (e *Entity) Close() {
	if e.app != nil {
		_ = e.app.Shutdown()
	}
}

func (e *Entity) sign(payload []byte) (string, error) {
	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.KeyIDKey, e.kid); err != nil {
		return "", err
	}
	signed, err := jws.Sign(payload, jwa.RS256, e.priv, jws.WithHeaders(hdrs))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// selfClaims mirrors statement's private wire payload shape so fedtest can
// author statements without depending on its unexported type.
type selfClaims struct {
	Issuer           string                     `json:"iss"`
	Subject          string                     `json:"sub"`
	IssuedAt         int64                      `json:"iat"`
	ExpiresAt        int64                      `json:"exp"`
	JWKS             jwk.Set                    `json:"jwks"`
	AuthorityHints   []string                   `json:"authority_hints,omitempty"`
	Metadata         statement.Metadata         `json:"metadata,omitempty"`
	MetadataPolicy   statement.MetadataPolicy   `json:"metadata_policy,omitempty"`
	TrustMarks       []trustMarkClaim           `json:"trust_marks,omitempty"`
	TrustMarkIssuers map[string][]string        `json:"trust_mark_issuers,omitempty"`
	Constraints      *statement.Constraints     `json:"constraints,omitempty"`
}

type subClaims struct {
	Issuer         string                   `json:"iss"`
	Subject        string                   `json:"sub"`
	IssuedAt       int64                    `json:"iat"`
	ExpiresAt      int64                    `json:"exp"`
	Metadata       statement.Metadata       `json:"metadata,omitempty"`
	MetadataPolicy statement.MetadataPolicy `json:"metadata_policy,omitempty"`
	Constraints    *statement.Constraints   `json:"constraints,omitempty"`
}

type trustMarkClaim struct {
	ID        string `json:"id"`
	TrustMark string `json:"trust_mark"`
}

func (e *Entity) selfStatement(now time.Time) (string, error) {
	claims := selfClaims{
		Issuer:           string(e.ID),
		Subject:          string(e.ID),
		IssuedAt:         now.Add(-time.Minute).Unix(),
		ExpiresAt:        now.Add(time.Hour).Unix(),
		JWKS:             e.pub,
		Metadata:         e.Metadata,
		MetadataPolicy:   e.MetadataPolicy,
		TrustMarks:       e.trustMarks,
		TrustMarkIssuers: e.TrustMarkIssuers,
		Constraints:      e.Constraints,
	}
	for _, h := range e.AuthorityHints {
		claims.AuthorityHints = append(claims.AuthorityHints, string(h))
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return e.sign(body)
}

func (e *Entity) subordinateStatement(child entityid.ID, now time.Time) (string, error) {
	grant, ok := e.subordinates[child]
	if !ok {
		return "", fmt.Errorf("fedtest: %s grants no subordinate statement to %s", e.ID, child)
	}
	exp := now.Add(time.Hour)
	if !grant.expiresAt.IsZero() {
		exp = grant.expiresAt
	}
	claims := subClaims{
		Issuer:         string(e.ID),
		Subject:        string(child),
		IssuedAt:       now.Add(-time.Minute).Unix(),
		ExpiresAt:      exp.Unix(),
		Metadata:       grant.metadata,
		MetadataPolicy: grant.metadataPolicy,
		Constraints:    grant.constraints,
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return e.sign(body)
}
