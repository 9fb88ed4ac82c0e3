// Package statement models a parsed, verified OpenID Federation entity
// statement (§3, §4.2 of the design) and the trust marks it carries.
package statement

import (
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/lestrrat-go/jwx/jwk"

	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/ferrors"
)

// EntityType is a federation metadata type tag.
type EntityType string

const (
	TypeOpenIDProvider       EntityType = "openid_provider"
	TypeOpenIDRelyingParty   EntityType = "openid_relying_party"
	TypeFederationEntity     EntityType = "federation_entity"
	TypeOAuthAuthServer      EntityType = "oauth_authorization_server"
	TypeOAuthResource        EntityType = "oauth_resource"
)

// Metadata is the per-entity-type claim map carried by a statement.
type Metadata map[EntityType]map[string]interface{}

// PolicyOperators maps operator name to operand, for a single claim.
type PolicyOperators map[string]interface{}

// MetadataPolicy is the per-entity-type, per-claim policy operator map.
type MetadataPolicy map[EntityType]map[string]PolicyOperators

// Constraints bounds a chain's extension below the statement that declares
// them (§3, §4.5 point 5, and the naming-constraints supplement in
// SPEC_FULL.md).
type Constraints struct {
	MaxPathLength  *int     `json:"max_path_length,omitempty"`
	NamingAllow    []string `json:"naming_allow,omitempty"`
	NamingDeny     []string `json:"naming_deny,omitempty"`
}

// payload is the wire shape of an entity statement's JWS payload.
type payload struct {
	Issuer          string                     `json:"iss"`
	Subject         string                     `json:"sub"`
	IssuedAt        int64                      `json:"iat"`
	ExpiresAt       int64                      `json:"exp"`
	JWKS            json.RawMessage            `json:"jwks,omitempty"`
	AuthorityHints  []string                   `json:"authority_hints,omitempty"`
	Metadata        Metadata                   `json:"metadata,omitempty"`
	MetadataPolicy  MetadataPolicy             `json:"metadata_policy,omitempty"`
	TrustMarks      []json.RawMessage          `json:"trust_marks,omitempty"`
	TrustMarkIssuers map[string][]string       `json:"trust_mark_issuers,omitempty"`
	Constraints     *Constraints               `json:"constraints,omitempty"`
}

// TrustMark is a trust mark as it appears inside trust_marks: the id, the
// raw compact JWT, and (once extracted) its issuer. The JWT itself is
// verified by VerifyTrustMark, not at parse time.
type TrustMark struct {
	ID     string `json:"id"`
	Raw    string `json:"trust_mark"`
	Issuer string `json:"-"`
}

// Kind tags whether a statement is self-signed or issued by a superior
// about a subordinate (§9 polymorphism note).
type Kind int

const (
	KindSelfSigned Kind = iota
	KindSubordinate
)

// Statement is an immutable, parsed entity statement. Parse builds it from
// a JWS payload; nothing mutates a Statement once built.
type Statement struct {
	Kind             Kind
	Issuer           entityid.ID
	Subject          entityid.ID
	IssuedAt         time.Time
	ExpiresAt        time.Time
	JWKS             jwk.Set
	AuthorityHints   []entityid.ID
	Metadata         Metadata
	MetadataPolicy   MetadataPolicy
	TrustMarks       []TrustMark
	TrustMarkIssuers map[string][]string
	Constraints      *Constraints
	Raw              string // the original compact JWS
}

// Parse decodes raw JSON payload bytes into a Statement. It does not check
// the signature: callers verify the JWS themselves (the fetcher also parses
// a self-signed payload before verification, to read its embedded JWKS).
// Kind is classified from iss == sub.
func Parse(payloadBytes []byte, rawJWS string) (*Statement, error) {
	var p payload
	if err := json.Unmarshal(payloadBytes, &p); err != nil {
		return nil, ferrors.Wrap(ferrors.KindMalformedJWS, "", err)
	}
	if p.Issuer == "" || p.Subject == "" {
		return nil, ferrors.New(ferrors.KindMalformedJWS, p.Subject, "missing iss/sub")
	}
	iss, err := entityid.Normalize(p.Issuer)
	if err != nil {
		return nil, err
	}
	sub, err := entityid.Normalize(p.Subject)
	if err != nil {
		return nil, err
	}

	s := &Statement{
		Issuer:           iss,
		Subject:          sub,
		IssuedAt:         time.Unix(p.IssuedAt, 0).UTC(),
		ExpiresAt:        time.Unix(p.ExpiresAt, 0).UTC(),
		Metadata:         p.Metadata,
		MetadataPolicy:   p.MetadataPolicy,
		TrustMarkIssuers: p.TrustMarkIssuers,
		Constraints:      p.Constraints,
		Raw:              rawJWS,
	}
	if iss == sub {
		s.Kind = KindSelfSigned
	} else {
		s.Kind = KindSubordinate
	}

	if len(p.JWKS) > 0 {
		set, err := jwk.Parse(p.JWKS)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.KindMalformedJWS, string(sub), err)
		}
		s.JWKS = set
	} else if s.Kind == KindSelfSigned {
		return nil, ferrors.New(ferrors.KindMalformedJWS, string(sub), "self-signed statement missing jwks")
	}

	for _, h := range p.AuthorityHints {
		id, err := entityid.Normalize(h)
		if err != nil {
			continue // malformed hints are skipped, not fatal to the statement
		}
		s.AuthorityHints = append(s.AuthorityHints, id)
	}

	for _, raw := range p.TrustMarks {
		var tm TrustMark
		if err := json.Unmarshal(raw, &tm); err != nil {
			continue
		}
		s.TrustMarks = append(s.TrustMarks, tm)
	}

	return s, nil
}

// IsSelfSigned reports whether the statement is an entity configuration
// (iss == sub).
func (s *Statement) IsSelfSigned() bool { return s.Kind == KindSelfSigned }

// EntityTypes returns the entity-type tags present in the statement's
// metadata, sorted for determinism.
func (s *Statement) EntityTypes() []EntityType {
	types := make([]EntityType, 0, len(s.Metadata))
	for t := range s.Metadata {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// FetchEndpoint returns the federation_entity.federation_fetch_endpoint
// claim, if present.
func (s *Statement) FetchEndpoint() (string, bool) {
	return s.stringClaim(TypeFederationEntity, "federation_fetch_endpoint")
}

// ListEndpoint returns the federation_entity.federation_list_endpoint claim,
// if present.
func (s *Statement) ListEndpoint() (string, bool) {
	return s.stringClaim(TypeFederationEntity, "federation_list_endpoint")
}

// TrustAnchors returns the federation_entity.trust_anchors claim (the
// entity's configured trust anchors, used by discovery when no anchor set
// is supplied explicitly). Malformed entries are skipped.
func (s *Statement) TrustAnchors() ([]entityid.ID, bool) {
	m, ok := s.Metadata[TypeFederationEntity]
	if !ok {
		return nil, false
	}
	raw, ok := m["trust_anchors"]
	if !ok {
		return nil, false
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]entityid.ID, 0, len(list))
	for _, v := range list {
		str, ok := v.(string)
		if !ok {
			continue
		}
		id, err := entityid.Normalize(str)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, len(out) > 0
}

func (s *Statement) stringClaim(t EntityType, claim string) (string, bool) {
	m, ok := s.Metadata[t]
	if !ok {
		return "", false
	}
	v, ok := m[claim]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}
