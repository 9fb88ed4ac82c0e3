package statement

import (
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/lestrrat-go/jwx/jwk"

	"github.com/inahga/trustfed/internal/ferrors"
)

// trustMarkClaims is the subset of a trust mark JWT's claims this package
// cares about. Trust marks are otherwise opaque per §3.
type trustMarkClaims struct {
	jwt.StandardClaims
	ID string `json:"trust_mark_id"`
}

// ParseIssuer extracts the id and issuer from a trust mark JWT without
// verifying its signature, for routing to the right issuer's JWKS.
func ParseIssuer(raw string) (id string, issuer string, err error) {
	var claims trustMarkClaims
	parser := &jwt.Parser{}
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return "", "", ferrors.Wrap(ferrors.KindMalformedJWS, "", err)
	}
	if claims.ID == "" || claims.Issuer == "" {
		return "", "", ferrors.New(ferrors.KindMalformedJWS, "", "trust mark missing trust_mark_id/iss")
	}
	return claims.ID, claims.Issuer, nil
}

// VerifyTrustMark verifies a trust mark JWT's signature and expiry against
// the issuer's JWKS, using golang-jwt rather than lestrrat-go/jwx: trust
// marks are a simpler, separately-verified object from the entity-statement
// chain (§4.6 Trust-mark filtering), so this package keeps the two
// verification paths on distinct libraries rather than threading trust
// marks through the statement verifier.
func VerifyTrustMark(raw string, keys jwk.Set, now time.Time) error {
	var claims trustMarkClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		var key jwk.Key
		if kid != "" {
			k, ok := keys.LookupKeyID(kid)
			if !ok {
				return nil, ferrors.New(ferrors.KindKeyNotFound, claims.Issuer, "trust mark kid %q not found", kid)
			}
			key = k
		} else if keys.Len() > 0 {
			key, _ = keys.Get(0)
		}
		if key == nil {
			return nil, ferrors.New(ferrors.KindKeyNotFound, claims.Issuer, "no jwk available for trust mark")
		}
		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return ferrors.Wrap(ferrors.KindSignatureInvalid, claims.Issuer, err)
	}
	if !token.Valid {
		return ferrors.New(ferrors.KindSignatureInvalid, claims.Issuer, "trust mark signature invalid")
	}
	if claims.ExpiresAt != 0 && now.Unix() >= claims.ExpiresAt {
		return ferrors.New(ferrors.KindStatementExpired, claims.Issuer, "trust mark expired")
	}
	return nil
}
