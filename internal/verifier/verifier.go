// Package verifier validates a compact JWS payload against a supplied JWKS
// and clock (§4.3 of the design).
package verifier

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwk"
	"github.com/lestrrat-go/jwx/jws"

	"github.com/inahga/trustfed/internal/ferrors"
)

// DefaultSkew is the clock skew tolerance applied to iat/exp checks.
const DefaultSkew = 60 * time.Second

// allowedAlgs is the federation-permitted signature algorithm allow-list:
// the RS/ES/PS families. "none" and HS* are never permitted for statements.
var allowedAlgs = map[jwa.SignatureAlgorithm]bool{
	jwa.RS256: true, jwa.RS384: true, jwa.RS512: true,
	jwa.ES256: true, jwa.ES384: true, jwa.ES512: true,
	jwa.PS256: true, jwa.PS384: true, jwa.PS512: true,
}

// Options configures a Verify call.
type Options struct {
	Now  time.Time     // defaults to time.Now()
	Skew time.Duration // defaults to DefaultSkew
}

type temporalClaims struct {
	IssuedAt  int64 `json:"iat"`
	ExpiresAt int64 `json:"exp"`
}

// Verify checks a compact JWS's signature against keys, its iat against
// opts.Now + opts.Skew, and its exp against opts.Now (no skew is applied to
// exp). On success it returns the decoded JSON
// payload bytes. subjectForErrors is attached to any returned error for
// diagnostics; it does not affect verification.
func Verify(compact []byte, keys jwk.Set, subjectForErrors string, opts Options) ([]byte, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	skew := opts.Skew
	if skew == 0 {
		skew = DefaultSkew
	}

	msg, err := jws.Parse(compact)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindMalformedJWS, subjectForErrors, err)
	}
	if len(msg.Signatures()) != 1 {
		return nil, ferrors.New(ferrors.KindMalformedJWS, subjectForErrors, "expected exactly one JWS signature")
	}
	sig := msg.Signatures()[0]
	hdr := sig.ProtectedHeaders()
	alg := hdr.Algorithm()
	if alg == jwa.NoSignature || !allowedAlgs[alg] {
		return nil, ferrors.New(ferrors.KindAlgNotAllowed, subjectForErrors, "alg %q not permitted for federation statements", alg)
	}

	candidates, err := candidateKeys(keys, hdr.KeyID(), alg)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ferrors.New(ferrors.KindKeyNotFound, subjectForErrors, "no jwk matches kid %q / alg %q", hdr.KeyID(), alg)
	}

	var payload []byte
	var lastErr error
	for _, key := range candidates {
		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			lastErr = err
			continue
		}
		payload, err = jws.Verify(compact, alg, raw)
		if err == nil {
			break
		}
		lastErr = err
	}
	if payload == nil {
		return nil, ferrors.Wrap(ferrors.KindSignatureInvalid, subjectForErrors, lastErr)
	}

	var tc temporalClaims
	if err := json.Unmarshal(payload, &tc); err != nil {
		return nil, ferrors.Wrap(ferrors.KindMalformedJWS, subjectForErrors, err)
	}
	iat := time.Unix(tc.IssuedAt, 0)
	exp := time.Unix(tc.ExpiresAt, 0)
	if iat.After(now.Add(skew)) {
		return nil, ferrors.New(ferrors.KindStatementNotYetValid, subjectForErrors, "iat %s is after now+skew %s", iat, now.Add(skew))
	}
	if !now.Before(exp) {
		return nil, ferrors.New(ferrors.KindStatementExpired, subjectForErrors, "now %s is not before exp %s", now, exp)
	}

	return payload, nil
}

// candidateKeys returns the keys in keys eligible to verify a signature with
// the given header kid/alg: the exact kid match if one was presented,
// otherwise every key whose kty is compatible with alg.
func candidateKeys(keys jwk.Set, kid string, alg jwa.SignatureAlgorithm) ([]jwk.Key, error) {
	if kid != "" {
		key, ok := keys.LookupKeyID(kid)
		if !ok {
			return nil, nil
		}
		return []jwk.Key{key}, nil
	}

	var out []jwk.Key
	for it := keys.Iterate(nil); it.Next(nil); {
		pair := it.Pair()
		key := pair.Value.(jwk.Key)
		if compatible(key.KeyType(), alg) {
			out = append(out, key)
		}
	}
	return out, nil
}

func compatible(kty jwa.KeyType, alg jwa.SignatureAlgorithm) bool {
	switch {
	case alg == jwa.RS256 || alg == jwa.RS384 || alg == jwa.RS512 || alg == jwa.PS256 || alg == jwa.PS384 || alg == jwa.PS512:
		return kty == jwa.RSA
	case alg == jwa.ES256 || alg == jwa.ES384 || alg == jwa.ES512:
		return kty == jwa.EC
	default:
		return false
	}
}
