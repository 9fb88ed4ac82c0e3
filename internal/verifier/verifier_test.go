package verifier_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwk"
	"github.com/lestrrat-go/jwx/jws"

	"github.com/inahga/trustfed/internal/ferrors"
	"github.com/inahga/trustfed/internal/verifier"
)

type claims struct {
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

func signedStatement(t *testing.T, priv *rsa.PrivateKey, kid string, iat, exp time.Time) []byte {
	t.Helper()
	body, err := json.Marshal(claims{
		Issuer:    "https://leaf.example.com",
		Subject:   "https://leaf.example.com",
		IssuedAt:  iat.Unix(),
		ExpiresAt: exp.Unix(),
	})
	if err != nil {
		t.Fatal(err)
	}
	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.KeyIDKey, kid); err != nil {
		t.Fatal(err)
	}
	signed, err := jws.Sign(body, jwa.RS256, priv, jws.WithHeaders(hdrs))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func testKeys(t *testing.T) (*rsa.PrivateKey, jwk.Set, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := jwk.New(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	const kid = "test-key-1"
	if err := pub.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatal(err)
	}
	set := jwk.NewSet()
	set.Add(pub)
	return priv, set, kid
}

func TestVerifyAcceptsValidStatement(t *testing.T) {
	priv, keys, kid := testKeys(t)
	now := time.Now()
	compact := signedStatement(t, priv, kid, now.Add(-time.Minute), now.Add(time.Hour))

	payload, err := verifier.Verify(compact, keys, "https://leaf.example.com", verifier.Options{Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payload) == 0 {
		t.Fatal("expected non-empty payload")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	priv, keys, kid := testKeys(t)
	now := time.Now()
	compact := signedStatement(t, priv, kid, now.Add(-2*time.Hour), now.Add(-time.Hour))

	_, err := verifier.Verify(compact, keys, "https://leaf.example.com", verifier.Options{Now: now})
	if !ferrors.Is(err, ferrors.KindStatementExpired) {
		t.Fatalf("expected KindStatementExpired, got %v", err)
	}
}

func TestVerifyRejectsNotYetValid(t *testing.T) {
	priv, keys, kid := testKeys(t)
	now := time.Now()
	compact := signedStatement(t, priv, kid, now.Add(time.Hour), now.Add(2*time.Hour))

	_, err := verifier.Verify(compact, keys, "https://leaf.example.com", verifier.Options{Now: now})
	if !ferrors.Is(err, ferrors.KindStatementNotYetValid) {
		t.Fatalf("expected KindStatementNotYetValid, got %v", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv, _, kid := testKeys(t)
	_, otherKeys, _ := testKeys(t)
	now := time.Now()
	compact := signedStatement(t, priv, kid, now.Add(-time.Minute), now.Add(time.Hour))

	// Both key sets use the same kid, so the key is found by kid and the
	// signature check itself fails.
	_, err := verifier.Verify(compact, otherKeys, "https://leaf.example.com", verifier.Options{Now: now})
	if !ferrors.Is(err, ferrors.KindSignatureInvalid) {
		t.Fatalf("expected KindSignatureInvalid, got %v", err)
	}
}

func TestVerifyAcceptsSkewWithinTolerance(t *testing.T) {
	priv, keys, kid := testKeys(t)
	now := time.Now()
	// iat 30s in the future, within the default 60s skew.
	compact := signedStatement(t, priv, kid, now.Add(30*time.Second), now.Add(time.Hour))

	_, err := verifier.Verify(compact, keys, "https://leaf.example.com", verifier.Options{Now: now})
	if err != nil {
		t.Fatalf("expected skew-tolerant iat to pass, got %v", err)
	}
}
