package entityid_test

import (
	"testing"

	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/ferrors"
)

func TestNormalizeLowercasesSchemeAndHost(t *testing.T) {
	id, err := entityid.Normalize("HTTPS://Example.COM/leaf")
	if err != nil {
		t.Fatal(err)
	}
	if id.String() != "https://example.com/leaf" {
		t.Fatalf("got %q", id)
	}
}

func TestNormalizeStripsTrailingSlashFragmentAndQuery(t *testing.T) {
	id, err := entityid.Normalize("https://example.com/leaf/?foo=bar#frag")
	if err != nil {
		t.Fatal(err)
	}
	if id.String() != "https://example.com/leaf" {
		t.Fatalf("got %q", id)
	}
}

func TestNormalizeRejectsRelativeURL(t *testing.T) {
	_, err := entityid.Normalize("/leaf")
	if !ferrors.Is(err, ferrors.KindInvalidEntityID) {
		t.Fatalf("expected KindInvalidEntityID, got %v", err)
	}
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	_, err := entityid.Normalize("")
	if !ferrors.Is(err, ferrors.KindInvalidEntityID) {
		t.Fatalf("expected KindInvalidEntityID, got %v", err)
	}
}

func TestNormalizeRejectsNonHTTPScheme(t *testing.T) {
	_, err := entityid.Normalize("ftp://example.com/leaf")
	if !ferrors.Is(err, ferrors.KindInvalidEntityID) {
		t.Fatalf("expected KindInvalidEntityID, got %v", err)
	}
}

func TestEqual(t *testing.T) {
	if !entityid.Equal("HTTPS://Example.com/a/", "https://example.com/a") {
		t.Fatal("expected equal")
	}
	if entityid.Equal("https://example.com/a", "https://example.com/b") {
		t.Fatal("expected not equal")
	}
}

func TestWellKnown(t *testing.T) {
	id := entityid.MustNormalize("https://example.com")
	if id.WellKnown() != "https://example.com/.well-known/openid-federation" {
		t.Fatalf("got %q", id.WellKnown())
	}
}
