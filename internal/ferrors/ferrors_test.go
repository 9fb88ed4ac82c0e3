package ferrors_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/inahga/trustfed/internal/ferrors"
)

func TestNewAndIs(t *testing.T) {
	err := ferrors.New(ferrors.KindStatementExpired, "https://example.com", "exp %d", 123)
	if !ferrors.Is(err, ferrors.KindStatementExpired) {
		t.Fatal("expected KindStatementExpired")
	}
	if ferrors.Is(err, ferrors.KindSignatureInvalid) {
		t.Fatal("expected not KindSignatureInvalid")
	}
	if ferrors.KindOf(err) != ferrors.KindStatementExpired {
		t.Fatalf("got %v", ferrors.KindOf(err))
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := ferrors.Wrap(ferrors.KindConnect, "https://example.com", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected Unwrap chain to reach cause")
	}
	if ferrors.KindOf(err) != ferrors.KindConnect {
		t.Fatalf("got %v", ferrors.KindOf(err))
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if ferrors.Wrap(ferrors.KindConnect, "", nil) != nil {
		t.Fatal("expected Wrap(nil) to return nil")
	}
}

func TestKindOfUntaggedError(t *testing.T) {
	if ferrors.KindOf(errors.New("plain")) != "" {
		t.Fatal("expected empty kind for untagged error")
	}
}

func TestErrorStringIncludesEntityID(t *testing.T) {
	err := ferrors.New(ferrors.KindAnchorNotReached, "https://example.com", "no path")
	if got := err.Error(); !strings.Contains(got, "https://example.com") {
		t.Fatalf("expected error string to include the entity ID, got %q", got)
	}
}
