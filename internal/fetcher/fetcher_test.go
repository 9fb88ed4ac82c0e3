package fetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/fedtest"
	"github.com/inahga/trustfed/internal/ferrors"
	"github.com/inahga/trustfed/internal/fetcher"
)

func TestFetchConfigurationSingleFlightAndCache(t *testing.T) {
	anchor, _ := fedtest.NewEntity()
	defer anchor.Close()
	anchor.Start()
	time.Sleep(20 * time.Millisecond)

	f := fetcher.New(fetcher.Config{})

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.FetchConfiguration(context.Background(), anchor.ID)
			errs[i] = err
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	// Single-flight coalesces concurrent callers into one HTTP request; the
	// cache then serves any subsequent call without a second request.
	if hits := anchor.WellKnownHits(); hits != 1 {
		t.Fatalf("expected exactly 1 well-known request across %d concurrent callers, got %d", n, hits)
	}

	if _, err := f.FetchConfiguration(context.Background(), anchor.ID); err != nil {
		t.Fatal(err)
	}
	if hits := anchor.WellKnownHits(); hits != 1 {
		t.Fatalf("expected the cache to serve the second call without a new request, got %d hits", hits)
	}
}

func TestFetchConfigurationRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	id, err := entityid.Normalize(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	f := fetcher.New(fetcher.Config{MaxRetries: 0})
	_, err = f.FetchConfiguration(context.Background(), id)
	if !ferrors.Is(err, ferrors.KindBadStatus) {
		t.Fatalf("expected KindBadStatus, got %v", err)
	}
}

func TestFetchConfigurationRejectsBadContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("not a jws"))
	}))
	defer srv.Close()

	id, err := entityid.Normalize(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	f := fetcher.New(fetcher.Config{MaxRetries: 0})
	_, err = f.FetchConfiguration(context.Background(), id)
	if !ferrors.Is(err, ferrors.KindBadContent) {
		t.Fatalf("expected KindBadContent, got %v", err)
	}
}

func TestFetchConfigurationRejectsMalformedJWS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/entity-statement+jwt")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("not-a-jws"))
	}))
	defer srv.Close()

	id, err := entityid.Normalize(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	f := fetcher.New(fetcher.Config{MaxRetries: 0})
	_, err = f.FetchConfiguration(context.Background(), id)
	if !ferrors.Is(err, ferrors.KindMalformedJWS) {
		t.Fatalf("expected KindMalformedJWS, got %v", err)
	}
}

func TestFetchSubordinateFailsWhenIssuerUnreachable(t *testing.T) {
	leaf, _ := fedtest.NewEntity()
	defer leaf.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	issuerID, err := entityid.Normalize(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	f := fetcher.New(fetcher.Config{MaxRetries: 0})
	_, err = f.FetchSubordinate(context.Background(), issuerID, leaf.ID)
	if !ferrors.Is(err, ferrors.KindBadStatus) {
		t.Fatalf("expected KindBadStatus from the unreachable issuer's own configuration fetch, got %v", err)
	}
}
