package discovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/inahga/trustfed/internal/discovery"
	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/fedtest"
	"github.com/inahga/trustfed/internal/fetcher"
	"github.com/inahga/trustfed/internal/statement"
)

func TestDiscoverFindsOPsUnderAnchor(t *testing.T) {
	anchor, _ := fedtest.NewEntity()
	op1, _ := fedtest.NewEntity()
	op2, _ := fedtest.NewEntity()
	rp, _ := fedtest.NewEntity()
	defer anchor.Close()
	defer op1.Close()
	defer op2.Close()
	defer rp.Close()

	op1.Metadata[statement.TypeOpenIDProvider] = map[string]interface{}{"issuer": op1.BaseURL()}
	op2.Metadata[statement.TypeOpenIDProvider] = map[string]interface{}{"issuer": op2.BaseURL()}

	anchor.AddSubordinate(op1, statement.Metadata{statement.TypeOpenIDProvider: {}}, nil, nil)
	anchor.AddSubordinate(op2, statement.Metadata{statement.TypeOpenIDProvider: {}}, nil, nil)
	anchor.AddSubordinate(rp, statement.Metadata{statement.TypeOpenIDRelyingParty: {}}, nil, nil)

	for _, e := range []*fedtest.Entity{anchor, op1, op2, rp} {
		e.Start()
	}
	time.Sleep(20 * time.Millisecond)

	f := fetcher.New(fetcher.Config{})
	ids, err := discovery.Discover(context.Background(), f, rp.ID, []entityid.ID{anchor.ID}, discovery.Options{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 discovered OPs, got %d: %v", len(ids), ids)
	}
	seen := map[entityid.ID]bool{ids[0]: true, ids[1]: true}
	if !seen[op1.ID] || !seen[op2.ID] {
		t.Fatalf("expected op1 and op2, got %v", ids)
	}
}

func TestDiscoverFindsOPNestedUnderNonOPIntermediate(t *testing.T) {
	anchor, _ := fedtest.NewEntity()
	intermediate, _ := fedtest.NewEntity()
	op, _ := fedtest.NewEntity()
	rp, _ := fedtest.NewEntity()
	defer anchor.Close()
	defer intermediate.Close()
	defer op.Close()
	defer rp.Close()

	// intermediate carries only federation_entity metadata, never
	// openid_provider, so list_subordinates(anchor) must not be filtered by
	// entity type during traversal or intermediate (and everything below
	// it) becomes unreachable.
	op.Metadata[statement.TypeOpenIDProvider] = map[string]interface{}{"issuer": op.BaseURL()}

	anchor.AddSubordinate(intermediate, statement.Metadata{statement.TypeFederationEntity: {}}, nil, nil)
	intermediate.AddSubordinate(op, statement.Metadata{statement.TypeOpenIDProvider: {}}, nil, nil)

	for _, e := range []*fedtest.Entity{anchor, intermediate, op, rp} {
		e.Start()
	}
	time.Sleep(20 * time.Millisecond)

	f := fetcher.New(fetcher.Config{})
	ids, err := discovery.Discover(context.Background(), f, rp.ID, []entityid.ID{anchor.ID}, discovery.Options{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(ids) != 1 || ids[0] != op.ID {
		t.Fatalf("expected [%s] nested under a non-OP intermediate, got %v", op.ID, ids)
	}
}

func TestDiscoverUsesRPConfiguredAnchorsWhenNoneSupplied(t *testing.T) {
	anchor, _ := fedtest.NewEntity()
	op, _ := fedtest.NewEntity()
	rp, _ := fedtest.NewEntity()
	defer anchor.Close()
	defer op.Close()
	defer rp.Close()

	op.Metadata[statement.TypeOpenIDProvider] = map[string]interface{}{"issuer": op.BaseURL()}
	anchor.AddSubordinate(op, statement.Metadata{statement.TypeOpenIDProvider: {}}, nil, nil)
	rp.Metadata[statement.TypeFederationEntity] = map[string]interface{}{
		"trust_anchors": []interface{}{anchor.BaseURL()},
	}

	anchor.Start()
	op.Start()
	rp.Start()
	time.Sleep(20 * time.Millisecond)

	f := fetcher.New(fetcher.Config{})
	ids, err := discovery.Discover(context.Background(), f, rp.ID, nil, discovery.Options{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(ids) != 1 || ids[0] != op.ID {
		t.Fatalf("expected [%s], got %v", op.ID, ids)
	}
}
