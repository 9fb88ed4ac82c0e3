package dot_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/inahga/trustfed/internal/dot"
	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/explorer"
	"github.com/inahga/trustfed/internal/fedtest"
	"github.com/inahga/trustfed/internal/fetcher"
)

func TestChainsRendersDigraphWithNodesAndEdges(t *testing.T) {
	anchor, _ := fedtest.NewEntity()
	leaf, _ := fedtest.NewEntity()
	defer anchor.Close()
	defer leaf.Close()

	anchor.AddSubordinate(leaf, nil, nil, nil)
	anchor.Start()
	leaf.Start()
	time.Sleep(20 * time.Millisecond)

	expl := explorer.New(fetcher.New(fetcher.Config{}))
	chains, _, err := expl.TrustChains(context.Background(), leaf.ID, []entityid.ID{anchor.ID})
	if err != nil || len(chains) != 1 {
		t.Fatalf("chain build failed: %v, %d chains", err, len(chains))
	}

	out := dot.Chains(chains)
	if !strings.HasPrefix(out, "digraph trustchains {") {
		t.Fatalf("expected digraph header, got %q", out[:30])
	}
	if !strings.Contains(out, leaf.ID.String()) || !strings.Contains(out, anchor.ID.String()) {
		t.Fatalf("expected both node ids in output: %s", out)
	}
	if !strings.Contains(out, "->") {
		t.Fatalf("expected at least one edge: %s", out)
	}
}

func TestChainsIsPureAndDeterministic(t *testing.T) {
	anchor, _ := fedtest.NewEntity()
	leaf, _ := fedtest.NewEntity()
	defer anchor.Close()
	defer leaf.Close()

	anchor.AddSubordinate(leaf, nil, nil, nil)
	anchor.Start()
	leaf.Start()
	time.Sleep(20 * time.Millisecond)

	expl := explorer.New(fetcher.New(fetcher.Config{}))
	chains, _, err := expl.TrustChains(context.Background(), leaf.ID, []entityid.ID{anchor.ID})
	if err != nil {
		t.Fatal(err)
	}

	first := dot.Chains(chains)
	second := dot.Chains(chains)
	if first != second {
		t.Fatal("expected dot.Chains to be a pure function of its input")
	}
}
