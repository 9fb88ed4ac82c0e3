// Command trustfed stands up an in-process OpenID Federation (built from a
// YAML-described entity/edge graph, the same shape as minifed's own Config)
// and exercises the trust-chain builder and metadata resolver against it.
//
// It supports configuration of federations with arbitrary layouts. See Config
// for the configuration file layout.
//
// Run with `go run ./cmd/trustfed config.yaml`.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inahga/trustfed/internal/discovery"
	"github.com/inahga/trustfed/internal/dot"
	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/explorer"
	"github.com/inahga/trustfed/internal/fedtest"
	"github.com/inahga/trustfed/internal/fetcher"
	"github.com/inahga/trustfed/internal/resolver"
	"github.com/inahga/trustfed/internal/statement"
)

// EntityKind is the role a configured node plays in the demo federation. It
// doesn't map to OIDF entity types and is only recorded in logs: every node
// gets the same well-known, fetch, and list endpoints, and the configured
// edges alone decide its place in the federation.
type EntityKind string

const (
	EntityKindLeaf         EntityKind = "leaf"
	EntityKindTrustAnchor  EntityKind = "trust-anchor"
	EntityKindIntermediate EntityKind = "intermediate"
)

// Config is the YAML configuration shape: named entities, edges between
// them ("superior -> subordinate"), and the single operation to run once
// the federation is up.
type Config struct {
	Entities map[string]struct {
		Kind       EntityKind
		EntityType string `yaml:"entity_type"`
	}
	Edges       []string
	Resolve     *ResolveOp     `yaml:"resolve"`
	Discover    *DiscoverOp    `yaml:"discover"`
	TrustChains *TrustChainsOp `yaml:"trustchains"`
}

type ResolveOp struct {
	Leaf       string `yaml:"leaf"`
	Anchor     string `yaml:"anchor"`
	EntityType string `yaml:"entity_type"`
}

type DiscoverOp struct {
	RP      string   `yaml:"rp"`
	Anchors []string `yaml:"anchors"`
}

type TrustChainsOp struct {
	Leaf    string   `yaml:"leaf"`
	Anchors []string `yaml:"anchors"`
	Export  string   `yaml:"export"`
}

func mustParseConfig(path string) *Config {
	content, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		log.Fatal(err)
	}
	for name, e := range cfg.Entities {
		if e.Kind == "" {
			log.Fatalf("%s: kind must be present", name)
		}
	}
	return &cfg
}

// buildFederation instantiates one fedtest.Entity per configured node and
// wires the configured edges, returning the named lookup table.
func buildFederation(cfg *Config) map[string]*fedtest.Entity {
	entities := make(map[string]*fedtest.Entity, len(cfg.Entities))
	for name, e := range cfg.Entities {
		ent, err := fedtest.NewEntity()
		if err != nil {
			log.Fatalf("%s: %s", name, err)
		}
		if e.EntityType != "" {
			ent.Metadata[statement.EntityType(e.EntityType)] = map[string]interface{}{
				"issuer": ent.BaseURL(),
			}
		}
		entities[name] = ent
		slog.Debug("allocated entity", "name", name, "kind", e.Kind, "id", ent.ID)
	}

	for idx, edge := range cfg.Edges {
		parts := strings.SplitN(edge, "->", 2)
		if len(parts) != 2 {
			log.Fatalf("edge %d: expected \"head -> tail\", got %q", idx, edge)
		}
		head, tail := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		headEnt, ok := entities[head]
		if !ok {
			log.Fatalf("edge %d: undefined reference to node %s", idx, head)
		}
		tailEnt, ok := entities[tail]
		if !ok {
			log.Fatalf("edge %d: undefined reference to node %s", idx, tail)
		}
		headEnt.AddSubordinate(tailEnt, tailEnt.Metadata, nil, nil)
		slog.Info("established trust", "superior", head, "subordinate", tail)
	}

	for name, ent := range entities {
		ent.Start()
		slog.Info("started entity server", "name", name, "id", ent.ID)
	}
	// Give every fiber listener goroutine a moment to come up before the
	// first fetch.
	time.Sleep(20 * time.Millisecond)
	return entities
}

func resolveName(entities map[string]*fedtest.Entity, name string) entityid.ID {
	e, ok := entities[name]
	if !ok {
		log.Fatalf("undefined entity %q referenced by operation", name)
	}
	return e.ID
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: trustfed config.yaml")
	}
	cfg := mustParseConfig(os.Args[1])
	entities := buildFederation(cfg)
	for _, e := range entities {
		defer e.Close()
	}

	f := fetcher.New(fetcher.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch {
	case cfg.Resolve != nil:
		leaf := resolveName(entities, cfg.Resolve.Leaf)
		anchor := resolveName(entities, cfg.Resolve.Anchor)
		entityType := statement.EntityType(cfg.Resolve.EntityType)
		if entityType == "" {
			entityType = statement.TypeOpenIDProvider
		}
		res, err := resolver.Resolve(ctx, f, leaf, anchor, entityType, resolver.Options{})
		if err != nil {
			log.Fatalf("resolve: %s", err)
		}
		slog.Info("resolved metadata", "metadata", res.Metadata, "trust_marks", len(res.TrustMarks))

	case cfg.Discover != nil:
		rp := resolveName(entities, cfg.Discover.RP)
		var anchors []entityid.ID
		for _, name := range cfg.Discover.Anchors {
			anchors = append(anchors, resolveName(entities, name))
		}
		found, err := discovery.Discover(ctx, f, rp, anchors, discovery.Options{})
		if err != nil {
			log.Fatalf("discover: %s", err)
		}
		slog.Info("discovered entities", "count", len(found))
		for _, id := range found {
			fmt.Println(id)
		}

	case cfg.TrustChains != nil:
		leaf := resolveName(entities, cfg.TrustChains.Leaf)
		var anchors []entityid.ID
		for _, name := range cfg.TrustChains.Anchors {
			anchors = append(anchors, resolveName(entities, name))
		}
		expl := explorer.New(f)
		chains, chainErrs, err := expl.TrustChains(ctx, leaf, anchors)
		if err != nil {
			log.Fatalf("trustchains: %s", err)
		}
		for _, ce := range chainErrs {
			slog.Warn("chain branch rejected", "path", ce.Path, "err", ce.Err)
		}
		slog.Info("trust chains found", "count", len(chains))
		if cfg.TrustChains.Export != "" {
			if err := os.WriteFile(cfg.TrustChains.Export, []byte(dot.Chains(chains)), 0o644); err != nil {
				log.Fatalf("export: %s", err)
			}
			slog.Info("exported DOT graph", "path", cfg.TrustChains.Export)
		}

	default:
		log.Fatal("config must specify one of resolve, discover, trustchains")
	}
}
