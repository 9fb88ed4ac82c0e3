// Package discovery enumerates OpenID Providers reachable through a relying
// party's trust anchors (§4.8).
package discovery

import (
	"context"
	"time"

	"golang.org/x/exp/slices"

	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/explorer"
	"github.com/inahga/trustfed/internal/ferrors"
	"github.com/inahga/trustfed/internal/statement"
	"github.com/inahga/trustfed/internal/validator"
)

// Fetcher is the subset of fetcher.Fetcher discovery needs.
type Fetcher interface {
	explorer.Fetcher
}

// Options configures Discover.
type Options struct {
	Now      time.Time
	Skew     time.Duration
	MaxDepth int
}

// Discover resolves rp's trust anchors (or uses anchors, if supplied),
// enumerates every openid_provider reachable below each anchor, and emits
// those for which rp's anchor reconfirms with at least one validated chain
// (§4.8).
func Discover(ctx context.Context, f Fetcher, rp entityid.ID, anchors []entityid.ID, opts Options) ([]entityid.ID, error) {
	var explOpts []explorer.Option
	if opts.MaxDepth > 0 {
		explOpts = append(explOpts, explorer.WithMaxDepth(opts.MaxDepth))
	}
	expl := explorer.New(f, explOpts...)

	if len(anchors) == 0 {
		resolved, err := resolveRPAnchors(ctx, f, expl, rp)
		if err != nil {
			return nil, err
		}
		anchors = resolved
	}
	if len(anchors) == 0 {
		return nil, ferrors.New(ferrors.KindNoTrustAnchorConfigured, string(rp), "no trust anchors discovered for %s", rp)
	}

	discovered := make(map[entityid.ID]bool)
	for _, anchor := range anchors {
		nodes, err := expl.Subtree(ctx, anchor)
		if err != nil {
			continue // a failing subtree is abandoned, not the whole discovery run (§5)
		}
		for _, n := range nodes {
			if discovered[n.ID] || !hasEntityType(n.EntityTypes, statement.TypeOpenIDProvider) {
				continue
			}
			if confirms(ctx, expl, n.ID, anchor, opts) {
				discovered[n.ID] = true
			}
		}
	}

	out := make([]entityid.ID, 0, len(discovered))
	for id := range discovered {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b entityid.ID) bool { return a < b })
	return out, nil
}

// resolveRPAnchors finds rp's configured trust anchors from its own
// metadata, falling back to unconstrained chain-building (§4.8 point 1).
func resolveRPAnchors(ctx context.Context, f Fetcher, expl *explorer.Explorer, rp entityid.ID) ([]entityid.ID, error) {
	rpStmt, err := f.FetchConfiguration(ctx, rp)
	if err != nil {
		return nil, err
	}
	if ta, ok := rpStmt.TrustAnchors(); ok {
		return ta, nil
	}

	chains, _, err := expl.TrustChains(ctx, rp, nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[entityid.ID]bool)
	var anchors []entityid.ID
	for _, c := range chains {
		a := c.AnchorID()
		if !seen[a] {
			seen[a] = true
			anchors = append(anchors, a)
		}
	}
	return anchors, nil
}

func confirms(ctx context.Context, expl *explorer.Explorer, candidate, anchor entityid.ID, opts Options) bool {
	chains, _, err := expl.TrustChains(ctx, candidate, []entityid.ID{anchor})
	if err != nil {
		return false
	}
	valOpts := validator.Options{Now: opts.Now, Skew: opts.Skew, Anchors: []entityid.ID{anchor}}
	for _, c := range chains {
		if err := validator.Validate(c, valOpts); err == nil {
			return true
		}
	}
	return false
}

func hasEntityType(types []statement.EntityType, want statement.EntityType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
