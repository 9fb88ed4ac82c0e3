// Package resolver orchestrates chain-building, validation, and policy
// application into the single (leaf, anchor, entity_type) -> ResolvedEntity
// operation described in §4.7.
package resolver

import (
	"context"
	"time"

	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/explorer"
	"github.com/inahga/trustfed/internal/ferrors"
	"github.com/inahga/trustfed/internal/policy"
	"github.com/inahga/trustfed/internal/statement"
	"github.com/inahga/trustfed/internal/validator"
)

// Fetcher is the subset of fetcher.Fetcher the resolver needs, either
// directly or by threading it through an Explorer.
type Fetcher interface {
	explorer.Fetcher
	policy.ConfigFetcher
}

// ResolvedEntity is the output of Resolve (§4.7 point 4).
type ResolvedEntity struct {
	Metadata      map[string]interface{}
	TrustMarks    []statement.TrustMark
	Chain         explorer.Chain
	RawChain      []string // raw compact JWSs, leaf-to-anchor
	TrustMarkErrs []error
}

// Options configures Resolve.
type Options struct {
	Now      time.Time
	Skew     time.Duration
	MaxDepth int
}

// Resolve builds every chain from leaf to anchor, picks the first valid one
// in deterministic order, composes and applies that entity type's metadata
// policy, and filters the leaf's trust marks, per §4.7.
func Resolve(ctx context.Context, f Fetcher, leaf, anchor entityid.ID, entityType statement.EntityType, opts Options) (*ResolvedEntity, error) {
	explOpts := []explorer.Option{}
	if opts.MaxDepth > 0 {
		explOpts = append(explOpts, explorer.WithMaxDepth(opts.MaxDepth))
	}
	expl := explorer.New(f, explOpts...)

	chains, chainErrs, err := expl.TrustChains(ctx, leaf, []entityid.ID{anchor})
	if err != nil {
		return nil, err
	}
	if len(chains) == 0 {
		if len(chainErrs) > 0 {
			return nil, chainErrs[0].Err
		}
		return nil, ferrors.New(ferrors.KindAnchorNotReached, string(leaf), "no chain found from %s to %s", leaf, anchor)
	}

	valOpts := validator.Options{Now: opts.Now, Skew: opts.Skew, Anchors: []entityid.ID{anchor}}

	var chosen explorer.Chain
	var lastErr error
	for _, c := range chains {
		if err := validator.Validate(c, valOpts); err != nil {
			lastErr = err
			continue
		}
		chosen = c
		break
	}
	if chosen == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ferrors.New(ferrors.KindAnchorNotReached, string(leaf), "no valid chain from %s to %s", leaf, anchor)
	}

	composed, err := policy.Compose(chosen, entityType)
	if err != nil {
		return nil, err
	}
	leafMetadata := chosen[0].Metadata[entityType]
	resolved, err := policy.Apply(composed, leafMetadata)
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	marks, markErrs := policy.FilterTrustMarks(ctx, chosen, f, now)

	raw := make([]string, len(chosen))
	for i, s := range chosen {
		raw[i] = s.Raw
	}

	return &ResolvedEntity{
		Metadata:      resolved,
		TrustMarks:    marks,
		Chain:         chosen,
		RawChain:      raw,
		TrustMarkErrs: markErrs,
	}, nil
}
