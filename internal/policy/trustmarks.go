package policy

import (
	"context"
	"time"

	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/explorer"
	"github.com/inahga/trustfed/internal/ferrors"
	"github.com/inahga/trustfed/internal/statement"
)

// ConfigFetcher is the subset of fetcher.Fetcher needed to resolve a trust
// mark issuer's JWKS.
type ConfigFetcher interface {
	FetchConfiguration(ctx context.Context, id entityid.ID) (*statement.Statement, error)
}

// FilterTrustMarks applies §4.6's trust-mark filtering to the leaf
// statement's trust marks: a mark survives iff some statement along chain
// names its issuer under trust_mark_issuers for the mark's id (this
// subsumes the anchor, since the anchor's own self-signed statement is the
// last element of chain), and the mark verifies against that issuer's
// current JWKS. Marks that don't survive are dropped silently per
// SPEC_FULL.md's resolution of the corresponding Open Question; every drop
// reason is still returned so callers can report it without treating it as
// a hard failure.
func FilterTrustMarks(ctx context.Context, chain explorer.Chain, fetcher ConfigFetcher, now time.Time) ([]statement.TrustMark, []error) {
	if len(chain) == 0 {
		return nil, nil
	}
	leaf := chain[0]

	var survivors []statement.TrustMark
	var errs []error

	for _, tm := range leaf.TrustMarks {
		id, issuer, err := statement.ParseIssuer(tm.Raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if !namedAlongChain(chain, id, issuer) {
			errs = append(errs, ferrors.New(ferrors.KindKeyNotFound, issuer, "trust mark %q issuer not named by any statement in the chain", id))
			continue
		}

		issuerID, err := entityid.Normalize(issuer)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		issuerStmt, err := fetcher.FetchConfiguration(ctx, issuerID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := statement.VerifyTrustMark(tm.Raw, issuerStmt.JWKS, now); err != nil {
			errs = append(errs, err)
			continue
		}

		tm.Issuer = issuer
		survivors = append(survivors, tm)
	}

	return survivors, errs
}

func namedAlongChain(chain explorer.Chain, id, issuer string) bool {
	for _, s := range chain {
		allowed, ok := s.TrustMarkIssuers[id]
		if !ok {
			continue
		}
		for _, a := range allowed {
			if a == issuer {
				return true
			}
		}
	}
	return false
}
