// Package validator asserts the cryptographic, temporal, and structural
// integrity of a candidate trust chain (§4.5).
package validator

import (
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/jwk"

	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/explorer"
	"github.com/inahga/trustfed/internal/ferrors"
	"github.com/inahga/trustfed/internal/statement"
	"github.com/inahga/trustfed/internal/verifier"
)

// Options configures Validate.
type Options struct {
	Now     time.Time
	Skew    time.Duration
	Anchors []entityid.ID // empty means anchors unconstrained
}

// Validate asserts every check in §4.5 against chain, in the canonical
// interleaved form [leaf_self, sub_about_leaf, superior_self, ..., anchor_self].
// A failing chain returns a single specific error; it is the caller's
// responsibility not to let that poison sibling chains (§4.5, §7).
func Validate(chain explorer.Chain, opts Options) error {
	if len(chain) == 0 {
		return ferrors.New(ferrors.KindAnchorNotReached, "", "empty chain")
	}
	if len(chain)%2 != 1 {
		return ferrors.New(ferrors.KindIssuerSubjectMismatch, "", "chain must have odd length (self, [sub, self]*)")
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	skew := opts.Skew
	if skew == 0 {
		skew = verifier.DefaultSkew
	}

	leaf := chain[0]
	if !leaf.IsSelfSigned() {
		return ferrors.New(ferrors.KindIssuerSubjectMismatch, string(leaf.Subject), "leaf statement is not self-signed")
	}
	if err := reverify(leaf, leaf.JWKS, now, skew); err != nil {
		return err
	}

	subject := leaf.Subject
	for i := 1; i < len(chain); i += 2 {
		sub := chain[i]
		superiorSelf := chain[i+1]

		if sub.Issuer != superiorSelf.Subject {
			return ferrors.New(ferrors.KindIssuerSubjectMismatch, string(sub.Issuer), "subordinate statement issuer %s does not match superior subject %s", sub.Issuer, superiorSelf.Subject)
		}
		if sub.Subject != subject {
			return ferrors.New(ferrors.KindIssuerSubjectMismatch, string(sub.Subject), "subordinate statement subject %s does not match chain subject %s", sub.Subject, subject)
		}
		if err := reverify(sub, superiorSelf.JWKS, now, skew); err != nil {
			return err
		}
		if !superiorSelf.IsSelfSigned() {
			return ferrors.New(ferrors.KindIssuerSubjectMismatch, string(superiorSelf.Subject), "superior statement is not self-signed")
		}
		if err := reverify(superiorSelf, superiorSelf.JWKS, now, skew); err != nil {
			return err
		}
		subject = superiorSelf.Subject
	}

	top := chain[len(chain)-1]
	if len(opts.Anchors) > 0 {
		found := false
		for _, a := range opts.Anchors {
			if a == top.Subject {
				found = true
				break
			}
		}
		if !found {
			return ferrors.New(ferrors.KindAnchorNotReached, string(top.Subject), "chain top is not a configured trust anchor")
		}
	}

	if err := checkTemporalOverlap(chain, now, skew); err != nil {
		return err
	}
	if err := checkPathLength(chain); err != nil {
		return err
	}
	if err := checkNamingConstraints(chain); err != nil {
		return err
	}

	return nil
}

// reverify independently re-checks sig+temporal validity of stmt against
// keys, duplicating what the fetcher already did at fetch time: the
// validator must not trust a chain assembled from statements it didn't
// itself fetch (e.g. one replayed from a DOT export or a cache).
func reverify(stmt *statement.Statement, keys jwk.Set, now time.Time, skew time.Duration) error {
	if keys == nil {
		return ferrors.New(ferrors.KindKeyNotFound, string(stmt.Subject), "no jwks available to verify %s", stmt.Subject)
	}
	_, err := verifier.Verify([]byte(stmt.Raw), keys, string(stmt.Subject), verifier.Options{Now: now, Skew: skew})
	return err
}

func checkTemporalOverlap(chain explorer.Chain, now time.Time, skew time.Duration) error {
	start := chain[0].IssuedAt
	end := chain[0].ExpiresAt
	for _, s := range chain[1:] {
		if s.IssuedAt.After(start) {
			start = s.IssuedAt
		}
		if s.ExpiresAt.Before(end) {
			end = s.ExpiresAt
		}
	}
	if !start.Before(end) {
		return ferrors.New(ferrors.KindStatementExpired, "", "chain has no temporal overlap: [%s, %s)", start, end)
	}
	if now.Before(start.Add(-skew)) {
		return ferrors.New(ferrors.KindStatementNotYetValid, "", "now %s precedes chain validity window start %s", now, start)
	}
	if !now.Before(end.Add(skew)) {
		return ferrors.New(ferrors.KindStatementExpired, "", "now %s is outside chain validity window end %s", now, end)
	}
	return nil
}

// checkPathLength enforces any superior's constraints.max_path_length
// (§4.5 point 5). Per SPEC_FULL.md's resolution of the corresponding Open
// Question, the constraining node itself is excluded from the count: only
// superiors strictly between the constrainer and the leaf are counted.
func checkPathLength(chain explorer.Chain) error {
	// chain[2k] is a superior's self-signed statement for k>=1 (index
	// 2,4,6,...); its constraints bound the superiors strictly between it
	// and the leaf, i.e. the self-signed statements at indices 2,...,2k-2
	// (k-1 of them, excluding both the leaf and itself).
	for i := 2; i < len(chain); i += 2 {
		constrainer := chain[i]
		if constrainer.Constraints == nil || constrainer.Constraints.MaxPathLength == nil {
			continue
		}
		superiorsBelow := (i - 2) / 2
		if superiorsBelow > *constrainer.Constraints.MaxPathLength {
			return ferrors.New(ferrors.KindPathTooLong, string(constrainer.Subject), "path length %d exceeds max_path_length %d set by %s", superiorsBelow, *constrainer.Constraints.MaxPathLength, constrainer.Subject)
		}
	}
	return nil
}

// checkNamingConstraints enforces any superior's naming_allow/naming_deny
// prefixes against every subject below it in the chain (SPEC_FULL.md
// supplemented feature).
func checkNamingConstraints(chain explorer.Chain) error {
	for i := 2; i < len(chain); i += 2 {
		constrainer := chain[i]
		if constrainer.Constraints == nil {
			continue
		}
		for j := 0; j < i; j += 2 {
			subjectID := string(chain[j].Subject)
			if len(constrainer.Constraints.NamingAllow) > 0 && !hasAnyPrefix(subjectID, constrainer.Constraints.NamingAllow) {
				return ferrors.New(ferrors.KindIssuerSubjectMismatch, subjectID, "%s is not covered by naming_allow declared by %s", subjectID, constrainer.Subject)
			}
			if hasAnyPrefix(subjectID, constrainer.Constraints.NamingDeny) {
				return ferrors.New(ferrors.KindIssuerSubjectMismatch, subjectID, "%s is excluded by naming_deny declared by %s", subjectID, constrainer.Subject)
			}
		}
	}
	return nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
