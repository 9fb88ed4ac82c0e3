package policy

import (
	"github.com/inahga/trustfed/internal/explorer"
	"github.com/inahga/trustfed/internal/ferrors"
	"github.com/inahga/trustfed/internal/statement"
)

// Compose builds the single effective policy for entityType from every
// statement in chain except the leaf's own self-signed statement, composed
// top-down (anchor toward leaf), per §4.6.
func Compose(chain explorer.Chain, entityType statement.EntityType) (EntityPolicy, error) {
	if len(chain) == 0 {
		return EntityPolicy{}, nil
	}
	rest := chain[1:]
	ordered := make([]*statement.Statement, len(rest))
	for i, s := range rest {
		ordered[len(rest)-1-i] = s
	}

	var composed EntityPolicy
	for _, s := range ordered {
		claimPolicies, ok := s.MetadataPolicy[entityType]
		if !ok {
			continue
		}
		for _, rawOps := range claimPolicies {
			if err := validateOperators(rawOps); err != nil {
				return nil, err
			}
		}
		next := toEntityPolicy(claimPolicies)
		if composed == nil {
			composed = next
			continue
		}
		merged, err := composeEntityPolicy(composed, next)
		if err != nil {
			return nil, err
		}
		composed = merged
	}
	if composed == nil {
		composed = EntityPolicy{}
	}
	return composed, nil
}

func toEntityPolicy(claimPolicies map[string]statement.PolicyOperators) EntityPolicy {
	out := make(EntityPolicy, len(claimPolicies))
	for claim, ops := range claimPolicies {
		cp := make(ClaimPolicy, len(ops))
		for name, operand := range ops {
			// Decoded JSON string lists become []string, the same shape
			// multi-statement composition produces.
			if list, ok := operand.([]interface{}); ok {
				if strs := toStringSlice(list); len(strs) == len(list) {
					operand = strs
				}
			}
			cp[Operator(name)] = operand
		}
		out[claim] = cp
	}
	return out
}

// composeEntityPolicy composes super ⊕ sub claim-by-claim (§4.6).
func composeEntityPolicy(super, sub EntityPolicy) (EntityPolicy, error) {
	out := make(EntityPolicy, len(super)+len(sub))
	claims := make(map[string]bool, len(super)+len(sub))
	for c := range super {
		claims[c] = true
	}
	for c := range sub {
		claims[c] = true
	}
	for c := range claims {
		sc, sOk := super[c]
		bc, bOk := sub[c]
		switch {
		case sOk && bOk:
			merged, err := composeClaimPolicy(sc, bc, c)
			if err != nil {
				return nil, err
			}
			out[c] = merged
		case sOk:
			out[c] = sc
		default:
			out[c] = bc
		}
	}
	return out, nil
}

func composeClaimPolicy(super, sub ClaimPolicy, claim string) (ClaimPolicy, error) {
	out := make(ClaimPolicy)
	ops := make(map[Operator]bool, len(super)+len(sub))
	for o := range super {
		ops[o] = true
	}
	for o := range sub {
		ops[o] = true
	}

	for op := range ops {
		sv, sOk := super[op]
		bv, bOk := sub[op]

		switch op {
		case OpValue:
			if sOk && bOk && !valuesEqual(sv, bv) {
				return nil, ferrors.New(ferrors.KindPolicyConflict, "", "conflicting value operands for claim %q", claim)
			}
			out[op] = firstPresent(sv, sOk, bv, bOk)

		case OpDefault:
			out[op] = firstPresent(sv, sOk, bv, bOk)

		case OpAdd, OpSupersetOf:
			out[op] = union(toStringSlice(sv), toStringSlice(bv))

		case OpOneOf:
			if sOk && bOk {
				inter := intersect(toStringSlice(sv), toStringSlice(bv))
				if len(inter) == 0 {
					return nil, ferrors.New(ferrors.KindPolicyConflict, "", "one_of composition yields empty intersection for claim %q", claim)
				}
				out[op] = inter
			} else {
				out[op] = firstPresent(sv, sOk, bv, bOk)
			}

		case OpSubsetOf:
			if sOk && bOk {
				out[op] = intersect(toStringSlice(sv), toStringSlice(bv))
			} else {
				out[op] = firstPresent(sv, sOk, bv, bOk)
			}

		case OpEssential:
			sb, _ := sv.(bool)
			bb, _ := bv.(bool)
			out[op] = sb || bb

		default:
			return nil, ferrors.New(ferrors.KindUnknownOperator, "", "unknown policy operator %q", op)
		}
	}
	return out, nil
}

func firstPresent(super interface{}, superOk bool, sub interface{}, subOk bool) interface{} {
	if superOk {
		return super
	}
	if subOk {
		return sub
	}
	return nil
}

func valuesEqual(a, b interface{}) bool {
	as, bs := toStringSlice(a), toStringSlice(b)
	if as != nil || bs != nil {
		return equalSets(as, bs)
	}
	return a == b
}

// Apply applies composed to metadata (the leaf's self-asserted metadata for
// the requested entity type), in the fixed operator order of §4.6:
// default -> add -> value -> one_of -> subset_of -> superset_of -> essential.
func Apply(composed EntityPolicy, metadata map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		result[k] = v
	}

	for _, op := range applicationOrder {
		for claim, cp := range composed {
			operand, ok := cp[op]
			if !ok {
				continue
			}
			if err := applyOne(result, claim, op, operand); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func applyOne(result map[string]interface{}, claim string, op Operator, operand interface{}) error {
	switch op {
	case OpDefault:
		if _, present := result[claim]; !present {
			result[claim] = operand
		}

	case OpAdd:
		operandSlice := toStringSlice(operand)
		cur, present := result[claim]
		if !present {
			result[claim] = operandSlice
			return nil
		}
		result[claim] = union(toStringSlice(cur), operandSlice)

	case OpValue:
		result[claim] = operand

	case OpOneOf:
		allowed := toStringSlice(operand)
		cur, present := result[claim]
		if !present {
			return nil
		}
		curSlice := toStringSlice(cur)
		if len(curSlice) == 0 {
			if s, ok := cur.(string); ok && !contains(allowed, s) {
				return ferrors.New(ferrors.KindPolicyViolation, "", "claim %q value %q not permitted by one_of", claim, s)
			}
			return nil
		}
		for _, v := range curSlice {
			if !contains(allowed, v) {
				return ferrors.New(ferrors.KindPolicyViolation, "", "claim %q value %q not permitted by one_of", claim, v)
			}
		}

	case OpSubsetOf:
		allowed := toStringSlice(operand)
		cur, present := result[claim]
		if !present {
			return nil
		}
		curSlice := toStringSlice(cur)
		filtered := intersect(curSlice, allowed)
		if len(curSlice) > 0 && len(filtered) == 0 {
			return ferrors.New(ferrors.KindPolicyViolation, "", "claim %q has no values permitted by subset_of", claim)
		}
		result[claim] = filtered

	case OpSupersetOf:
		required := toStringSlice(operand)
		curSlice := toStringSlice(result[claim])
		if !containsAll(curSlice, required) {
			return ferrors.New(ferrors.KindPolicyViolation, "", "claim %q does not satisfy superset_of", claim)
		}

	case OpEssential:
		essential, _ := operand.(bool)
		if essential {
			if _, present := result[claim]; !present {
				return ferrors.New(ferrors.KindEssentialClaimMissing, "", "claim %q is essential but absent after policy application", claim)
			}
		}

	default:
		return ferrors.New(ferrors.KindUnknownOperator, "", "unknown policy operator %q", op)
	}
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
