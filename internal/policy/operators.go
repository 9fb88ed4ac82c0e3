// Package policy composes federation metadata policies along a trust chain
// and applies the composed policy to a leaf's self-asserted metadata (§4.6).
package policy

import (
	"github.com/inahga/trustfed/internal/ferrors"
	"github.com/inahga/trustfed/internal/statement"
)

// Operator is one of the seven federation metadata policy operators.
type Operator string

const (
	OpValue      Operator = "value"
	OpAdd        Operator = "add"
	OpDefault    Operator = "default"
	OpOneOf      Operator = "one_of"
	OpSubsetOf   Operator = "subset_of"
	OpSupersetOf Operator = "superset_of"
	OpEssential  Operator = "essential"
)

// applicationOrder is the fixed order operators are applied to a claim's
// value, per §4.6: defaults populate absent claims before value/constraint
// rules fire; essential is checked last, after every other rule has had a
// chance to populate the claim.
var applicationOrder = []Operator{OpDefault, OpAdd, OpValue, OpOneOf, OpSubsetOf, OpSupersetOf, OpEssential}

var knownOperators = map[Operator]bool{
	OpValue: true, OpAdd: true, OpDefault: true, OpOneOf: true,
	OpSubsetOf: true, OpSupersetOf: true, OpEssential: true,
}

// ClaimPolicy is the composed set of operator->operand pairs for one claim.
type ClaimPolicy map[Operator]interface{}

// EntityPolicy is the composed claim->ClaimPolicy map for one entity type.
type EntityPolicy map[string]ClaimPolicy

// Policy is the composed, per-entity-type metadata policy (§4.6 Entity-type
// dimension: composition and application are independent per tag).
type Policy map[statement.EntityType]EntityPolicy

// validateOperators rejects any operator name composition/application
// doesn't recognise (§4.6 "Unknown operators are errors").
func validateOperators(raw statement.PolicyOperators) error {
	for name := range raw {
		if !knownOperators[Operator(name)] {
			return ferrors.New(ferrors.KindUnknownOperator, "", "unknown policy operator %q", name)
		}
	}
	return nil
}
