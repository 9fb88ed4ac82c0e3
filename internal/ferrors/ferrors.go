// Package ferrors defines the closed error-kind taxonomy used across trustfed.
//
// Every component wraps the kind it detects with the offending entity ID and
// enough context for --debug-style reporting without actually owning any
// output formatting itself (that belongs to the CLI/REST collaborators).
package ferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error kinds from the federation error taxonomy.
type Kind string

const (
	// Network kinds.
	KindDNS     Kind = "dns"
	KindConnect Kind = "connect"
	KindTLS     Kind = "tls"
	KindTimeout Kind = "timeout"

	// Protocol kinds.
	KindBadStatus      Kind = "bad_status"
	KindBadContent     Kind = "bad_content_type"
	KindMalformedJWS   Kind = "malformed_jws"
	KindMissingEndpoint Kind = "missing_endpoint"

	// Cryptographic kinds.
	KindSignatureInvalid Kind = "signature_invalid"
	KindKeyNotFound      Kind = "key_not_found"
	KindAlgNotAllowed    Kind = "alg_not_allowed"

	// Temporal kinds.
	KindStatementExpired     Kind = "statement_expired"
	KindStatementNotYetValid Kind = "statement_not_yet_valid"

	// Linkage kinds.
	KindIssuerSubjectMismatch Kind = "issuer_subject_mismatch"
	KindNoAuthorityHint       Kind = "no_authority_hint"
	KindAnchorNotReached      Kind = "anchor_not_reached"
	KindPathTooLong           Kind = "path_too_long"
	KindCycleDetected         Kind = "cycle_detected"

	// Policy kinds.
	KindPolicyConflict        Kind = "policy_conflict"
	KindPolicyViolation       Kind = "policy_violation"
	KindEssentialClaimMissing Kind = "essential_claim_missing"
	KindUnknownOperator       Kind = "unknown_operator"

	// Configuration kinds.
	KindInvalidEntityID        Kind = "invalid_entity_id"
	KindNoTrustAnchorConfigured Kind = "no_trust_anchor_configured"
)

// Error is a taxonomy-tagged error carrying the entity ID it concerns, if any.
type Error struct {
	Kind     Kind
	EntityID string
	cause    error
}

func (e *Error) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.EntityID, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a new taxonomy error, attaching a stack trace via pkg/errors so
// that --debug-style callers can print it later.
func New(kind Kind, entityID string, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     kind,
		EntityID: entityID,
		cause:    errors.Errorf(format, args...),
	}
}

// Wrap attaches a taxonomy kind to an existing error, preserving its stack
// (or adding one, if cause doesn't already carry one).
func Wrap(kind Kind, entityID string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{
		Kind:     kind,
		EntityID: entityID,
		cause:    errors.WithStack(cause),
	}
}

// Is reports whether err (or something it wraps) is a taxonomy error of kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the taxonomy kind of err, or "" if err isn't a tagged error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
