// Package manlaberr defines the hub's error taxonomy (§7). Every component
// returns one of these sentinels (wrapped with context via %w) so callers can
// classify failures with errors.Is instead of string matching.
package manlaberr

import "errors"

var (
	// ErrNotFound — session/command/node missing.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized — missing/invalid token, or policy-derived denial.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPolicyViolation — request outside the allowlist (log/file).
	ErrPolicyViolation = errors.New("policy violation")

	// ErrFeatureDisabled — agent capability flag false (default-deny).
	ErrFeatureDisabled = errors.New("feature disabled")

	// ErrConflict — state-machine precondition failed.
	ErrConflict = errors.New("conflict")

	// ErrTimeout — deadline exceeded.
	ErrTimeout = errors.New("timeout")

	// ErrTransportFailed — agent disconnected or frame not accepted.
	ErrTransportFailed = errors.New("transport failed")

	// ErrBadRequest — malformed payload or out-of-range parameter.
	ErrBadRequest = errors.New("bad request")

	// ErrInternal — persistence or unexpected condition.
	ErrInternal = errors.New("internal error")
)
