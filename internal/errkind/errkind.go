// Package errkind defines the stable error kinds shared across devflow's
// subsystems. Handlers compare against these with errors.Is rather than
// asserting concrete types, so a kind can be wrapped with context at any
// layer without losing its identity.
package errkind

import "errors"

var (
	// SignatureInvalid is returned when a webhook's HMAC signature is
	// missing, malformed, or does not match the computed MAC. Never retried.
	SignatureInvalid = errors.New("signature invalid")

	// UnknownInstallation is returned when no repository binding exists
	// for the installation named by an inbound request. Never retried.
	UnknownInstallation = errors.New("unknown installation")

	// MalformedPayload is returned when a request body fails to parse
	// into the expected shape. Never retried.
	MalformedPayload = errors.New("malformed payload")

	// NotFound is returned when a session, PR, issue, or workflow lookup
	// misses.
	NotFound = errors.New("not found")

	// Conflict is returned when a write-write race cannot be resolved by
	// the configured reconciliation policy and must surface to an operator.
	Conflict = errors.New("conflict")

	// RateLimited is returned when a caller has exceeded a self-imposed
	// or upstream rate limit. Retry with exponential backoff and jitter.
	RateLimited = errors.New("rate limited")

	// Transient covers network failures, upstream 5xx responses, and
	// rejected git pushes. Bounded retry is appropriate.
	Transient = errors.New("transient error")

	// SandboxFailure is returned when the coding agent exits non-zero or
	// the sandbox otherwise fails to complete a command. Reported to the
	// workflow, not retried automatically.
	SandboxFailure = errors.New("sandbox failure")

	// CircularDependency is returned when a depends-on edge would close a
	// cycle in the issue dependency graph. Never retried.
	CircularDependency = errors.New("circular dependency")

	// Cancelled is returned when an operation was aborted by a newer
	// assignment or an explicit cancellation.
	Cancelled = errors.New("cancelled")
)

// HTTPStatus maps a kind to the status code the HTTP API should answer
// with. Kinds not in this table answer 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, SignatureInvalid):
		return 401
	case errors.Is(err, UnknownInstallation):
		return 400
	case errors.Is(err, MalformedPayload):
		return 400
	case errors.Is(err, NotFound):
		return 404
	case errors.Is(err, Conflict):
		return 409
	case errors.Is(err, RateLimited):
		return 429
	case errors.Is(err, CircularDependency):
		return 400
	case errors.Is(err, Cancelled):
		return 409
	case errors.Is(err, Transient), errors.Is(err, SandboxFailure):
		return 502
	default:
		return 500
	}
}

// Name returns the stable string used in the {ok:false, error:<kind>}
// envelope for a given error.
func Name(err error) string {
	switch {
	case errors.Is(err, SignatureInvalid):
		return "SignatureInvalid"
	case errors.Is(err, UnknownInstallation):
		return "UnknownInstallation"
	case errors.Is(err, MalformedPayload):
		return "MalformedPayload"
	case errors.Is(err, NotFound):
		return "NotFound"
	case errors.Is(err, Conflict):
		return "Conflict"
	case errors.Is(err, RateLimited):
		return "RateLimited"
	case errors.Is(err, Transient):
		return "Transient"
	case errors.Is(err, SandboxFailure):
		return "SandboxFailure"
	case errors.Is(err, CircularDependency):
		return "CircularDependency"
	case errors.Is(err, Cancelled):
		return "Cancelled"
	default:
		return "Internal"
	}
}
