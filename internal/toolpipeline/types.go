// Package toolpipeline composes the Permission Engine and Hook Chain with
// timeout, retry, and cancellation around a single tool call, producing a
// typed result and emitting observability events. It is the core's Tool
// Execution Pipeline (component C).
package toolpipeline

import (
	"context"
	"time"

	"github.com/agentd/agentd/internal/permission"
)

// ToolSpec is the concrete shape of the tool contract (spec §6): a name, a
// description, a JSON Schema describing its parameters, and a declared
// permission level consulted by the permission engine's tool ceiling.
type ToolSpec struct {
	Name            string
	Description     string
	Parameters      []byte // JSON Schema
	PermissionLevel permission.ToolLevel
}

// Tool is the uniform surface every concrete tool implements. Concrete
// tools (file I/O, shell, HTTP fetch, git) are out of scope (spec §1); only
// this contract is specified.
type Tool interface {
	Spec() ToolSpec
	Call(ctx context.Context, argumentsJSON []byte) (string, error)
}

// Outcome classifies a completed ToolCallRecord.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomePermissionDenied Outcome = "permission_denied"
	OutcomeBlockedByHook   Outcome = "blocked_by_hook"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeError           Outcome = "error"
	OutcomeStopped         Outcome = "stopped"
)

// ToolCallRecord is one per-turn invocation ledger entry, used for retry
// and deduplication identity.
type ToolCallRecord struct {
	ID            string
	Tool          string
	ArgumentsHash string
	Attempt       int
	StartedAt     time.Time
	FinishedAt    time.Time
	Outcome       Outcome
}

// BackoffKind selects the delay progression between retry attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// RetryConfig governs on_error recovery (spec §4.C step 4).
type RetryConfig struct {
	MaxAttempts int
	Base        time.Duration
	Strategy    BackoffKind
	Multiplier  float64 // consulted only when Strategy == BackoffExponential
}

// delay returns the wait before the given (1-indexed) retry attempt.
func (r RetryConfig) delay(attempt int) time.Duration {
	switch r.Strategy {
	case BackoffLinear:
		return r.Base * time.Duration(attempt)
	case BackoffExponential:
		mult := r.Multiplier
		if mult <= 0 {
			mult = 2.0
		}
		d := float64(r.Base)
		for i := 1; i < attempt; i++ {
			d *= mult
		}
		return time.Duration(d)
	default:
		return r.Base
	}
}

// DefaultRetryConfig attempts a call exactly once, with no backoff.
var DefaultRetryConfig = RetryConfig{MaxAttempts: 1}

// Fingerprint is a size-redacted stand-in for a tool's raw output, so
// events never carry the output itself (spec §4.C point 6).
type Fingerprint struct {
	ByteLength  int
	SHA256Prefix [8]byte
}
