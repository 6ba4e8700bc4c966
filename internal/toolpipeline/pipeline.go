package toolpipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentd/agentd/internal/eventbus"
	"github.com/agentd/agentd/internal/hookchain"
	"github.com/agentd/agentd/internal/metrics"
	"github.com/agentd/agentd/internal/permission"
)

// StopError is returned by Execute when a post-tool hook returns stop; the
// run loop propagates it up to end the turn with status=stopped (spec §4.C
// point 5).
type StopError struct {
	Tool   string
	Reason string
	Output string
}

func (e *StopError) Error() string {
	return fmt.Sprintf("toolpipeline: %s: stopped: %s", e.Tool, e.Reason)
}

// StopOutput implements runloop.Stopper, letting the run loop recognize a
// stop decision without importing this package.
func (e *StopError) StopOutput() string { return e.Output }

// Pipeline composes the Permission Engine (A) and Hook Chain (B) with
// timeout, retry, and cancellation around one tool call, emitting events on
// the Event Bus (E).
type Pipeline struct {
	Engine    *permission.Engine
	Chain     *hookchain.Chain
	Bus       *eventbus.Bus
	Ledger    *Ledger
	Approvals *ApprovalManager

	DefaultTimeout time.Duration
	PerToolTimeout map[string]time.Duration
	Retry          RetryConfig
	ApprovalTTL    time.Duration

	logger *slog.Logger
}

// New builds a Pipeline. engine and chain must not be nil; bus, ledger, and
// approvals start as fresh instances and can be replaced through options.
func New(engine *permission.Engine, chain *hookchain.Chain, opts ...Option) *Pipeline {
	p := &Pipeline{
		Engine:         engine,
		Chain:          chain,
		Bus:            eventbus.New(),
		Ledger:         NewLedger(),
		Approvals:      NewApprovalManager(),
		DefaultTimeout: 30 * time.Second,
		PerToolTimeout: map[string]time.Duration{},
		Retry:          DefaultRetryConfig,
		ApprovalTTL:    5 * time.Minute,
		logger:         slog.Default().With("component", "toolpipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

func WithBus(b *eventbus.Bus) Option           { return func(p *Pipeline) { p.Bus = b } }
func WithLedger(l *Ledger) Option              { return func(p *Pipeline) { p.Ledger = l } }
func WithApprovals(a *ApprovalManager) Option  { return func(p *Pipeline) { p.Approvals = a } }
func WithDefaultTimeout(d time.Duration) Option { return func(p *Pipeline) { p.DefaultTimeout = d } }
func WithRetry(r RetryConfig) Option            { return func(p *Pipeline) { p.Retry = r } }
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l.With("component", "toolpipeline") }
}
func WithToolTimeout(tool string, d time.Duration) Option {
	return func(p *Pipeline) { p.PerToolTimeout[tool] = d }
}

func (p *Pipeline) timeoutFor(tool string) time.Duration {
	if d, ok := p.PerToolTimeout[tool]; ok {
		return d
	}
	return p.DefaultTimeout
}

func checkCancellation(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}
	return nil
}

// Execute runs one tool call end to end: permission check, pre-tool hooks,
// timeout-bounded invocation with retry/backoff, post-tool hooks, and
// ledger/event recording. turnID scopes the invocation ledger entry.
func (p *Pipeline) Execute(ctx context.Context, turnID string, tool Tool, argumentsJSON []byte) (string, error) {
	spec := tool.Spec()
	callID := uuid.New().String()

	if err := checkCancellation(ctx); err != nil {
		return "", err
	}

	if err := validateArguments(spec, argumentsJSON); err != nil {
		return "", NewArgumentParseFailedError(spec.Name, err)
	}

	argumentsJSON, err := p.authorize(spec, argumentsJSON)
	if err != nil {
		return "", err
	}

	argumentsJSON, err = p.runPreHooks(ctx, spec, argumentsJSON)
	if err != nil {
		return "", err
	}

	if err := checkCancellation(ctx); err != nil {
		return "", err
	}

	p.emitToolCallStarted(turnID, spec.Name)

	start := time.Now()
	output, callErr := p.invokeWithRetry(ctx, tool, spec, argumentsJSON)
	duration := time.Since(start)
	metrics.ToolCallDurationSeconds.WithLabelValues(spec.Name).Observe(duration.Seconds())

	rec := ToolCallRecord{
		ID:            callID,
		Tool:          spec.Name,
		ArgumentsHash: hashArguments(argumentsJSON),
		Attempt:       1,
		StartedAt:     start,
		FinishedAt:    time.Now(),
	}

	if callErr != nil {
		rec.Outcome = outcomeFor(callErr)
		if p.Ledger != nil {
			p.Ledger.Append(turnID, rec)
		}
		metrics.ToolCallsTotal.WithLabelValues(spec.Name, string(rec.Outcome)).Inc()
		p.emitToolCallCompleted(turnID, spec.Name, duration, "")
		return "", callErr
	}

	if err := checkCancellation(ctx); err != nil {
		rec.Outcome = OutcomeError
		if p.Ledger != nil {
			p.Ledger.Append(turnID, rec)
		}
		return "", err
	}

	output, stopErr := p.runPostHooks(ctx, spec, output)

	rec.Outcome = OutcomeSuccess
	if stopErr != nil {
		rec.Outcome = OutcomeStopped
	}
	if p.Ledger != nil {
		p.Ledger.Append(turnID, rec)
	}
	metrics.ToolCallsTotal.WithLabelValues(spec.Name, string(rec.Outcome)).Inc()
	p.emitToolCallCompleted(turnID, spec.Name, duration, output)

	if stopErr != nil {
		return output, stopErr
	}
	return output, nil
}

func outcomeFor(err error) Outcome {
	var toolErr *ToolError
	switch {
	case errors.Is(err, ErrCancelled):
		return OutcomeError
	case errors.As(err, new(*PermissionDeniedError)):
		return OutcomePermissionDenied
	case errors.As(err, new(*BlockedByHookError)):
		return OutcomeBlockedByHook
	case errors.As(err, &toolErr) && toolErr.Kind == "timeout":
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

// authorize runs the permission engine (step A), escalating ask_required
// into a TTL-bounded approval request (spec §9.3).
func (p *Pipeline) authorize(spec ToolSpec, argumentsJSON []byte) ([]byte, error) {
	decision, err := p.Engine.Check(spec.Name, spec.PermissionLevel, argumentsJSON)
	if err != nil {
		var interrupt *permission.DeniedAndInterruptError
		if errors.As(err, &interrupt) {
			return nil, &PermissionDeniedError{Tool: spec.Name, Reason: interrupt.Reason}
		}
		return nil, err
	}

	switch decision.Kind {
	case permission.Denied:
		return nil, &PermissionDeniedError{Tool: spec.Name, Reason: decision.Reason}
	case permission.AllowedWithModifiedInput:
		return []byte(decision.ModifiedInput), nil
	case permission.AskRequired:
		id := p.Approvals.Create(spec.Name, argumentsJSON, p.ApprovalTTL)
		ctx, cancel := context.WithTimeout(context.Background(), p.ApprovalTTL+time.Second)
		defer cancel()
		req, waitErr := p.Approvals.Wait(ctx, id)
		if waitErr != nil || req.Status != ApprovalApproved {
			reason := req.Reason
			if reason == "" {
				reason = "approval request denied or expired"
			}
			return nil, &PermissionDeniedError{Tool: spec.Name, Reason: reason}
		}
		return argumentsJSON, nil
	default:
		return argumentsJSON, nil
	}
}

func (p *Pipeline) runPreHooks(ctx context.Context, spec ToolSpec, argumentsJSON []byte) ([]byte, error) {
	agg, err := p.Chain.Dispatch(ctx, hookchain.EventPreToolUse, hookchain.Context{
		ToolName:  spec.Name,
		ToolInput: string(argumentsJSON),
	})
	if err != nil {
		return nil, err
	}
	if agg.Decision == hookchain.DecisionBlock {
		reason := "blocked"
		if len(agg.Reasons) > 0 {
			reason = agg.Reasons[0]
		}
		return nil, &BlockedByHookError{Tool: spec.Name, Reason: reason}
	}
	if agg.ModifiedInput != "" {
		return []byte(agg.ModifiedInput), nil
	}
	return argumentsJSON, nil
}

// runPostHooks runs post-tool hooks over a successful call's output. A stop
// decision is surfaced as *StopError so the run loop can end the turn with
// status=stopped.
func (p *Pipeline) runPostHooks(ctx context.Context, spec ToolSpec, output string) (string, error) {
	agg, err := p.Chain.Dispatch(ctx, hookchain.EventPostToolUse, hookchain.Context{
		ToolName:  spec.Name,
		ToolInput: output,
	})
	if err != nil {
		return output, err
	}
	if agg.Decision == hookchain.DecisionStop {
		reason := "stopped by post-tool hook"
		if len(agg.Reasons) > 0 {
			reason = agg.Reasons[0]
		}
		result := output
		if agg.StopOutput != "" {
			result = agg.StopOutput
		}
		return result, &StopError{Tool: spec.Name, Reason: reason, Output: result}
	}
	if agg.ModifiedInput != "" {
		return agg.ModifiedInput, nil
	}
	return output, nil
}

// invokeWithRetry calls the tool under a deadline, recovering through
// tool_error hooks up to Retry.MaxAttempts. The aggregated tool_error
// decision steers recovery: Stop or Block aborts immediately (rethrow); an
// AllowModified result supplies fallback output; anything else consumes a
// retry attempt per the configured backoff strategy.
func (p *Pipeline) invokeWithRetry(ctx context.Context, tool Tool, spec ToolSpec, argumentsJSON []byte) (string, error) {
	maxAttempts := p.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		output, err := p.invokeOnce(ctx, tool, spec, argumentsJSON)
		if err == nil {
			return output, nil
		}
		lastErr = err

		var fb fallbackSignal
		if errors.As(err, &fb) {
			return fb.output, nil
		}

		agg, hookErr := p.Chain.Dispatch(ctx, hookchain.EventToolError, hookchain.Context{
			ToolName: spec.Name,
			Extra:    map[string]any{"error": err.Error(), "attempt": attempt},
		})
		if hookErr != nil {
			return "", hookErr
		}

		switch agg.Decision {
		case hookchain.DecisionStop, hookchain.DecisionBlock:
			return "", err
		case hookchain.DecisionAllowModified:
			return agg.ModifiedInput, nil
		}

		if attempt < maxAttempts {
			select {
			case <-time.After(p.Retry.delay(attempt)):
			case <-ctx.Done():
				return "", ErrCancelled
			}
		}
	}
	return "", lastErr
}

func (p *Pipeline) invokeOnce(ctx context.Context, tool Tool, spec ToolSpec, argumentsJSON []byte) (string, error) {
	timeout := p.timeoutFor(spec.Name)
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		out, err := tool.Call(callCtx, argumentsJSON)
		done <- result{output: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", &ToolError{Tool: spec.Name, Kind: "native", Err: r.err}
		}
		return r.output, nil
	case <-callCtx.Done():
		if timeout > 0 && callCtx.Err() == context.DeadlineExceeded {
			return "", NewTimeoutError(spec.Name, timeout)
		}
		return "", ErrCancelled
	}
}

func (p *Pipeline) emitToolCallStarted(turnID, toolName string) {
	if p.Bus == nil {
		return
	}
	p.Bus.Emit(eventbus.Event{
		Name:      "tool_call_started",
		Timestamp: time.Now(),
		Source:    turnID,
		Value:     ToolCallStartedEvent{Tool: toolName},
	})
}

func (p *Pipeline) emitToolCallCompleted(turnID, toolName string, duration time.Duration, output string) {
	if p.Bus == nil {
		return
	}
	fp := computeFingerprint(output)
	p.Bus.Emit(eventbus.Event{
		Name:      "tool_call_completed",
		Timestamp: time.Now(),
		Source:    turnID,
		Value: ToolCallCompletedEvent{
			Tool:        toolName,
			Duration:    duration,
			Fingerprint: fp,
		},
	})
}

// ToolCallCompletedEvent is the Bus payload for a finished tool call.
type ToolCallCompletedEvent struct {
	Tool        string
	Duration    time.Duration
	Fingerprint Fingerprint
}

// ToolCallStartedEvent is the Bus payload for a started tool call.
type ToolCallStartedEvent struct {
	Tool string
}
