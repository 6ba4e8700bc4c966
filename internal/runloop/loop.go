// Package runloop drives a turn from a request event to a completion event
// over a transport, managing per-turn cancellation tokens and idempotency.
// It is the core's Run Loop / Turn Engine (component D).
package runloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agentd/agentd/internal/eventbus"
	"github.com/agentd/agentd/internal/toolpipeline"
	"github.com/agentd/agentd/pkg/wire"
)

// RunLoop owns the lifetime of a single agent on one transport.
type RunLoop struct {
	Bus       *eventbus.Bus
	Step      StepFunc
	Approvals *toolpipeline.ApprovalManager

	completedCapacity int

	mu         sync.Mutex
	inFlight   map[string]*Token
	completed  *completedTurns
	transports map[string]Transport

	logger *slog.Logger
}

// Option configures a RunLoop at construction.
type Option func(*RunLoop)

// WithCompletedCapacity overrides the default 512-entry completed-turn LRU.
func WithCompletedCapacity(n int) Option {
	return func(r *RunLoop) { r.completedCapacity = n }
}

// WithBus installs an Event Bus for runStarted/runCompleted notifications,
// in addition to whatever the transport itself carries.
func WithBus(b *eventbus.Bus) Option { return func(r *RunLoop) { r.Bus = b } }

// WithLogger installs a logger.
func WithLogger(l *slog.Logger) Option { return func(r *RunLoop) { r.logger = l.With("component", "runloop") } }

// WithApprovals wires the same ApprovalManager the tool pipeline escalates
// ask_required decisions into, so a RunRequestApprovalResponse arriving on
// this loop's transport can resolve the pipeline's pending Wait (spec §9.3).
func WithApprovals(a *toolpipeline.ApprovalManager) Option {
	return func(r *RunLoop) { r.Approvals = a }
}

// New builds a RunLoop around step, the composed agent pipeline.
func New(step StepFunc, opts ...Option) *RunLoop {
	r := &RunLoop{
		Step:              step,
		completedCapacity: DefaultCompletedTurnCapacity,
		inFlight:          make(map[string]*Token),
		transports:        make(map[string]Transport),
		logger:            slog.Default().With("component", "runloop"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.completed = newCompletedTurns(r.completedCapacity)
	r.registerToolCallForwarding()
	return r
}

// registerToolCallForwarding subscribes this loop, once, to the tool
// pipeline's per-call bus events so every in-flight turn's transport sees
// toolCallStarted/toolCallCompleted on the wire (spec §4.C point 6, spec §5
// event ordering). A single pair of handlers fans each event out to
// whichever turn it belongs to via transports, since Bus.Off removes every
// handler for a name and so cannot be used for per-turn subscription.
func (r *RunLoop) registerToolCallForwarding() {
	if r.Bus == nil {
		return
	}
	r.Bus.On("tool_call_started", r.forwardToolEvent(wire.RunEventToolCallStarted))
	r.Bus.On("tool_call_completed", r.forwardToolEvent(wire.RunEventToolCallCompleted))
}

func (r *RunLoop) forwardToolEvent(kind wire.RunEventKind) eventbus.Handler {
	return func(e eventbus.Event) {
		turnID := e.Source
		r.mu.Lock()
		transport, ok := r.transports[turnID]
		r.mu.Unlock()
		if !ok {
			return
		}

		event := wire.RunEvent{TurnID: turnID, Kind: kind}
		switch v := e.Value.(type) {
		case toolpipeline.ToolCallStartedEvent:
			event.ToolName = v.Tool
		case toolpipeline.ToolCallCompletedEvent:
			event.ToolName = v.Tool
		}

		// Best-effort: a transport error here does not fail the turn, it
		// only drops this one lifecycle notification.
		_ = transport.Send(context.Background(), event)
	}
}

// Run reads requests from transport in order until its input closes,
// driving each turn to completion per spec §4.D. It owns this transport
// and this step function for its entire lifetime.
func (r *RunLoop) Run(ctx context.Context, transport Transport) error {
	for {
		req, err := transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrInputClosed) {
				return nil
			}
			return err
		}
		if err := r.handleRequest(ctx, transport, req); err != nil {
			return err
		}
	}
}

func (r *RunLoop) handleRequest(ctx context.Context, transport Transport, req wire.RunRequest) error {
	switch req.Kind {
	case wire.RunRequestCancel:
		r.handleCancel(req.TurnID)
		return nil
	case wire.RunRequestApprovalResponse:
		return r.handleApprovalResponse(ctx, transport, req)
	default:
		return r.runTurn(ctx, transport, req)
	}
}

// handleApprovalResponse routes an ApprovalResponse into the wired
// ApprovalManager's pending request, resolving the pipeline's blocked Wait
// call (spec §9.3). An unresolvable response (no manager wired, no
// ApprovalResponse payload, or an unknown/already-resolved request id) is
// reported back as a warning rather than failing the turn.
func (r *RunLoop) handleApprovalResponse(ctx context.Context, transport Transport, req wire.RunRequest) error {
	if r.Approvals == nil || req.ApprovalResponse == nil {
		return transport.Send(ctx, wire.RunEvent{
			TurnID:      req.TurnID,
			Kind:        wire.RunEventWarning,
			WarningCode: "APPROVAL_HANDLER_MISSING",
		})
	}

	resp := req.ApprovalResponse
	if err := r.Approvals.Respond(resp.RequestID, resp.Approved, resp.Reason); err != nil {
		return transport.Send(ctx, wire.RunEvent{
			TurnID:      req.TurnID,
			Kind:        wire.RunEventWarning,
			WarningCode: "APPROVAL_REQUEST_NOT_FOUND",
		})
	}
	return nil
}

// handleCancel implements pre-emptive cancel, cross-turn isolation, late
// cancel, and duplicate cancel (spec §4.D). A cancel for a turn already in
// the completed LRU, or for a turn never seen, is absorbed silently.
func (r *RunLoop) handleCancel(turnID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.completed.Contains(turnID) {
		return
	}
	tok, ok := r.inFlight[turnID]
	if !ok {
		// Pre-emptive cancel: the text request hasn't arrived yet. Create
		// the token now, already cancelled, so runTurn observes it at
		// entry.
		tok = NewToken(context.Background())
		r.inFlight[turnID] = tok
	}
	tok.Cancel()
}

func (r *RunLoop) runTurn(ctx context.Context, transport Transport, req wire.RunRequest) error {
	turnID := req.TurnID

	r.mu.Lock()
	if r.completed.Contains(turnID) {
		r.mu.Unlock()
		return nil // duplicate turn suppression
	}
	tok, preEmptive := r.inFlight[turnID]
	if !preEmptive {
		tok = NewToken(ctx)
		r.inFlight[turnID] = tok
	}
	r.transports[turnID] = transport
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inFlight, turnID)
		delete(r.transports, turnID)
		r.completed.Add(turnID)
		r.mu.Unlock()
	}()

	if err := transport.Send(ctx, wire.RunEvent{TurnID: turnID, Kind: wire.RunEventStarted}); err != nil {
		return err
	}
	r.emitBus("runStarted", turnID, nil)

	if tok.Cancelled() {
		return r.complete(ctx, transport, turnID, wire.RunEvent{
			TurnID: turnID,
			Kind:   wire.RunEventCompleted,
			Status: wire.TurnCancelled,
		})
	}

	turnCtx := WithToken(tok.Context(), tok)
	output, err := r.Step(turnCtx, turnID, req.Text)

	event := wire.RunEvent{TurnID: turnID, Kind: wire.RunEventCompleted}
	switch {
	case err == nil:
		event.Status = wire.TurnCompleted
		event.FinalOutput = output
	case isStop(err):
		event.Status = wire.TurnStopped
		event.FinalOutput = stopOutput(err)
	case errors.Is(err, ErrCancelled) || errors.Is(err, toolpipeline.ErrCancelled) || errors.Is(err, context.Canceled):
		event.Status = wire.TurnCancelled
	default:
		event.Status = wire.TurnFailed
		event.Error = err.Error()
	}

	return r.complete(ctx, transport, turnID, event)
}

func isStop(err error) bool {
	var s Stopper
	return errors.As(err, &s)
}

func stopOutput(err error) string {
	var s Stopper
	if errors.As(err, &s) {
		return s.StopOutput()
	}
	return ""
}

func (r *RunLoop) complete(ctx context.Context, transport Transport, turnID string, event wire.RunEvent) error {
	if err := transport.Send(ctx, event); err != nil {
		return err
	}
	r.emitBus("runCompleted", turnID, event)
	return nil
}

func (r *RunLoop) emitBus(name, turnID string, value any) {
	if r.Bus == nil {
		return
	}
	r.Bus.Emit(eventbus.Event{Name: name, Timestamp: time.Now(), Source: turnID, Value: value})
}
