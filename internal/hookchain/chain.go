package hookchain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentd/agentd/internal/metrics"
)

// Chain holds registered hooks and dispatches events through them tier by
// tier, partitioned by Priority and run concurrently within a tier.
type Chain struct {
	mu       sync.RWMutex
	handlers map[EventType][]*Registration
	seen     map[string]struct{} // session_start dedup, keyed by session id
	logger   *slog.Logger
}

// New returns an empty Chain.
func New(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		handlers: make(map[EventType][]*Registration),
		seen:     make(map[string]struct{}),
		logger:   logger.With("component", "hookchain"),
	}
}

// RegisterOption configures a Registration at Register time.
type RegisterOption func(*Registration)

// WithPriority sets the handler's tier.
func WithPriority(p Priority) RegisterOption { return func(r *Registration) { r.Priority = p } }

// WithMatcher restricts the handler to matching tool invocations.
func WithMatcher(m Matcher) RegisterOption { return func(r *Registration) { r.Matcher = &m } }

// WithName sets a human-readable name for diagnostics.
func WithName(name string) RegisterOption { return func(r *Registration) { r.Name = name } }

// WithSource records which plugin or module registered the handler.
func WithSource(source string) RegisterOption { return func(r *Registration) { r.Source = source } }

// Register adds handler for event and returns its registration id.
func (c *Chain) Register(event EventType, handler Handler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:       uuid.New().String(),
		Event:    event,
		Handler:  handler,
		Priority: PriorityNormal,
	}
	for _, opt := range opts {
		opt(reg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], reg)
	c.logger.Debug("registered hook", "id", reg.ID, "event", event, "priority", reg.Priority, "name", reg.Name)
	return reg.ID
}

// Unregister removes a previously registered handler.
func (c *Chain) Unregister(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for event, regs := range c.handlers {
		for i, r := range regs {
			if r.ID == id {
				c.handlers[event] = append(regs[:i], regs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// ResetSession clears the session_start dedup marker for sessionID,
// allowing its handlers to run again on the next dispatch.
func (c *Chain) ResetSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, sessionID)
}

// tiers groups event's handlers into priority tiers, highest first.
func (c *Chain) tiers(event EventType, tool string) [][]*Registration {
	c.mu.RLock()
	all := append([]*Registration(nil), c.handlers[event]...)
	c.mu.RUnlock()

	filtered := all[:0:0]
	for _, r := range all {
		if r.Matcher == nil || matches(r.Matcher, tool) {
			filtered = append(filtered, r)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Priority > filtered[j].Priority })

	var tiers [][]*Registration
	for i := 0; i < len(filtered); {
		j := i + 1
		for j < len(filtered) && filtered[j].Priority == filtered[i].Priority {
			j++
		}
		tiers = append(tiers, filtered[i:j])
		i = j
	}
	return tiers
}

// matches reports whether a registration's matcher accepts tool: an empty
// or "*" ToolPattern accepts every tool, and any other pattern must equal
// the tool name exactly (no wildcard or alternation syntax). ArgumentPattern
// is not applied here; argument-scoped hooks can inspect hctx.ToolInput
// themselves.
func matches(m *Matcher, tool string) bool {
	if m.ToolPattern == "" || m.ToolPattern == "*" {
		return true
	}
	return m.ToolPattern == tool
}

// Dispatch runs event through every matching tier in priority order,
// highest first. Handlers within a tier run concurrently; if the tier's
// aggregate decision is Block or Stop, lower tiers are skipped and that
// aggregate is returned immediately. A modified_input from tier N becomes
// hctx.ToolInput for tier N+1. A handler returning an error aborts the
// whole dispatch.
func (c *Chain) Dispatch(ctx context.Context, event EventType, hctx Context) (AggregatedResult, error) {
	start := time.Now()
	defer func() {
		metrics.HookDispatchDurationSeconds.WithLabelValues(string(event)).Observe(time.Since(start).Seconds())
	}()

	if event == EventSessionStart && hctx.SessionID != "" {
		c.mu.Lock()
		_, already := c.seen[hctx.SessionID]
		if !already {
			c.seen[hctx.SessionID] = struct{}{}
		}
		c.mu.Unlock()
		if already {
			return AggregatedResult{Decision: DecisionContinue}, nil
		}
	}

	final := AggregatedResult{Decision: DecisionContinue}
	for _, tier := range c.tiers(event, hctx.ToolName) {
		results := make([]Result, len(tier))
		g, gctx := errgroup.WithContext(ctx)
		for i, reg := range tier {
			i, reg := i, reg
			g.Go(func() error {
				r, err := reg.Handler(gctx, hctx)
				if err != nil {
					return &HookError{RegistrationID: reg.ID, Event: event, Err: err}
				}
				results[i] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return AggregatedResult{}, fmt.Errorf("hookchain: dispatch %s: %w", event, err)
		}

		agg := Aggregate(results)
		final.ContextMessages = append(final.ContextMessages, agg.ContextMessages...)
		final.Reasons = append(final.Reasons, agg.Reasons...)
		if agg.SuppressOutput {
			final.SuppressOutput = true
		}
		if agg.ModifiedInput != "" {
			final.ModifiedInput = agg.ModifiedInput
			hctx.ToolInput = agg.ModifiedInput
		}
		final.Decision = agg.Decision
		if agg.StopOutput != "" {
			final.StopOutput = agg.StopOutput
		}

		if agg.Decision == DecisionBlock || agg.Decision == DecisionStop {
			return final, nil
		}
	}
	return final, nil
}

// DispatchAsync fires Dispatch in a goroutine and logs any resulting error;
// intended for non-blocking lifecycle notifications the Event Bus also
// carries, where no caller is waiting on the aggregated decision.
func (c *Chain) DispatchAsync(ctx context.Context, event EventType, hctx Context) {
	go func() {
		if _, err := c.Dispatch(ctx, event, hctx); err != nil {
			c.logger.Warn("async hook dispatch failed", "event", event, "error", err)
		}
	}()
}
