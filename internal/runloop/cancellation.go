package runloop

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrCancelled is returned by CheckCancellation once a token has been
// cancelled.
var ErrCancelled = errors.New("runloop: turn cancelled")

// Token is a monotonic boolean cell: it starts not-cancelled and
// transitions to cancelled exactly once. Cancel is idempotent. A Token is
// published into a task-scoped slot (a context.Context value) when a turn
// begins, and inherited by every child task the turn spawns — the Go
// mapping of spec §9's "task-scoped cancellation token" design note.
type Token struct {
	cancelled atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewToken derives a cancellable child of parent and wraps it as a Token.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel marks the token cancelled. Safe to call more than once or
// concurrently; only the first call has effect.
func (t *Token) Cancel() {
	if t.cancelled.CompareAndSwap(false, true) {
		t.cancel()
	}
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Context returns the context a child task should use; it is Done once the
// token is cancelled or the parent context passed to NewToken ends.
func (t *Token) Context() context.Context {
	return t.ctx
}

// CheckCancellation returns ErrCancelled if the token has been cancelled,
// nil otherwise. It never blocks.
func (t *Token) CheckCancellation() error {
	if t.Cancelled() {
		return ErrCancelled
	}
	return nil
}

type tokenKey struct{}

// WithToken publishes tok into ctx's task-scoped slot.
func WithToken(ctx context.Context, tok *Token) context.Context {
	return context.WithValue(ctx, tokenKey{}, tok)
}

// TokenFromContext retrieves the Token published by WithToken, if any.
func TokenFromContext(ctx context.Context) (*Token, bool) {
	tok, ok := ctx.Value(tokenKey{}).(*Token)
	return tok, ok
}
