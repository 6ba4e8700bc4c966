package runloop

import (
	"context"
	"errors"

	"github.com/agentd/agentd/pkg/wire"
)

// ErrInputClosed is returned by Transport.Receive when the input side is
// closed; it ends the run loop's read cycle.
var ErrInputClosed = errors.New("runloop: transport input closed")

// ErrOutputClosed is returned by Transport.Send when the output side is
// closed.
var ErrOutputClosed = errors.New("runloop: transport output closed")

// Transport is the framed, bidirectional channel a RunLoop drives (spec
// §6). Its wire protocol is out of core scope; only this interface is
// fixed.
type Transport interface {
	Receive(ctx context.Context) (wire.RunRequest, error)
	Send(ctx context.Context, event wire.RunEvent) error
	CloseInput() error
	Close() error
	SupportsBackgroundReceive() bool
}

// StepFunc invokes the composed step pipeline for one non-cancelled turn.
// Its return value becomes the turn's final_output unless it returns a
// *toolpipeline.StopError (recognized structurally via the Stopper
// interface below), in which case the turn ends with status=stopped.
type StepFunc func(ctx context.Context, turnID string, text string) (string, error)

// Stopper is implemented by an error that should end the turn with
// status=stopped rather than status=failed (matched via errors.As so
// StepFunc implementations do not need to import toolpipeline directly).
type Stopper interface {
	error
	StopOutput() string
}
