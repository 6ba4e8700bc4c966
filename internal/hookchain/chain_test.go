package hookchain

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestHookParallelism is the literal scenario from spec §8.6: two
// pre_tool_use hooks at the same priority, each sleeping 50ms, must finish
// the tier in under 100ms, proving intra-tier concurrency.
func TestHookParallelism(t *testing.T) {
	c := New(nil)
	sleepy := func(ctx context.Context, hctx Context) (Result, error) {
		time.Sleep(50 * time.Millisecond)
		return Continue(), nil
	}
	c.Register(EventPreToolUse, sleepy, WithPriority(PriorityNormal))
	c.Register(EventPreToolUse, sleepy, WithPriority(PriorityNormal))

	start := time.Now()
	if _, err := c.Dispatch(context.Background(), EventPreToolUse, Context{ToolName: "Bash"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 100*time.Millisecond {
		t.Fatalf("tier took %v, expected concurrent execution under 100ms", elapsed)
	}
}

func TestHigherTierRunsBeforeLower(t *testing.T) {
	c := New(nil)
	var order []string
	record := func(label string) Handler {
		return func(ctx context.Context, hctx Context) (Result, error) {
			order = append(order, label)
			return Continue(), nil
		}
	}
	c.Register(EventPreToolUse, record("low"), WithPriority(PriorityLow))
	c.Register(EventPreToolUse, record("high"), WithPriority(PriorityHigh))

	if _, err := c.Dispatch(context.Background(), EventPreToolUse, Context{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Fatalf("expected [high low], got %v", order)
	}
}

func TestBlockStopsLowerTiers(t *testing.T) {
	c := New(nil)
	var lowerRan int32
	c.Register(EventPreToolUse, func(ctx context.Context, hctx Context) (Result, error) {
		return Result{Kind: ResultBlock, Reason: "no"}, nil
	}, WithPriority(PriorityHigh))
	c.Register(EventPreToolUse, func(ctx context.Context, hctx Context) (Result, error) {
		atomic.AddInt32(&lowerRan, 1)
		return Continue(), nil
	}, WithPriority(PriorityLow))

	agg, err := c.Dispatch(context.Background(), EventPreToolUse, Context{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if agg.Decision != DecisionBlock {
		t.Fatalf("expected DecisionBlock, got %v", agg.Decision)
	}
	if atomic.LoadInt32(&lowerRan) != 0 {
		t.Fatal("lower-priority tier ran after a blocking tier")
	}
}

func TestHandlerErrorAbortsDispatch(t *testing.T) {
	c := New(nil)
	boom := errors.New("boom")
	c.Register(EventPreToolUse, func(ctx context.Context, hctx Context) (Result, error) {
		return Result{}, boom
	})
	if _, err := c.Dispatch(context.Background(), EventPreToolUse, Context{}); err == nil {
		t.Fatal("expected dispatch error")
	}
}

func TestSessionStartDedup(t *testing.T) {
	c := New(nil)
	var calls int32
	c.Register(EventSessionStart, func(ctx context.Context, hctx Context) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Continue(), nil
	})

	for i := 0; i < 2; i++ {
		if _, err := c.Dispatch(context.Background(), EventSessionStart, Context{SessionID: "s1"}); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected dedup to run handlers once, got %d calls", calls)
	}

	c.ResetSession("s1")
	if _, err := c.Dispatch(context.Background(), EventSessionStart, Context{SessionID: "s1"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected reset to allow re-run, got %d calls", calls)
	}
}

func TestModificationPropagatesAcrossTiers(t *testing.T) {
	c := New(nil)
	var seenInput string
	c.Register(EventPreToolUse, func(ctx context.Context, hctx Context) (Result, error) {
		return Result{Kind: ResultAllowWithModifiedInput, ModifiedInput: `{"path":"/safe"}`}, nil
	}, WithPriority(PriorityHigh))
	c.Register(EventPreToolUse, func(ctx context.Context, hctx Context) (Result, error) {
		seenInput = hctx.ToolInput
		return Continue(), nil
	}, WithPriority(PriorityLow))

	if _, err := c.Dispatch(context.Background(), EventPreToolUse, Context{ToolInput: `{"path":"/etc"}`}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if seenInput != `{"path":"/safe"}` {
		t.Fatalf("expected modified input to propagate, got %q", seenInput)
	}
}

func TestAggregationMonotonicity(t *testing.T) {
	allContinue := Aggregate([]Result{Continue(), Continue()})
	if allContinue.Decision != DecisionContinue {
		t.Fatalf("expected Continue, got %v", allContinue.Decision)
	}
	withBlock := Aggregate([]Result{Continue(), {Kind: ResultBlock, Reason: "x"}})
	if withBlock.Decision != DecisionBlock {
		t.Fatalf("expected Block to dominate, got %v", withBlock.Decision)
	}
	withStop := Aggregate([]Result{{Kind: ResultBlock, Reason: "x"}, {Kind: ResultStop, Reason: "y"}})
	if withStop.Decision != DecisionStop {
		t.Fatalf("expected Stop to dominate over Block, got %v", withStop.Decision)
	}
}
