package eventbus

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitRunsHandlersConcurrently(t *testing.T) {
	b := New()
	b.On("slow", func(e Event) { time.Sleep(50 * time.Millisecond) })
	b.On("slow", func(e Event) { time.Sleep(50 * time.Millisecond) })

	start := time.Now()
	b.Emit(Event{Name: "slow"})
	if elapsed := time.Since(start); elapsed >= 100*time.Millisecond {
		t.Fatalf("handlers did not run concurrently, took %v", elapsed)
	}
}

func TestEmitWaitsForAllHandlers(t *testing.T) {
	b := New()
	var done int32
	for i := 0; i < 5; i++ {
		b.On("ev", func(e Event) { atomic.AddInt32(&done, 1) })
	}
	b.Emit(Event{Name: "ev"})
	if atomic.LoadInt32(&done) != 5 {
		t.Fatalf("expected all 5 handlers to complete before Emit returns, got %d", done)
	}
}

func TestOffRemovesHandlers(t *testing.T) {
	b := New()
	var called bool
	b.On("ev", func(e Event) { called = true })
	b.Off("ev")
	b.Emit(Event{Name: "ev"})
	if called {
		t.Fatal("handler fired after Off")
	}
}

func TestEmitWithNoHandlersIsNoop(t *testing.T) {
	b := New()
	b.Emit(Event{Name: "nobody-listens"})
}

func TestPolymorphicValue(t *testing.T) {
	type toolStarted struct{ Tool string }
	type sessionStarted struct{ Session string }

	b := New()
	var gotTool, gotSession bool
	b.On("lifecycle", func(e Event) {
		switch v := e.Value.(type) {
		case toolStarted:
			gotTool = v.Tool == "Bash"
		case sessionStarted:
			gotSession = v.Session == "s1"
		}
	})
	b.Emit(Event{Name: "lifecycle", Value: toolStarted{Tool: "Bash"}})
	b.Emit(Event{Name: "lifecycle", Value: sessionStarted{Session: "s1"}})
	if !gotTool || !gotSession {
		t.Fatal("expected handler to narrow polymorphic payload by type")
	}
}
