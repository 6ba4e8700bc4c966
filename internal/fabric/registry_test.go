package fabric

import (
	"context"
	"testing"
)

func TestRegistryActorReadyAndResolve(t *testing.T) {
	r := NewRegistry()
	addr := r.AssignID()
	h := funcHandle(func(ctx context.Context, perception string, arguments []byte) ([]byte, error) {
		return []byte("ok:" + perception), nil
	})
	r.ActorReady("alice", addr, h, []string{"agent.perception.work"})

	got, ok := r.Resolve(addr)
	if !ok {
		t.Fatal("expected address to resolve")
	}
	out, err := got.Receive(context.Background(), "work", nil)
	if err != nil || string(out) != "ok:work" {
		t.Fatalf("unexpected receive result: %q, %v", out, err)
	}

	if _, ok := r.ResolveMember("alice"); !ok {
		t.Fatal("expected member id to resolve")
	}
	if _, ok := r.ResolveCapability("agent.perception.work"); !ok {
		t.Fatal("expected capability to resolve")
	}
	if !r.IsLocal("alice") {
		t.Fatal("expected alice to be local")
	}
}

func TestRegistryResignIDRemovesAllMappings(t *testing.T) {
	r := NewRegistry()
	addr := r.AssignID()
	var terminated bool
	h := terminatingHandle{
		funcHandle: func(ctx context.Context, perception string, arguments []byte) ([]byte, error) { return nil, nil },
		onTerminate: func() { terminated = true },
	}
	r.ActorReady("bob", addr, h, []string{"agent.perception.work"})

	if err := r.ResignID(context.Background(), addr); err != nil {
		t.Fatalf("ResignID: %v", err)
	}
	if !terminated {
		t.Fatal("expected Terminate to be called")
	}
	if _, ok := r.Resolve(addr); ok {
		t.Fatal("expected address to be gone")
	}
	if _, ok := r.ResolveMember("bob"); ok {
		t.Fatal("expected member id to be gone")
	}
	if _, ok := r.ResolveCapability("agent.perception.work"); ok {
		t.Fatal("expected capability route to be gone")
	}
}

type terminatingHandle struct {
	funcHandle  func(ctx context.Context, perception string, arguments []byte) ([]byte, error)
	onTerminate func()
}

func (h terminatingHandle) Receive(ctx context.Context, perception string, arguments []byte) ([]byte, error) {
	return h.funcHandle(ctx, perception, arguments)
}

func (h terminatingHandle) Terminate(ctx context.Context) error {
	h.onTerminate()
	return nil
}
