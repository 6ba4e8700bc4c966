package runloop

import (
	"context"
	"testing"
	"time"

	"github.com/agentd/agentd/internal/toolpipeline"
	"github.com/agentd/agentd/pkg/wire"
)

// TestApprovalResponseResolvesPendingWait exercises the create
// (ApprovalManager.Create, the call the tool pipeline makes on
// ask_required) -> respond (via a RunRequestApprovalResponse on the loop's
// transport) -> Wait (a goroutine standing in for the blocked pipeline)
// path described in spec §9.3.
func TestApprovalResponseResolvesPendingWait(t *testing.T) {
	mgr := toolpipeline.NewApprovalManager()
	r := New(func(ctx context.Context, turnID, text string) (string, error) { return "", nil })
	r.Approvals = mgr
	transport := &fakeTransport{}

	id := mgr.Create("dangerous_tool", []byte(`{"arg":"v"}`), time.Minute)

	waited := make(chan toolpipeline.ApprovalRequest, 1)
	waitErrs := make(chan error, 1)
	go func() {
		req, err := mgr.Wait(context.Background(), id)
		waited <- req
		waitErrs <- err
	}()

	time.Sleep(10 * time.Millisecond) // let Wait register before Respond runs

	err := r.handleRequest(context.Background(), transport, wire.RunRequest{
		TurnID: "T",
		Kind:   wire.RunRequestApprovalResponse,
		ApprovalResponse: &wire.ApprovalResponse{
			RequestID: id,
			Approved:  true,
			Reason:    "looks fine",
		},
	})
	if err != nil {
		t.Fatalf("handleRequest: %v", err)
	}

	select {
	case req := <-waited:
		if req.Status != toolpipeline.ApprovalApproved {
			t.Fatalf("expected approved status, got %v", req.Status)
		}
		if req.Reason != "looks fine" {
			t.Fatalf("expected reason to round-trip, got %q", req.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for approval to resolve Wait")
	}
	if err := <-waitErrs; err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(transport.events) != 0 {
		t.Fatalf("expected no warning event for a resolved approval, got %+v", transport.events)
	}
}

func TestApprovalResponseWithoutManagerWarns(t *testing.T) {
	r := New(func(ctx context.Context, turnID, text string) (string, error) { return "", nil })
	transport := &fakeTransport{}

	err := r.handleRequest(context.Background(), transport, wire.RunRequest{
		TurnID: "T",
		Kind:   wire.RunRequestApprovalResponse,
		ApprovalResponse: &wire.ApprovalResponse{
			RequestID: "unknown",
			Approved:  true,
		},
	})
	if err != nil {
		t.Fatalf("handleRequest: %v", err)
	}
	events := transport.eventsFor("T")
	if len(events) != 1 || events[0].WarningCode != "APPROVAL_HANDLER_MISSING" {
		t.Fatalf("expected APPROVAL_HANDLER_MISSING warning, got %+v", events)
	}
}

func TestApprovalResponseUnknownIDWarns(t *testing.T) {
	mgr := toolpipeline.NewApprovalManager()
	r := New(func(ctx context.Context, turnID, text string) (string, error) { return "", nil })
	r.Approvals = mgr
	transport := &fakeTransport{}

	err := r.handleRequest(context.Background(), transport, wire.RunRequest{
		TurnID: "T",
		Kind:   wire.RunRequestApprovalResponse,
		ApprovalResponse: &wire.ApprovalResponse{
			RequestID: "never-created",
			Approved:  false,
		},
	})
	if err != nil {
		t.Fatalf("handleRequest: %v", err)
	}
	events := transport.eventsFor("T")
	if len(events) != 1 || events[0].WarningCode != "APPROVAL_REQUEST_NOT_FOUND" {
		t.Fatalf("expected APPROVAL_REQUEST_NOT_FOUND warning, got %+v", events)
	}
}
