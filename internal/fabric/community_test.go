package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/agentd/agentd/internal/eventbus"
)

func newTestCommunity() *Community {
	c := NewCommunity(NewRegistry(), eventbus.New())
	c.Limiter = NewRateLimiter(1000, 1000)
	return c
}

func TestSendRejectsUnavailableMember(t *testing.T) {
	c := newTestCommunity()
	m := NewMember("ghost", []string{"work"}, nil)
	m.Available = false
	if _, err := c.Send(context.Background(), "hi", m, "work"); err != ErrMemberUnavailable {
		t.Fatalf("expected ErrMemberUnavailable, got %v", err)
	}
}

func TestSendRejectsUnacceptedPerception(t *testing.T) {
	c := newTestCommunity()
	m := NewMember("alice", []string{"other"}, nil)
	if _, err := c.Send(context.Background(), "hi", m, "work"); err != ErrNoAcceptedPerceptions {
		t.Fatalf("expected ErrNoAcceptedPerceptions, got %v", err)
	}
}

func TestSendDispatchesLocallyWithoutTransport(t *testing.T) {
	c := newTestCommunity()
	addr := c.Registry.AssignID()
	c.Registry.ActorReady("alice", addr, funcHandle(func(ctx context.Context, perception string, arguments []byte) ([]byte, error) {
		return []byte("received:" + perception), nil
	}), []string{"agent.perception.work"})

	m := NewMember("alice", []string{"work"}, nil)
	out, err := c.Send(context.Background(), "hi", m, "work")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(out) != "received:work" {
		t.Fatalf("unexpected result: %q", out)
	}
}

// fakeDiscoveryTransport is a minimal DiscoveryTransport used to exercise remote
// send routing when the target member has no local registration.
type fakeDiscoveryTransport struct {
	invokeResult []byte
	invokeErr    error
	lastPeerID   string
	lastCap      string
	members      []Member
}

func (f *fakeDiscoveryTransport) Name() string { return "fake" }
func (f *fakeDiscoveryTransport) DiscoverAll(ctx context.Context, timeout time.Duration) ([]Member, error) {
	return nil, nil
}
func (f *fakeDiscoveryTransport) Discover(ctx context.Context, filter DiscoverFilter, timeout time.Duration) ([]Member, error) {
	return filterMembers(f.members, filter), nil
}
func (f *fakeDiscoveryTransport) Resolve(ctx context.Context, peerID string, timeout time.Duration) (Member, bool, error) {
	for _, m := range f.members {
		if m.ID == peerID {
			return m, true, nil
		}
	}
	return Member{}, false, nil
}
func (f *fakeDiscoveryTransport) Invoke(ctx context.Context, peerID, capability string, arguments []byte, timeout time.Duration) ([]byte, error) {
	f.lastPeerID = peerID
	f.lastCap = capability
	return f.invokeResult, f.invokeErr
}
func (f *fakeDiscoveryTransport) SetIncomingHandler(handler IncomingHandler) {}

func TestSendRoutesRemoteThroughTransport(t *testing.T) {
	c := newTestCommunity()
	transport := &fakeDiscoveryTransport{invokeResult: []byte("remote-ok")}
	c.AddTransport(transport)

	m := NewMember("remote-bob", []string{"work"}, nil)
	out, err := c.Send(context.Background(), "hi", m, "work")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(out) != "remote-ok" {
		t.Fatalf("unexpected result: %q", out)
	}
	if transport.lastPeerID != "remote-bob" || transport.lastCap != "agent.perception.work" {
		t.Fatalf("unexpected invoke args: %+v", transport)
	}
}

func TestHandleIncomingRoutesToLocalCapability(t *testing.T) {
	c := newTestCommunity()
	addr := c.Registry.AssignID()
	c.Registry.ActorReady("alice", addr, funcHandle(func(ctx context.Context, perception string, arguments []byte) ([]byte, error) {
		return []byte("handled:" + perception), nil
	}), []string{"agent.perception.work"})

	out, err := c.handleIncoming(context.Background(), "stranger", "agent.perception.work", nil)
	if err != nil {
		t.Fatalf("handleIncoming: %v", err)
	}
	if string(out) != "handled:work" {
		t.Fatalf("unexpected result: %q", out)
	}
}

func TestHandleIncomingUnknownCapability(t *testing.T) {
	c := newTestCommunity()
	if _, err := c.handleIncoming(context.Background(), "stranger", "agent.perception.nothing", nil); err == nil {
		t.Fatal("expected an error for an unrouted capability")
	}
}

func TestHandleIncomingDeniedByPairingPermissions(t *testing.T) {
	c := newTestCommunity()
	addr := c.Registry.AssignID()
	c.Registry.ActorReady("alice", addr, funcHandle(func(ctx context.Context, perception string, arguments []byte) ([]byte, error) {
		return []byte("should not run"), nil
	}), []string{"agent.perception.work"})

	restricted := NewMember("badactor", nil, nil)
	restricted.Permissions = map[string]bool{"agent.perception.work": false}
	c.diff(map[string]Member{"badactor": restricted})

	if _, err := c.handleIncoming(context.Background(), "badactor", "agent.perception.work", nil); err != ErrPairingPermissionDenied {
		t.Fatalf("expected ErrPairingPermissionDenied, got %v", err)
	}
}

func TestCommunityDiscoverFiltersAcrossTransports(t *testing.T) {
	c := newTestCommunity()
	c.AddTransport(&fakeDiscoveryTransport{members: []Member{
		NewMember("camera-bot", nil, []string{"camera"}),
		NewMember("mic-bot", nil, []string{"microphone"}),
	}})

	found := c.Discover(context.Background(), DiscoverFilter{Provides: []string{"camera"}}, time.Second)
	if len(found) != 1 {
		t.Fatalf("expected exactly 1 filtered member, got %d: %+v", len(found), found)
	}
	if _, ok := found["camera-bot"]; !ok {
		t.Fatalf("expected camera-bot among filtered results, got %+v", found)
	}
}

func TestCommunityResolvePeerStopsAtFirstHit(t *testing.T) {
	c := newTestCommunity()
	c.AddTransport(&fakeDiscoveryTransport{members: nil})
	c.AddTransport(&fakeDiscoveryTransport{members: []Member{NewMember("bob", nil, nil)}})

	m, ok := c.ResolvePeer(context.Background(), "bob", time.Second)
	if !ok {
		t.Fatal("expected bob to resolve via the second transport")
	}
	if m.ID != "bob" {
		t.Fatalf("unexpected resolved member: %+v", m)
	}

	if _, ok := c.ResolvePeer(context.Background(), "nobody", time.Second); ok {
		t.Fatal("expected no resolution for an unknown peer id")
	}
}

func TestDiffEmitsMembershipEvents(t *testing.T) {
	bus := eventbus.New()
	c := NewCommunity(NewRegistry(), bus)

	var events []MemberEvent
	bus.On(string(MemberJoined), func(e eventbus.Event) { events = append(events, e.Value.(MemberEvent)) })
	bus.On(string(MemberLeft), func(e eventbus.Event) { events = append(events, e.Value.(MemberEvent)) })

	c.diff(map[string]Member{"a": NewMember("a", nil, nil)})
	c.diff(map[string]Member{})

	if len(events) != 2 {
		t.Fatalf("expected join then leave, got %d events: %+v", len(events), events)
	}
	if events[0].Kind != MemberJoined || events[1].Kind != MemberLeft {
		t.Fatalf("unexpected event sequence: %+v", events)
	}
}
