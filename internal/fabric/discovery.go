package fabric

import (
	"context"
	"time"
)

// IncomingHandler services one inbound invocation addressed to this
// process by a remote transport: capability lookup, dispatch to the local
// registry, and response wrapping are all the handler's responsibility
// (spec §4.F incoming routing).
type IncomingHandler func(ctx context.Context, senderID string, capability string, arguments []byte) ([]byte, error)

// DiscoverFilter narrows a filtered discovery call to members that accept
// or provide at least one of the named perceptions/capabilities (spec.md's
// discover(accepts|provides, timeout)). The zero value matches every
// member, equivalent to an unfiltered DiscoverAll.
type DiscoverFilter struct {
	Accepts  []string
	Provides []string
}

// DiscoveryTransport is a pluggable source of remote members plus the
// ability to invoke a capability on one of them. Community holds a set of
// these and periodically re-diffs DiscoverAll's result against its member
// cache (spec §4.F). A transport that cannot invoke remotely (discovery
// only) may return ErrNoTransportAvailable from Invoke.
type DiscoveryTransport interface {
	// Name identifies the transport in log entries.
	Name() string

	// DiscoverAll returns every member currently visible to this
	// transport. Implementations may block up to timeout.
	DiscoverAll(ctx context.Context, timeout time.Duration) ([]Member, error)

	// Discover returns the members currently visible to this transport
	// that match filter, without the caller paying for a broad
	// DiscoverAll and filtering client-side every time (spec.md's
	// filtered discover(accepts|provides, timeout)).
	Discover(ctx context.Context, filter DiscoverFilter, timeout time.Duration) ([]Member, error)

	// Resolve looks up a single member by id as currently seen by this
	// transport (spec.md's resolve(peer_id)).
	Resolve(ctx context.Context, peerID string, timeout time.Duration) (Member, bool, error)

	// Invoke sends an invocation to peerID's capability over this
	// transport and waits up to timeout for a result.
	Invoke(ctx context.Context, peerID, capability string, arguments []byte, timeout time.Duration) ([]byte, error)

	// SetIncomingHandler installs the handler this transport must call
	// for each inbound invocation it receives from a remote peer.
	SetIncomingHandler(handler IncomingHandler)
}

// filterMembers narrows members to those matching filter. The zero
// DiscoverFilter matches everything, so Discover degrades to DiscoverAll
// when the caller passes no filter.
func filterMembers(members []Member, filter DiscoverFilter) []Member {
	if len(filter.Accepts) == 0 && len(filter.Provides) == 0 {
		return members
	}
	var out []Member
	for _, m := range members {
		matched := false
		for _, a := range filter.Accepts {
			if m.AcceptsPerception(a) {
				matched = true
				break
			}
		}
		if !matched {
			for _, p := range filter.Provides {
				if m.ProvidesCapability(p) {
					matched = true
					break
				}
			}
		}
		if matched {
			out = append(out, m)
		}
	}
	return out
}

// MemberEventKind discriminates a Community membership-change notification.
type MemberEventKind string

const (
	MemberJoined             MemberEventKind = "member_joined"
	MemberLeft               MemberEventKind = "member_left"
	MemberUpdated            MemberEventKind = "member_updated"
	MemberBecameAvailable    MemberEventKind = "member_became_available"
	MemberBecameUnavailable  MemberEventKind = "member_became_unavailable"
)

// MemberEvent is emitted on the event bus whenever a discovery re-diff
// detects a change (spec §4.F, §4.E integration).
type MemberEvent struct {
	Kind   MemberEventKind
	Member Member
}
