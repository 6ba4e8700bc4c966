package fabric

import (
	"context"
	"sync"

	"github.com/agentd/agentd/pkg/address"
	"github.com/agentd/agentd/pkg/capability"
)

// Handle is the local-dispatch contract for an actor registered in the
// fabric: Receive delivers an invocation and returns its result or error.
type Handle interface {
	Receive(ctx context.Context, perception string, arguments []byte) ([]byte, error)
}

// Terminator is optionally implemented by a Handle that needs to release
// resources when its actor resigns from the registry.
type Terminator interface {
	Terminate(ctx context.Context) error
}

// Registry is the sole owner of local actor identity: which addresses are
// live, which handle backs each, and which capability identifiers route to
// which address. The embedder registers and removes actors through
// ActorReady and ResignID; Community's Send and incoming handler only read
// it.
type Registry struct {
	mu                  sync.RWMutex
	byAddress           map[address.Address]Handle
	addressByMemberID   map[string]address.Address
	addressByCapability map[capability.ID]address.Address
}

// NewRegistry builds an empty local actor registry.
func NewRegistry() *Registry {
	return &Registry{
		byAddress:           make(map[address.Address]Handle),
		addressByMemberID:   make(map[string]address.Address),
		addressByCapability: make(map[capability.ID]address.Address),
	}
}

// AssignID mints a fresh address for a not-yet-registered actor.
func (r *Registry) AssignID() address.Address {
	return address.MustNew()
}

// ActorReady registers handle as the live implementation for addr under
// memberID, routable via each capability in provides. A capability already
// claimed by another address is reassigned to this one (last registration
// wins), matching how a respawned actor reclaims its prior capabilities.
func (r *Registry) ActorReady(memberID string, addr address.Address, handle Handle, provides []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAddress[addr] = handle
	r.addressByMemberID[memberID] = addr
	for _, raw := range provides {
		id, err := capability.Parse(raw)
		if err != nil {
			continue
		}
		r.addressByCapability[id] = addr
	}
}

// ResignID removes addr and every capability route pointing at it. If its
// handle implements Terminator, Terminate is called first.
func (r *Registry) ResignID(ctx context.Context, addr address.Address) error {
	r.mu.Lock()
	handle, ok := r.byAddress[addr]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.byAddress, addr)
	for id, a := range r.addressByMemberID {
		if a == addr {
			delete(r.addressByMemberID, id)
		}
	}
	for id, a := range r.addressByCapability {
		if a == addr {
			delete(r.addressByCapability, id)
		}
	}
	r.mu.Unlock()

	if t, ok := handle.(Terminator); ok {
		return t.Terminate(ctx)
	}
	return nil
}

// Resolve looks up the handle registered for addr.
func (r *Registry) Resolve(addr address.Address) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byAddress[addr]
	return h, ok
}

// ResolveMember looks up the handle registered for a local member id.
func (r *Registry) ResolveMember(memberID string) (Handle, bool) {
	r.mu.RLock()
	addr, ok := r.addressByMemberID[memberID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Resolve(addr)
}

// ResolveCapability looks up the handle registered for a dotted capability
// identifier, the incoming-invocation routing table (spec §4.F step 1-2).
// A malformed identifier simply fails to resolve.
func (r *Registry) ResolveCapability(capabilityStr string) (Handle, bool) {
	id, err := capability.Parse(capabilityStr)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	addr, ok := r.addressByCapability[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Resolve(addr)
}

// IsLocal reports whether memberID names an actor registered in this
// registry, used to decide local-dispatch vs remote-transport routing.
func (r *Registry) IsLocal(memberID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.addressByMemberID[memberID]
	return ok
}
