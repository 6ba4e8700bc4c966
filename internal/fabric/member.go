// Package fabric is the actor-system abstraction that discovers peers,
// routes outgoing invocations to the local actor registry or a remote
// transport, and services incoming invocations by dispatching into the
// permission engine, hook chain, and tool execution pipeline. It is the
// core's Distributed Message Fabric (component F).
package fabric

// Member is a discoverable peer: an id, optional display name, the set of
// perception identifiers it accepts, the set of capability identifiers it
// provides, an availability flag, and free-form metadata. Member is a
// plain value, copied freely; id is unique within one Community snapshot.
type Member struct {
	ID        string
	Name      string
	Accepts   map[string]struct{}
	Provides  map[string]struct{}
	Available bool
	Metadata  map[string]string

	// PairingToken and Permissions are the supplemented node-pairing
	// extension (grounded in the teacher's internal/nodes package): a
	// member paired through a one-time token carries a capability-scoped
	// permission map consulted by the incoming-invocation handler in
	// addition to the local permission engine.
	PairingToken string
	Permissions  map[string]bool
}

// NewMember builds a Member from accepts/provides slices, the common
// construction path for discovery transports and tests.
func NewMember(id string, accepts, provides []string) Member {
	m := Member{
		ID:        id,
		Available: true,
		Accepts:   make(map[string]struct{}, len(accepts)),
		Provides:  make(map[string]struct{}, len(provides)),
	}
	for _, a := range accepts {
		m.Accepts[a] = struct{}{}
	}
	for _, p := range provides {
		m.Provides[p] = struct{}{}
	}
	return m
}

// AcceptsPerception reports whether the member accepts perception.
func (m Member) AcceptsPerception(perception string) bool {
	_, ok := m.Accepts[perception]
	return ok
}

// ProvidesCapability reports whether the member provides capability.
func (m Member) ProvidesCapability(capability string) bool {
	_, ok := m.Provides[capability]
	return ok
}

// PermissionFor consults the member's pairing-scoped capability
// permissions, if any were granted. A member with no Permissions map is
// treated as unrestricted by pairing (the permission engine and the local
// tool ceiling still apply independently).
func (m Member) PermissionFor(capability string) bool {
	if m.Permissions == nil {
		return true
	}
	allowed, ok := m.Permissions[capability]
	return !ok || allowed
}

// Equal reports whether two members describe the same peer snapshot.
func (m Member) Equal(other Member) bool {
	if m.ID != other.ID || m.Name != other.Name || m.Available != other.Available {
		return false
	}
	if !stringSetEqual(m.Accepts, other.Accepts) || !stringSetEqual(m.Provides, other.Provides) {
		return false
	}
	if len(m.Metadata) != len(other.Metadata) {
		return false
	}
	for k, v := range m.Metadata {
		if other.Metadata[k] != v {
			return false
		}
	}
	return true
}

func stringSetEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
