package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentd/agentd/internal/eventbus"
	"github.com/agentd/agentd/internal/metrics"
	"github.com/agentd/agentd/pkg/capability"
)

// DefaultRediscoverInterval is how often Community re-runs discovery
// across its transports and diffs the result against its member cache
// (spec §4.F: "default 5s").
const DefaultRediscoverInterval = 5 * time.Second

// DefaultSendTimeout is the fallback timeout for a remote send when the
// caller does not specify one (spec §4.F step 3: "30-second default").
const DefaultSendTimeout = 30 * time.Second

// Community is the fabric's top-level coordinator: it owns the local
// Registry, the set of discovery transports, the member cache produced by
// periodic re-discovery, and the rate limiter and audit log guarding the
// invocation boundary.
type Community struct {
	Registry *Registry
	Bus      *eventbus.Bus
	Limiter  *RateLimiter
	Audit    *AuditLog

	RediscoverInterval time.Duration
	SendTimeout        time.Duration

	logger *slog.Logger

	mu         sync.RWMutex
	transports []DiscoveryTransport
	members    map[string]Member

	cancel context.CancelFunc
	done   chan struct{}
}

// CommunityOption configures a Community at construction.
type CommunityOption func(*Community)

// WithLogger installs a logger.
func WithLogger(l *slog.Logger) CommunityOption {
	return func(c *Community) { c.logger = l.With("component", "fabric") }
}

// WithAuditCapacity overrides the default 1024-entry audit log.
func WithAuditCapacity(n int) CommunityOption {
	return func(c *Community) { c.Audit = NewAuditLog(n) }
}

// WithRateLimit overrides the default per-key rate limit.
func WithRateLimit(rps float64, burst int) CommunityOption {
	return func(c *Community) { c.Limiter = NewRateLimiter(rps, burst) }
}

// NewCommunity builds a Community around registry and the event bus it
// publishes membership changes to.
func NewCommunity(registry *Registry, bus *eventbus.Bus, opts ...CommunityOption) *Community {
	c := &Community{
		Registry:           registry,
		Bus:                bus,
		Limiter:            NewRateLimiter(50, 100),
		Audit:              NewAuditLog(1024),
		RediscoverInterval: DefaultRediscoverInterval,
		SendTimeout:        DefaultSendTimeout,
		logger:             slog.Default().With("component", "fabric"),
		members:            make(map[string]Member),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddTransport registers a discovery transport and wires this community's
// incoming-invocation handler into it.
func (c *Community) AddTransport(t DiscoveryTransport) {
	t.SetIncomingHandler(c.handleIncoming)
	c.mu.Lock()
	c.transports = append(c.transports, t)
	c.mu.Unlock()
}

// Start launches the periodic re-discovery loop. Calling Start twice
// without an intervening Stop returns ErrAlreadyStarted.
func (c *Community) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.rediscoverLoop(loopCtx)
	return nil
}

// Stop ends the re-discovery loop and waits for it to exit.
func (c *Community) Stop() error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (c *Community) rediscoverLoop(ctx context.Context) {
	defer close(c.done)
	c.rediscoverOnce(ctx)
	ticker := time.NewTicker(c.RediscoverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.rediscoverOnce(ctx)
		}
	}
}

func (c *Community) rediscoverOnce(ctx context.Context) {
	c.mu.RLock()
	transports := append([]DiscoveryTransport(nil), c.transports...)
	c.mu.RUnlock()

	fresh := make(map[string]Member)
	for _, t := range transports {
		found, err := t.DiscoverAll(ctx, c.RediscoverInterval)
		if err != nil {
			c.logger.Warn("discovery failed", "transport", t.Name(), "error", err)
			continue
		}
		for _, m := range found {
			fresh[m.ID] = m
		}
	}
	c.diff(fresh)
}

// diff compares fresh against the cached member set and emits
// joined/left/updated/becameAvailable/becameUnavailable notifications.
func (c *Community) diff(fresh map[string]Member) {
	c.mu.Lock()
	prev := c.members
	c.members = fresh
	c.mu.Unlock()

	for id, m := range fresh {
		old, existed := prev[id]
		if !existed {
			c.emitMember(MemberJoined, m)
			continue
		}
		if old.Available != m.Available {
			if m.Available {
				c.emitMember(MemberBecameAvailable, m)
			} else {
				c.emitMember(MemberBecameUnavailable, m)
			}
		}
		if !old.Equal(m) {
			c.emitMember(MemberUpdated, m)
		}
	}
	for id, m := range prev {
		if _, still := fresh[id]; !still {
			c.emitMember(MemberLeft, m)
		}
	}
}

func (c *Community) emitMember(kind MemberEventKind, m Member) {
	if c.Bus == nil {
		return
	}
	c.Bus.Emit(eventbus.Event{Name: string(kind), Timestamp: time.Now(), Source: m.ID, Value: MemberEvent{Kind: kind, Member: m}})
}

// Member looks up a cached member by id. A cached member that is also
// registered in the local registry is always reported available, whatever
// the last discovery pass said (spec §4.F: "local agents are never marked
// unavailable by discovery"). An id registered locally but absent from the
// member cache is not found.
func (c *Community) Member(id string) (Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[id]
	if ok && c.Registry != nil && c.Registry.IsLocal(id) {
		m.Available = true
	}
	return m, ok
}

// Send routes a signal to a member: local in-process dispatch when the
// member is registered locally, otherwise a remote transport invocation
// (spec §4.F send routing, steps 1-3).
func (c *Community) Send(ctx context.Context, signal any, to Member, perception string) ([]byte, error) {
	if !to.Available {
		return nil, ErrMemberUnavailable
	}
	if !to.AcceptsPerception(perception) {
		return nil, ErrNoAcceptedPerceptions
	}

	payload, err := json.Marshal(signal)
	if err != nil {
		return nil, ErrSerializationFailed
	}

	if !c.Limiter.Allow(to.ID) {
		return nil, ErrRateLimited
	}

	capID := capability.ForPerception(perception)

	if handle, ok := c.Registry.ResolveMember(to.ID); ok {
		result, err := handle.Receive(ctx, perception, payload)
		c.recordAudit(AuditOutbound, capID.String(), to.ID, err)
		return result, err
	}

	result, err := c.invokeRemote(ctx, to.ID, capID.String(), payload)
	c.recordAudit(AuditOutbound, capID.String(), to.ID, err)
	return result, err
}

func (c *Community) invokeRemote(ctx context.Context, peerID, capability string, arguments []byte) ([]byte, error) {
	c.mu.RLock()
	transports := append([]DiscoveryTransport(nil), c.transports...)
	c.mu.RUnlock()

	for _, t := range transports {
		result, err := t.Invoke(ctx, peerID, capability, arguments, c.SendTimeout)
		if err == nil {
			return result, nil
		}
		c.logger.Debug("transport invoke failed, trying next", "transport", t.Name(), "error", err)
	}
	return nil, ErrNoTransportAvailable
}

// Discover runs a filtered discovery pass across every transport and
// merges the results, the same way rediscoverOnce merges DiscoverAll, but
// without touching the member cache (spec.md's filtered discover).
func (c *Community) Discover(ctx context.Context, filter DiscoverFilter, timeout time.Duration) map[string]Member {
	c.mu.RLock()
	transports := append([]DiscoveryTransport(nil), c.transports...)
	c.mu.RUnlock()

	out := make(map[string]Member)
	for _, t := range transports {
		found, err := t.Discover(ctx, filter, timeout)
		if err != nil {
			c.logger.Warn("filtered discovery failed", "transport", t.Name(), "error", err)
			continue
		}
		for _, m := range found {
			out[m.ID] = m
		}
	}
	return out
}

// ResolvePeer targets a single peer by id, trying each transport in turn
// and stopping at the first hit instead of paying for a full DiscoverAll
// merge (spec.md's resolve(peer_id)).
func (c *Community) ResolvePeer(ctx context.Context, peerID string, timeout time.Duration) (Member, bool) {
	c.mu.RLock()
	transports := append([]DiscoveryTransport(nil), c.transports...)
	c.mu.RUnlock()

	for _, t := range transports {
		m, ok, err := t.Resolve(ctx, peerID, timeout)
		if err != nil {
			c.logger.Debug("resolve failed, trying next transport", "transport", t.Name(), "error", err)
			continue
		}
		if ok {
			return m, true
		}
	}
	return Member{}, false
}

// handleIncoming implements the fabric's incoming-invocation routing
// (spec §4.F incoming routing, steps 1-5): resolve capability to a local
// handle, honor any pairing-scoped permission, dispatch, and wrap the
// result.
func (c *Community) handleIncoming(ctx context.Context, senderID, capabilityStr string, arguments []byte) ([]byte, error) {
	if !c.Limiter.Allow(senderID + ":" + capabilityStr) {
		c.recordAudit(AuditInbound, capabilityStr, senderID, ErrRateLimited)
		return nil, ErrRateLimited
	}

	id, err := capability.Parse(capabilityStr)
	if err != nil {
		wrapped := fmt.Errorf("%w: %s", ErrInvalidCapability, capabilityStr)
		c.recordAudit(AuditInbound, capabilityStr, senderID, wrapped)
		return nil, wrapped
	}

	if sender, ok := c.Member(senderID); ok && !sender.PermissionFor(id.String()) {
		c.recordAudit(AuditInbound, id.String(), senderID, ErrPairingPermissionDenied)
		return nil, ErrPairingPermissionDenied
	}

	handle, ok := c.Registry.ResolveCapability(id.String())
	if !ok {
		wrapped := fmt.Errorf("%w: %s", ErrMemberDoesNotProvide, id.String())
		c.recordAudit(AuditInbound, id.String(), senderID, wrapped)
		return nil, wrapped
	}

	perception := id.String()
	if segs := id.Segments(); len(segs) == 3 && segs[0] == "agent" && segs[1] == "perception" {
		perception = segs[2]
	}

	result, err := handle.Receive(ctx, perception, arguments)
	c.recordAudit(AuditInbound, id.String(), senderID, err)
	return result, err
}

func (c *Community) recordAudit(dir AuditDirection, capability, peerID string, err error) {
	entry := AuditEntry{
		Capability: capability,
		PeerID:     peerID,
		Direction:  dir,
		Success:    err == nil,
		Timestamp:  auditNow(),
	}
	outcome := "success"
	if err != nil {
		entry.ErrorCode = err.Error()
		outcome = "error"
	}
	c.Audit.Append(entry)
	metrics.FabricInvocationsTotal.WithLabelValues(capability, outcome).Inc()
}

// auditNow is isolated in its own function so tests can observe that
// audit timestamps are always populated without depending on wall-clock
// determinism elsewhere in the package.
func auditNow() time.Time { return time.Now() }
