package toolpipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus is the lifecycle state of one ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

var (
	// ErrApprovalExpired is returned by Wait when the TTL elapses with no
	// response; the request's Status transitions to ApprovalExpired, which
	// the pipeline treats as denied (spec §9.3).
	ErrApprovalExpired = errors.New("toolpipeline: approval request expired")
	// ErrApprovalNotFound is returned by Respond for an unknown or already
	// resolved request id.
	ErrApprovalNotFound = errors.New("toolpipeline: approval request not found")
)

// ApprovalRequest is created when the permission engine yields
// ask_required; it correlates with an eventual ApprovalResponse (spec
// §6 RunRequest variant) by ID.
type ApprovalRequest struct {
	ID        string
	Tool      string
	Arguments []byte
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    ApprovalStatus
	Reason    string
}

type pendingApproval struct {
	request ApprovalRequest
	result  chan ApprovalRequest
	timer   *time.Timer
}

// ApprovalManager tracks TTL-bounded approval requests created when a
// permission check yields ask_required, grounded in the teacher's edge
// approval workflow: a request that is never answered expires into denied
// rather than blocking the turn indefinitely.
type ApprovalManager struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
}

// NewApprovalManager returns an empty ApprovalManager.
func NewApprovalManager() *ApprovalManager {
	return &ApprovalManager{pending: make(map[string]*pendingApproval)}
}

// Create registers a new pending request with the given TTL and returns its
// id. The caller awaits resolution via Wait.
func (m *ApprovalManager) Create(tool string, argumentsJSON []byte, ttl time.Duration) string {
	id := uuid.New().String()
	now := time.Now()
	req := ApprovalRequest{
		ID:        id,
		Tool:      tool,
		Arguments: argumentsJSON,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    ApprovalPending,
	}

	pa := &pendingApproval{request: req, result: make(chan ApprovalRequest, 1)}
	m.mu.Lock()
	m.pending[id] = pa
	m.mu.Unlock()

	pa.timer = time.AfterFunc(ttl, func() { m.expire(id) })
	return id
}

// Respond resolves a pending request with the caller's decision. Responding
// to an unknown or already-resolved id returns ErrApprovalNotFound.
func (m *ApprovalManager) Respond(id string, approved bool, reason string) error {
	m.mu.Lock()
	pa, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrApprovalNotFound
	}
	pa.timer.Stop()
	pa.request.Reason = reason
	if approved {
		pa.request.Status = ApprovalApproved
	} else {
		pa.request.Status = ApprovalDenied
	}
	pa.result <- pa.request
	return nil
}

func (m *ApprovalManager) expire(id string) {
	m.mu.Lock()
	pa, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	pa.request.Status = ApprovalExpired
	pa.result <- pa.request
}

// Wait blocks until id resolves (approved, denied, or expired) or ctx is
// done, whichever comes first.
func (m *ApprovalManager) Wait(ctx context.Context, id string) (ApprovalRequest, error) {
	m.mu.Lock()
	pa, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return ApprovalRequest{}, ErrApprovalNotFound
	}

	select {
	case req := <-pa.result:
		if req.Status == ApprovalExpired {
			return req, ErrApprovalExpired
		}
		return req, nil
	case <-ctx.Done():
		return ApprovalRequest{}, ctx.Err()
	}
}
