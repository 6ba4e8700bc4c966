package runloop

import (
	"container/list"
	"sync"
)

// DefaultCompletedTurnCapacity is the default size of the completed-turn
// LRU, consistent with the teacher's other bounded in-memory caches.
const DefaultCompletedTurnCapacity = 512

// completedTurns is a bounded, thread-safe LRU set of turn ids, used by the
// run loop to implement idempotency (spec §4.D).
type completedTurns struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newCompletedTurns(capacity int) *completedTurns {
	if capacity <= 0 {
		capacity = DefaultCompletedTurnCapacity
	}
	return &completedTurns{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Add marks turnID complete, evicting the least-recently-added entry if the
// LRU is at capacity.
func (c *completedTurns) Add(turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.index[turnID]; exists {
		return
	}
	el := c.order.PushBack(turnID)
	c.index[turnID] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(string))
		}
	}
}

// Contains reports whether turnID is present.
func (c *completedTurns) Contains(turnID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[turnID]
	return ok
}
