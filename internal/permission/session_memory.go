package permission

import (
	"encoding/json"
	"sort"
	"sync"
)

// memoryVerdict is what session memory remembers about a (tool, args) pair:
// always-allow or always-block, stamped by a prior interactive decision.
type memoryVerdict bool

const (
	memoryAllow memoryVerdict = true
	memoryBlock memoryVerdict = false
)

// sessionMemory remembers prior always-allow/always-block stamps keyed on
// (tool, canonical arguments), owned exclusively by Engine.
type sessionMemory struct {
	mu    sync.Mutex
	stamp map[string]memoryVerdict
}

func newSessionMemory() *sessionMemory {
	return &sessionMemory{stamp: make(map[string]memoryVerdict)}
}

// canonicalArgsKey stably encodes arbitrary JSON arguments with sorted keys
// so field order in the caller's arguments never defeats memoization.
func canonicalArgsKey(tool string, argumentsJSON []byte) string {
	var decoded any
	if err := json.Unmarshal(argumentsJSON, &decoded); err != nil {
		return tool + "\x00" + string(argumentsJSON)
	}
	canon := canonicalizeValue(decoded)
	b, err := json.Marshal(canon)
	if err != nil {
		return tool + "\x00" + string(argumentsJSON)
	}
	return tool + "\x00" + string(b)
}

// canonicalizeValue rebuilds nested maps and slices recursively, visiting
// map keys in sorted order. The result is still made of map[string]any
// values; the stable key order of the final encoding comes from
// json.Marshal, which sorts map[string]any keys.
func canonicalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = canonicalizeValue(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return val
	}
}

func (m *sessionMemory) lookup(tool string, argumentsJSON []byte) (memoryVerdict, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.stamp[canonicalArgsKey(tool, argumentsJSON)]
	return v, ok
}

func (m *sessionMemory) remember(tool string, argumentsJSON []byte, verdict memoryVerdict) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp[canonicalArgsKey(tool, argumentsJSON)] = verdict
}

// reset clears all stamped verdicts. Idempotent.
func (m *sessionMemory) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp = make(map[string]memoryVerdict)
}
