// Package capability implements the dotted, namespaced identifiers used to
// address agent perceptions over the fabric.
package capability

import (
	"errors"
	"strings"
)

// ErrEmpty is returned when parsing an empty or whitespace-only string.
var ErrEmpty = errors.New("capability: id must not be empty")

// ErrInvalidSegment is returned when a dotted segment is empty, e.g. from a
// leading, trailing, or doubled dot.
var ErrInvalidSegment = errors.New("capability: empty segment in dotted id")

// ID is a dotted, namespaced identifier such as "agent.perception.work".
type ID struct {
	segments []string
}

// Parse validates and wraps a dotted identifier string.
func Parse(s string) (ID, error) {
	if strings.TrimSpace(s) == "" {
		return ID{}, ErrEmpty
	}
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if p == "" {
			return ID{}, ErrInvalidSegment
		}
	}
	segs := make([]string, len(parts))
	copy(segs, parts)
	return ID{segments: segs}, nil
}

// MustParse panics on an invalid identifier; for use with compile-time
// constant strings only.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// ForPerception builds the canonical "agent.perception.{name}" capability id
// used by the fabric's send-routing fallback (spec §4.F step 3).
func ForPerception(perception string) ID {
	return MustParse("agent.perception." + perception)
}

// String renders the canonical dotted form.
func (id ID) String() string {
	return strings.Join(id.segments, ".")
}

// Segments returns a copy of the dotted path components.
func (id ID) Segments() []string {
	out := make([]string, len(id.segments))
	copy(out, id.segments)
	return out
}

// IsZero reports whether id is the unset value.
func (id ID) IsZero() bool {
	return len(id.segments) == 0
}

// Equal reports whether two ids have identical segments.
func (id ID) Equal(other ID) bool {
	if len(id.segments) != len(other.segments) {
		return false
	}
	for i := range id.segments {
		if id.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// MarshalText implements encoding.TextMarshaler so an ID round-trips through
// JSON as its dotted string form.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
