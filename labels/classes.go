package labels

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// ClassID is the canonical class identifier: an index into the configured
// class list. Detector adapters and the label loader both translate into it
// before any matching happens.
type ClassID int

// ClassMap resolves class indices and class names to ClassID.
//
// A nil or empty ClassMap accepts any non-negative integer index and rejects
// names, since there is nothing to resolve them against.
type ClassMap struct {
	names []string
	index map[string]ClassID
}

// NewClassMap builds a ClassMap where names[i] is class i.
// Names are matched case-insensitively and must be unique.
func NewClassMap(names ...string) (*ClassMap, error) {
	m := &ClassMap{
		names: make([]string, len(names)),
		index: make(map[string]ClassID, len(names)),
	}
	for i, name := range names {
		key := foldName(name)
		if key == "" {
			return nil, fmt.Errorf("class %d: empty name", i)
		}
		if prev, ok := m.index[key]; ok {
			return nil, fmt.Errorf("class %d: name %q duplicates class %d", i, name, prev)
		}
		m.names[i] = strings.TrimSpace(name)
		m.index[key] = ClassID(i)
	}
	return m, nil
}

// Len returns the number of named classes.
func (m *ClassMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.names)
}

// Names returns a copy of the class names in index order.
func (m *ClassMap) Names() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.names...)
}

// Resolve translates a class token, either an integer index or a class name.
func (m *ClassMap) Resolve(token string) (ClassID, error) {
	token = strings.TrimSpace(token)
	if n, err := strconv.Atoi(token); err == nil {
		return m.FromIndex(n)
	}
	if m.Len() == 0 {
		return 0, fmt.Errorf("%w: %q (no class names configured)", ErrUnknownClass, token)
	}
	id, ok := m.index[foldName(token)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownClass, token)
	}
	return id, nil
}

// FromIndex validates a raw class index, as produced by a model head.
func (m *ClassMap) FromIndex(i int) (ClassID, error) {
	if i < 0 {
		return 0, fmt.Errorf("%w: negative index %d", ErrUnknownClass, i)
	}
	if n := m.Len(); n > 0 && i >= n {
		return 0, fmt.Errorf("%w: index %d out of range [0,%d)", ErrUnknownClass, i, n)
	}
	return ClassID(i), nil
}

// Name returns the class name for id, or its decimal index when unnamed.
func (m *ClassMap) Name(id ClassID) string {
	if int(id) >= 0 && int(id) < m.Len() {
		return m.names[id]
	}
	return strconv.Itoa(int(id))
}

func foldName(name string) string {
	// Casers carry state; one per call.
	return cases.Fold().String(strings.TrimSpace(name))
}
