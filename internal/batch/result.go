package batch

import (
	"bytes"
	"encoding/json"
)

// Path addresses a location in a response tree. Elements are response
// keys (string) or list indices (int), ordered root-first.
type Path []any

// Error is a GraphQL response error attributed to one request.
type Error struct {
	Message    string         `json:"message"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e Error) Error() string { return e.Message }

// Result is the per-request outcome delivered through a completion
// handle: the data slice in the caller's requested field order, plus
// the errors attributed to that caller.
type Result struct {
	Data       *OrderedMap    `json:"data"`
	Errors     []Error        `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
	Context    map[string]any `json:"-"`
}

// MergedResult is the single outcome of dispatching a merged request.
// Data keys are merged aliases. Extensions and Context are not
// request-specific and are copied to every member during demux.
type MergedResult struct {
	Data       map[string]any
	Errors     []Error
	Extensions map[string]any
	Context    map[string]any
}

// OrderedMap is a string-keyed map that remembers insertion order.
// encoding/json sorts plain map keys on output; response data must keep
// the field order the caller requested.
type OrderedMap struct {
	keys   []string
	values map[string]any
}

func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]any)}
}

// Set writes key. A rewrite keeps the key's original position.
func (m *OrderedMap) Set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *OrderedMap) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	return append([]string(nil), m.keys...)
}

func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
