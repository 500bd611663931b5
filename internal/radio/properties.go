package radio

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/flexlink-project/flexlink/internal/protocol"
)

// fieldKind selects how a wire token is decoded and stored.
type fieldKind int

const (
	fieldString fieldKind = iota
	fieldInt
	fieldFloat
	fieldBool
	fieldHz        // MHz on the wire, integer Hz in the store
	fieldList      // comma separated
	fieldCaretList // '^' separated
	fieldID        // stream handle, normalized
	fieldQuoted    // string with surrounding quotes removed
)

// schema is the closed token vocabulary of one object kind.
type schema map[string]fieldKind

// Properties is the synchronized field store behind every registry entry and
// radio-level area. Reads share the lock; a write excludes every other access
// to the same store only.
type Properties struct {
	mu      sync.RWMutex
	schema  schema
	aliases map[string]string
	values  map[string]interface{}

	// open stores tokens missing from the schema as unquoted strings instead
	// of reporting them unknown. Used for radio-level areas.
	open bool
}

func newProperties(s schema, aliases map[string]string) *Properties {
	return &Properties{
		schema:  s,
		aliases: aliases,
		values:  make(map[string]interface{}),
	}
}

func newOpenProperties(s schema) *Properties {
	p := newProperties(s, nil)
	p.open = true
	return p
}

type stagedValue struct {
	key   string
	value interface{}
}

// Apply decodes kvs against the schema and commits the result atomically.
// Unknown tokens are returned, not applied. A malformed value aborts the
// whole batch before anything is written. changed lists each key whose stored
// value actually differs afterwards.
func (p *Properties) Apply(kvs protocol.KeyValues) (changed, unknown []string, err error) {
	staged := make([]stagedValue, 0, len(kvs))
	for _, kv := range kvs {
		key := kv.Key
		if alias, ok := p.aliases[key]; ok {
			key = alias
		}
		kind, ok := p.schema[key]
		if !ok && p.open {
			kind, ok = fieldQuoted, true
		}
		if !ok {
			unknown = append(unknown, kv.Key)
			continue
		}
		v, err := decodeField(kind, kv.Value)
		if err != nil {
			return nil, unknown, fmt.Errorf("token %s: %w", kv.Key, err)
		}
		staged = append(staged, stagedValue{key: key, value: v})
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(staged))
	for _, s := range staged {
		old, had := p.values[s.key]
		if had && valuesEqual(old, s.value) {
			continue
		}
		p.values[s.key] = s.value
		if !seen[s.key] {
			seen[s.key] = true
			changed = append(changed, s.key)
		}
	}
	return changed, unknown, nil
}

// Set stores v under key when it differs from the current value. The
// comparison and write happen under one lock so concurrent setters cannot
// both observe the stale value.
func (p *Properties) Set(key string, v interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.values[key]; ok && valuesEqual(old, v) {
		return false
	}
	p.values[key] = v
	return true
}

// Get returns the raw stored value.
func (p *Properties) Get(key string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

func (p *Properties) String(key string) string {
	v, _ := p.Get(key)
	s, _ := v.(string)
	return s
}

func (p *Properties) Int(key string) int {
	v, _ := p.Get(key)
	i, _ := v.(int)
	return i
}

func (p *Properties) Float(key string) float64 {
	v, _ := p.Get(key)
	f, _ := v.(float64)
	return f
}

func (p *Properties) Bool(key string) bool {
	v, _ := p.Get(key)
	b, _ := v.(bool)
	return b
}

// Strings returns a copy of a list field.
func (p *Properties) Strings(key string) []string {
	v, _ := p.Get(key)
	list, _ := v.([]string)
	return append([]string(nil), list...)
}

// Snapshot copies every stored value.
func (p *Properties) Snapshot() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]interface{}, len(p.values))
	for k, v := range p.values {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in sorted order.
func (p *Properties) Keys() []string {
	p.mu.RLock()
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	p.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// reset drops every stored value.
func (p *Properties) reset() {
	p.mu.Lock()
	p.values = make(map[string]interface{})
	p.mu.Unlock()
}

func decodeField(kind fieldKind, raw string) (interface{}, error) {
	switch kind {
	case fieldInt:
		return protocol.ParseInt(raw)
	case fieldFloat:
		return protocol.ParseFloat(raw)
	case fieldBool:
		return protocol.ParseBool(raw), nil
	case fieldHz:
		return protocol.MHzToHz(raw)
	case fieldList:
		return nonNil(protocol.ParseValues(raw, ",")), nil
	case fieldCaretList:
		return nonNil(protocol.ParseValues(raw, "^")), nil
	case fieldID:
		return protocol.StreamID(raw), nil
	case fieldQuoted:
		return strings.Trim(raw, `"`), nil
	default:
		return raw, nil
	}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func valuesEqual(a, b interface{}) bool {
	la, aList := a.([]string)
	lb, bList := b.([]string)
	if aList || bList {
		if !aList || !bList || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if la[i] != lb[i] {
				return false
			}
		}
		return true
	}
	return a == b
}
