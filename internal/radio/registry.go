package radio

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/protocol"
)

// Object is the common surface of every registry entry.
type Object interface {
	ID() string
	Kind() events.ObjectKind
	Acknowledged() bool
	Properties() map[string]interface{}

	base() *entry
}

// entry holds what every registry entry shares: the immutable id, the field
// store, the acknowledged flag and the back reference used for commands.
type entry struct {
	id    string
	kind  events.ObjectKind
	radio *Radio
	props *Properties
	acked atomic.Bool
	ready func(p *Properties) bool
}

func newEntry(r *Radio, kind events.ObjectKind, id string, s schema, aliases map[string]string, ready func(p *Properties) bool) *entry {
	return &entry{
		id:    id,
		kind:  kind,
		radio: r,
		props: newProperties(s, aliases),
		ready: ready,
	}
}

func (e *entry) ID() string                         { return e.id }
func (e *entry) Kind() events.ObjectKind            { return e.kind }
func (e *entry) Acknowledged() bool                 { return e.acked.Load() }
func (e *entry) Properties() map[string]interface{} { return e.props.Snapshot() }
func (e *entry) base() *entry                       { return e }

// acknowledge flips the acknowledged flag the first time the readiness
// predicate holds. It reports whether this call performed the flip.
func (e *entry) acknowledge() bool {
	if e.acked.Load() {
		return false
	}
	if e.ready != nil && !e.ready(e.props) {
		return false
	}
	return e.acked.CompareAndSwap(false, true)
}

// mutate stores a locally requested value and, only if it changed, notifies
// observers and sends command to the radio.
func (e *entry) mutate(key string, value interface{}, command string) error {
	if !e.props.Set(key, value) {
		return nil
	}
	e.radio.emit(events.EventObjectUpdated, events.ObjectUpdatedPayload{
		Kind: e.kind, ID: e.id, Changed: []string{key},
	})
	_, err := e.radio.Send(command, nil)
	return err
}

// send issues a command on behalf of the entry.
func (e *entry) send(command string) error {
	_, err := e.radio.Send(command, nil)
	return err
}

// registry is one per-kind collection of live entries, keyed by id.
type registry[T Object] struct {
	mu    sync.RWMutex
	kind  events.ObjectKind
	items map[string]T
}

func newRegistry[T Object](kind events.ObjectKind) *registry[T] {
	return &registry[T]{kind: kind, items: make(map[string]T)}
}

func (g *registry[T]) Get(id string) (T, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	obj, ok := g.items[id]
	return obj, ok
}

// List returns the entries sorted by id, numerically when ids are numbers.
func (g *registry[T]) List() []T {
	g.mu.RLock()
	out := make([]T, 0, len(g.items))
	for _, obj := range g.items {
		out = append(out, obj)
	}
	g.mu.RUnlock()

	sortObjects(out)
	return out
}

func (g *registry[T]) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.items)
}

func (g *registry[T]) put(obj T) {
	g.mu.Lock()
	g.items[obj.ID()] = obj
	g.mu.Unlock()
}

func (g *registry[T]) remove(id string) {
	g.mu.Lock()
	delete(g.items, id)
	g.mu.Unlock()
}

func (g *registry[T]) clear() {
	g.mu.Lock()
	g.items = make(map[string]T)
	g.mu.Unlock()
}

func (g *registry[T]) objects() []Object {
	list := g.List()
	out := make([]Object, len(list))
	for i, obj := range list {
		out[i] = obj
	}
	return out
}

func sortObjects[T Object](list []T) {
	sort.Slice(list, func(i, j int) bool { return idLess(list[i].ID(), list[j].ID()) })
}

func idLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

// updateRegistry applies one status line to a collection:
//  1. removal: notify (synchronously) then delete, or no-op for unknown ids
//  2. otherwise look up or create and insert before decoding
//  3. decode the tokens; unknown tokens are logged and skipped
//  4. acknowledge once the readiness predicate first holds
//
// It returns the entry the line applied to, or nil when it was removed or
// skipped.
func updateRegistry[T Object](r *Radio, g *registry[T], id string, kvs protocol.KeyValues, removed bool, create func(id string) T) (T, bool) {
	var zero T

	if id == "" {
		r.logger.Warn().Str("kind", g.kind.String()).Msg("status without object id")
		return zero, false
	}

	if removed {
		obj, ok := g.Get(id)
		if !ok {
			r.logger.Debug().Str("kind", g.kind.String()).Str("id", id).Msg("removal for unknown object")
			return zero, false
		}
		r.retire(obj)
		g.remove(id)
		r.metrics.SetObjects(g.kind.String(), g.Len())
		return zero, false
	}

	obj, ok := g.Get(id)
	if !ok {
		obj = create(id)
		g.put(obj)
		r.metrics.SetObjects(g.kind.String(), g.Len())
	}

	e := obj.base()
	changed, unknown, err := e.props.Apply(kvs)
	for _, key := range unknown {
		r.logger.Debug().Str("kind", g.kind.String()).Str("id", id).Str("token", key).Msg("unknown token")
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("kind", g.kind.String()).Str("id", id).Msg("malformed status skipped")
		return zero, false
	}

	if len(changed) > 0 && e.Acknowledged() {
		r.emit(events.EventObjectUpdated, events.ObjectUpdatedPayload{Kind: g.kind, ID: id, Changed: changed})
	}

	if e.acknowledge() {
		r.logger.Debug().Str("kind", g.kind.String()).Str("id", id).Msg("object acknowledged")
		r.emit(events.EventObjectAdded, events.ObjectPayload{Kind: g.kind, ID: id, Object: obj})
	}
	return obj, true
}

// retire delivers the pre-removal notification. Handlers run to completion
// before the caller deletes the entry.
func (r *Radio) retire(obj Object) {
	if err := r.bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventObjectRemoving,
		Source:  sourceName,
		Payload: events.ObjectPayload{Kind: obj.Kind(), ID: obj.ID(), Object: obj},
	}); err != nil {
		r.logger.Warn().Err(err).Str("kind", obj.Kind().String()).Str("id", obj.ID()).Msg("removal handler failed")
	}
}
