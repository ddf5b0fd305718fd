package state

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Listener receives every validated value emitted for the keys it is
// subscribed to.
type Listener interface {
	Notify(key string, value any)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(key string, value any)

func (f ListenerFunc) Notify(key string, value any) { f(key, value) }

type subscription struct {
	id       uint64
	listener Listener
}

// Events is a schema-validated key/value store that broadcasts each
// accepted write to its listeners and keeps the last value per key.
// Listeners run synchronously, in registration order, before Emit returns.
// Concurrent emits of the same key may reach listeners in either order.
type Events struct {
	s *store

	lmu       sync.RWMutex
	listeners map[string][]subscription
	wildcard  []subscription
	seq       atomic.Uint64
}

// NewEvents creates an Events store restricted to the keys of s.
func NewEvents(s Schema, opts ...Option) *Events {
	o := applyOptions(opts)
	return &Events{
		s:         newStore("event", s, o.logger),
		listeners: make(map[string][]subscription),
	}
}

// On subscribes l to key and returns a function that unsubscribes it.
// Registering a comparable listener (a pointer or other comparable value)
// that is already subscribed to key is a no-op; the returned function still
// removes it. Go func values cannot be compared, so every On call with a
// ListenerFunc adds a separate subscription, even for the same func; use the
// returned function, not Off, to remove it.
func (e *Events) On(key string, l Listener) func() {
	e.lmu.Lock()
	defer e.lmu.Unlock()

	subs := e.listeners[key]
	if i := indexOf(subs, l); i >= 0 {
		id := subs[i].id
		return func() { e.remove(key, id) }
	}
	id := e.seq.Add(1)
	e.listeners[key] = append(subs, subscription{id: id, listener: l})
	return func() { e.remove(key, id) }
}

// OnAll subscribes l to every key. Wildcard listeners run after the
// listeners of the emitted key.
func (e *Events) OnAll(l Listener) func() {
	e.lmu.Lock()
	defer e.lmu.Unlock()

	if i := indexOf(e.wildcard, l); i >= 0 {
		id := e.wildcard[i].id
		return func() { e.remove("", id) }
	}
	id := e.seq.Add(1)
	e.wildcard = append(e.wildcard, subscription{id: id, listener: l})
	return func() { e.remove("", id) }
}

// Off unsubscribes a comparable listener from key. Function listeners can
// only be removed through the function returned by On.
func (e *Events) Off(key string, l Listener) {
	e.lmu.Lock()
	defer e.lmu.Unlock()

	subs := e.listeners[key]
	if i := indexOf(subs, l); i >= 0 {
		e.listeners[key] = append(subs[:i:i], subs[i+1:]...)
	}
}

func (e *Events) remove(key string, id uint64) {
	e.lmu.Lock()
	defer e.lmu.Unlock()

	subs := e.listeners[key]
	if key == "" {
		subs = e.wildcard
	}
	for i, s := range subs {
		if s.id != id {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		if key == "" {
			e.wildcard = subs
		} else {
			e.listeners[key] = subs
		}
		return
	}
}

// Emit validates value, stores it as the current state of key and notifies
// listeners. A rejected value is logged and reaches no listener.
func (e *Events) Emit(key string, value any) error {
	stored, err := e.s.put(key, value)
	if err != nil {
		return err
	}
	e.dispatch(key, stored)
	return nil
}

// Update emits fn(current). When key has no state yet, current is the
// default derived from the key's schema; without one, nothing is emitted.
// fn may run more than once under concurrent writers.
func (e *Events) Update(key string, fn func(current any) any) error {
	stored, err := e.s.swap(key, func(cur entry, ok bool) (any, error) {
		if ok {
			return cur.value, nil
		}
		v := e.s.schema[key]
		if v == nil {
			return nil, nil
		}
		return v.Default()
	}, fn)
	if err != nil {
		return err
	}
	e.dispatch(key, stored)
	return nil
}

// Get returns the current state of key.
func (e *Events) Get(key string) (any, bool) {
	en, ok := e.s.get(key)
	return en.value, ok
}

// GetState is an alias of Get.
func (e *Events) GetState(key string) (any, bool) {
	return e.Get(key)
}

// GetAllState returns a shallow snapshot of every emitted key.
func (e *Events) GetAllState() map[string]any {
	return e.s.snapshot()
}

// ListenerCount returns the number of listeners subscribed to key.
func (e *Events) ListenerCount(key string) int {
	e.lmu.RLock()
	defer e.lmu.RUnlock()
	return len(e.listeners[key])
}

func (e *Events) dispatch(key string, value any) {
	e.lmu.RLock()
	subs := make([]subscription, 0, len(e.listeners[key])+len(e.wildcard))
	subs = append(subs, e.listeners[key]...)
	subs = append(subs, e.wildcard...)
	e.lmu.RUnlock()

	for _, s := range subs {
		s.listener.Notify(key, value)
	}
}

func indexOf(subs []subscription, l Listener) int {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return -1
	}
	for i, s := range subs {
		if reflect.TypeOf(s.listener).Comparable() && s.listener == l {
			return i
		}
	}
	return -1
}
