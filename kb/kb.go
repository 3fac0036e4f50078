package kb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/groundstation/model"
)

// ErrSatelliteNotFound is returned when a name is not in the set.
var ErrSatelliteNotFound = errors.New("satellite not found")

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventSatelliteAdded EventType = iota
	EventSatelliteRemoved
	EventCleared
)

// Event is emitted to subscribers when the satellite set changes.
type Event struct {
	Type      EventType
	Satellite string
	Count     int
}

// KnowledgeBase is the session's satellite set: an in-memory, thread-safe,
// insertion-ordered collection keyed by satellite name.
//
// Readers get snapshots; the lock is never held while callers iterate, so the
// tracker can scan the set while a setup path adds or removes entries.
type KnowledgeBase struct {
	mu sync.RWMutex

	order  []*model.Satellite
	byName map[string]*model.Satellite

	subs map[int]func(Event)
	next int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		byName: make(map[string]*model.Satellite),
		subs:   make(map[int]func(Event)),
	}
}

// AddSatellite appends sat to the set. It returns an error if the name
// already exists.
func (kb *KnowledgeBase) AddSatellite(sat *model.Satellite) error {
	if sat == nil {
		return fmt.Errorf("satellite is nil")
	}
	kb.mu.Lock()
	if _, exists := kb.byName[sat.Name]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("satellite %q already exists", sat.Name)
	}
	kb.byName[sat.Name] = sat
	kb.order = append(kb.order, sat)
	ev := Event{Type: EventSatelliteAdded, Satellite: sat.Name, Count: len(kb.order)}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, ev)
	return nil
}

// RemoveSatellite drops the named satellite from the set.
func (kb *KnowledgeBase) RemoveSatellite(name string) error {
	kb.mu.Lock()
	if _, ok := kb.byName[name]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSatelliteNotFound, name)
	}
	delete(kb.byName, name)
	for i, s := range kb.order {
		if s.Name == name {
			kb.order = append(kb.order[:i], kb.order[i+1:]...)
			break
		}
	}
	ev := Event{Type: EventSatelliteRemoved, Satellite: name, Count: len(kb.order)}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, ev)
	return nil
}

// Clear removes every satellite.
func (kb *KnowledgeBase) Clear() {
	kb.mu.Lock()
	kb.order = nil
	kb.byName = make(map[string]*model.Satellite)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventCleared})
}

// GetSatellite returns the satellite with the given name, or nil if not found.
func (kb *KnowledgeBase) GetSatellite(name string) *model.Satellite {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.byName[name]
}

// ListSatellites returns a snapshot of the set in insertion order.
func (kb *KnowledgeBase) ListSatellites() []*model.Satellite {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.Satellite, len(kb.order))
	copy(res, kb.order)
	return res
}

// Len returns the number of satellites.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.order)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.next
	kb.next++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	subs := make([]func(Event), 0, len(kb.subs))
	for _, fn := range kb.subs {
		subs = append(subs, fn)
	}
	return subs
}

// Subscribers run outside the lock to avoid deadlocks.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
