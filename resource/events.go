// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import "sync"

// EventType identifies a lifecycle notification.
type EventType uint8

// Event types
const (
	eventNone EventType = iota
	EventCreated
	EventContentChanged
	EventDestroyed
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventContentChanged:
		return "content-changed"
	case EventDestroyed:
		return "destroyed"
	default:
		return "none"
	}
}

// Event is a lifecycle notification for one entity.
type Event struct {
	Type       EventType
	ID         ID
	Kind       string
	Descriptor LoadDescriptor
}

// Observer receives lifecycle events. Events are delivered on the
// maintenance goroutine, in the order they happened; an observer must
// not block.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(Event)

// OnResourceEvent implements Observer
func (f ObserverFunc) OnResourceEvent(e Event) {
	f(e)
}

// Subscription identifies a registered observer.
type Subscription uint64

type subscriber struct {
	sub Subscription
	obs Observer
}

// bus queues events raised on any goroutine and delivers them when the
// maintenance path flushes it.
type bus struct {
	mu      sync.Mutex
	pending []Event
	next    Subscription
	all     []subscriber
	byID    map[ID][]subscriber
}

func (b *bus) subscribe(id ID, o Observer) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	s := subscriber{sub: b.next, obs: o}
	if id == "" {
		b.all = append(b.all, s)
		return s.sub
	}
	if b.byID == nil {
		b.byID = make(map[ID][]subscriber)
	}
	b.byID[id] = append(b.byID[id], s)
	return s.sub
}

func (b *bus) unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = removeSubscriber(b.all, sub)
	for id, list := range b.byID {
		list = removeSubscriber(list, sub)
		if len(list) == 0 {
			delete(b.byID, id)
		} else {
			b.byID[id] = list
		}
	}
}

func removeSubscriber(list []subscriber, sub Subscription) []subscriber {
	for i, s := range list {
		if s.sub == sub {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func (b *bus) post(e Event) {
	if e.Type == eventNone {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, e)
	b.mu.Unlock()
}

// flush delivers every queued event and returns how many there were.
func (b *bus) flush() int {
	b.mu.Lock()
	events := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, e := range events {
		b.deliver(e)
	}
	return len(events)
}

func (b *bus) deliver(e Event) {
	b.mu.Lock()
	targets := make([]Observer, 0, len(b.all)+len(b.byID[e.ID]))
	for _, s := range b.all {
		targets = append(targets, s.obs)
	}
	for _, s := range b.byID[e.ID] {
		targets = append(targets, s.obs)
	}
	b.mu.Unlock()

	for _, o := range targets {
		o.OnResourceEvent(e)
	}
}
