// Package events provides a publish/subscribe event bus for operational
// observability over the orchestration pipeline: subtask state
// transitions, knowledge-base reloads, persona creation. The API's
// WebSocket event feed is its subscriber; the SSE chat stream does not
// read from the bus. The bus is
// nil-safe: calling Publish on a nil *Bus is a no-op, so components do
// not need guard checks.
//
// When a subscriber's channel is full, the bus drops the oldest queued
// event rather than the newest, so a slow consumer sees a continuous
// recent tail rather than getting stuck replaying stale events.
package events

import (
	"sync"
	"time"
)

// Source constants identify which pipeline component published an event.
const (
	// SourceOrchestrator identifies events from the top-level workflow
	// state machine (task started/finished).
	SourceOrchestrator = "orchestrator"
	// SourceTracker identifies events from the task tracker's subtask
	// state machine.
	SourceTracker = "tracker"
	// SourcePersona identifies events from the persona library.
	SourcePersona = "persona"
	// SourceAgent identifies events from an executing agent.
	SourceAgent = "agent"
	// SourceDelegation identifies events from the delegation optimizer.
	SourceDelegation = "delegation"
)

// Kind constants describe the type of event within a source. This is
// the closed set of event kinds the pipeline publishes.
const (
	// KindTaskStarted signals a new task was accepted and decomposed.
	// Data: task_id.
	KindTaskStarted = "task.started"
	// KindTaskFinished signals a task's workflow reached a terminal
	// status. Data: task_id, status.
	KindTaskFinished = "task.finished"
	// KindSubtaskAssigned signals a subtask was matched to a persona.
	// Data: task_id, subtask_id, persona_id.
	KindSubtaskAssigned = "subtask.assigned"
	// KindSubtaskStarted signals a subtask began executing.
	// Data: task_id, subtask_id.
	KindSubtaskStarted = "subtask.started"
	// KindSubtaskCompleted signals a subtask finished successfully.
	// Data: task_id, subtask_id.
	KindSubtaskCompleted = "subtask.completed"
	// KindSubtaskFailed signals a subtask finished with an error.
	// Data: task_id, subtask_id, reason.
	KindSubtaskFailed = "subtask.failed"
	// KindKnowledgeReloaded signals the persona library reloaded from disk.
	// Data: count.
	KindKnowledgeReloaded = "knowledge.reloaded"
	// KindPersonaCreated signals a new persona was synthesized and stored.
	// Data: persona_id, domain.
	KindPersonaCreated = "persona.created"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// DefaultQueueSize is the per-subscriber channel buffer used when
// Subscribe is called with bufSize <= 0.
const DefaultQueueSize = 256

// Predicate filters which events a subscriber receives. A nil
// Predicate matches everything.
type Predicate func(Event) bool

// KindIs returns a Predicate matching any of the given kinds.
func KindIs(kinds ...string) Predicate {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Kind]
		return ok
	}
}

// subscriber holds one consumer's channel, its filter, and an overflow
// counter tracking how many events were dropped to make room for
// newer ones.
type subscriber struct {
	ch        chan Event
	predicate Predicate
	mu        sync.Mutex
	overflow  uint64
}

// deliver sends e to the subscriber, dropping the oldest queued event
// to make room if the channel is full.
func (s *subscriber) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- e:
		return
	default:
	}

	select {
	case <-s.ch:
		s.overflow++
	default:
	}

	select {
	case s.ch <- e:
	default:
		// Another goroutine refilled the slot we just freed; count
		// this event as dropped rather than block the publisher.
		s.overflow++
	}
}

// Bus is a non-blocking broadcast event bus. Subscribers receive
// events on buffered channels; a slow subscriber loses its oldest
// unread events rather than stalling the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	// byChan maps the receive-only channel returned by Subscribe back
	// to its subscriber record, so Unsubscribe/OverflowCount can accept
	// the caller's <-chan Event view.
	byChan map[<-chan Event]*subscriber
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:   make(map[*subscriber]struct{}),
		byChan: make(map[<-chan Event]*subscriber),
	}
}

// Publish sends an event to every subscriber whose predicate matches.
// Safe to call on a nil receiver (no-op). If e.Timestamp is zero it is
// stamped with time.Now().
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.predicate != nil && !s.predicate(e) {
			continue
		}
		s.deliver(e)
	}
}

// Subscribe returns a channel that receives events matching predicate
// (all events if predicate is nil). bufSize controls the channel
// buffer; values <= 0 use DefaultQueueSize. The caller must eventually
// call Unsubscribe to avoid resource leaks.
func (b *Bus) Subscribe(bufSize int, predicate Predicate) <-chan Event {
	if bufSize <= 0 {
		bufSize = DefaultQueueSize
	}
	s := &subscriber{ch: make(chan Event, bufSize), predicate: predicate}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s] = struct{}{}
	b.byChan[s.ch] = s
	return s.ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.byChan[ch]
	if !ok {
		return
	}
	delete(b.subs, s)
	delete(b.byChan, ch)
	close(s.ch)
}

// OverflowCount returns how many events have been dropped for the
// given subscriber channel to make room for newer ones. Returns 0 for
// an unknown channel.
func (b *Bus) OverflowCount(ch <-chan Event) uint64 {
	b.mu.RLock()
	s, ok := b.byChan[ch]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflow
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
