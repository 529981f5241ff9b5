// Package eventbus fans reconciliation events out to subscribers (ledger,
// metrics) on a bounded worker pool so that slow sinks never block a cycle.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	// EventCommit is published after every attempted commit of one resource.
	EventCommit EventType = "commit"
	// EventCycle is published when a reconcile cycle finishes.
	EventCycle EventType = "cycle"
	// EventDiscoveryFailed is published when a kind cannot be discovered.
	EventDiscoveryFailed EventType = "discovery_failed"
)

const (
	DefaultWorkerCount = 2
	DefaultQueueSize   = 256
)

// Event is a single published event.
type Event struct {
	Type EventType
	Data map[string]any
}

// String returns a payload field as a string, or "".
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Handler is a function that handles events
type Handler func(Event)

type job struct {
	event   Event
	handler Handler
}

// Bus routes events to handlers through a fixed pool of workers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	queue chan job
	wg    sync.WaitGroup

	// closing is closed before queue so Publish never sends on a closed channel
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a bus with the default pool size.
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a bus with workerCount workers and a queue of queueSize.
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount < 1 {
		workerCount = 1
	}
	b := &Bus{
		handlers: make(map[EventType][]Handler),
		queue:    make(chan job, queueSize),
		closing:  make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus started")
	return b
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for j := range b.queue {
		b.dispatch(id, j)
	}
}

func (b *Bus) dispatch(worker int, j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", string(j.event.Type)).
				Int("worker", worker).
				Msg("Event handler panicked")
		}
	}()
	j.handler(j.event)
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish queues the event for every subscribed handler.
// It never blocks: when the queue is full or the bus is closing the event is dropped.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, handler := range b.handlers[event.Type] {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		default:
		}

		select {
		case b.queue <- job{event: event, handler: handler}:
		default:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus queue full, dropping event")
		}
	}
}

// Close stops accepting events and waits for queued ones until ctx expires.
func (b *Bus) Close(ctx context.Context) {
	first := false
	b.closeOnce.Do(func() {
		close(b.closing)
		first = true
	})
	if !first {
		return
	}

	// Take the write lock so no Publish is between its closing check and its send.
	b.mu.Lock()
	close(b.queue)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus drained")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
