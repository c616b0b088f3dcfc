// Package events carries human-readable status and progress updates from the
// install and launch pipeline to whoever is listening.
package events

import (
	"sync"
	"time"

	"github.com/go-localmodel/pkg/utils"
)

// Kind distinguishes plain messages from progress updates
type Kind int

const (
	KindMessage Kind = iota
	KindProgress
)

func (k Kind) String() string {
	if k == KindProgress {
		return "progress"
	}
	return "message"
}

// Event is a single status update. Fraction is only meaningful when HasFraction is set.
type Event struct {
	Kind        Kind
	Source      string
	Message     string
	Fraction    float64
	HasFraction bool
	Time        time.Time
}

// Message builds a text-only event
func Message(text string) Event {
	return Event{Kind: KindMessage, Message: text, Time: time.Now()}
}

// Progress builds a progress event; fraction is clamped to [0,1]
func Progress(text string, fraction float64) Event {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return Event{Kind: KindProgress, Message: text, Fraction: fraction, HasFraction: true, Time: time.Now()}
}

// Sink accepts events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// Discard drops every event
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// WithSource stamps every event passing through with a source name
func WithSource(sink Sink, source string) Sink {
	return sourced{sink: sink, source: source}
}

type sourced struct {
	sink   Sink
	source string
}

func (s sourced) Emit(ev Event) {
	if ev.Source == "" {
		ev.Source = s.source
	}
	s.sink.Emit(ev)
}

// Handler receives events on the emitter's delivery goroutine
type Handler func(Event)

// Emitter fans events out to subscribers in emission order. Emit only
// enqueues; every handler runs on one delivery goroutine, so handlers never
// race each other. Handlers must not call Emit on the same emitter.
type Emitter struct {
	mu     sync.RWMutex
	subs   map[int]Handler
	nextID int

	closeMu sync.RWMutex
	closed  bool

	queue chan Event
	done  chan struct{}
	once  sync.Once

	logger *utils.Logger
}

// NewEmitter starts the delivery goroutine. buffer bounds the queue; Emit blocks while it is full.
func NewEmitter(buffer int, logger *utils.Logger) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	e := &Emitter{
		subs:   make(map[int]Handler),
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go e.deliver()
	return e
}

// Subscribe registers h and returns a function that removes it
func (e *Emitter) Subscribe(h Handler) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = h
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Emit enqueues ev. Events emitted after Close are dropped.
func (e *Emitter) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		e.logger.Debug("Dropping event after close: %s", ev.Message)
		return
	}
	e.queue <- ev
}

// Close stops accepting events and waits until queued ones are delivered
func (e *Emitter) Close() {
	e.once.Do(func() {
		e.closeMu.Lock()
		e.closed = true
		close(e.queue)
		e.closeMu.Unlock()
	})
	<-e.done
}

func (e *Emitter) deliver() {
	defer close(e.done)
	for ev := range e.queue {
		e.mu.RLock()
		handlers := make([]Handler, 0, len(e.subs))
		for id := 0; id < e.nextID; id++ {
			if h, ok := e.subs[id]; ok {
				handlers = append(handlers, h)
			}
		}
		e.mu.RUnlock()

		for _, h := range handlers {
			h(ev)
		}
	}
}

// Recorder keeps every event it receives, synchronously
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a snapshot of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Messages returns the text of every recorded event
func (r *Recorder) Messages() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Message
	}
	return out
}
