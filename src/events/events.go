package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"
)

type Kind string

const (
	KindPositionOpened    Kind = "position_opened"
	KindPositionClosed    Kind = "position_closed"
	KindRiskBudgetUpdated Kind = "risk_budget_updated"
	KindCycleHalted       Kind = "cycle_halted"
	KindAlert             Kind = "alert"
)

// Event is what the core reports to the outside world.
type Event struct {
	Kind       Kind              `json:"kind"`
	At         time.Time         `json:"at"`
	PositionID string            `json:"position_id,omitempty"`
	Symbol     string            `json:"symbol,omitempty"`
	Message    string            `json:"message,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Sink accepts events. Emit must never block the caller.
type Sink interface {
	Emit(evt Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// Handler consumes events on the sink's delivery goroutine.
type Handler func(ctx context.Context, evt Event) error

// AsyncSink buffers events and delivers them to handlers on a single goroutine.
// When the buffer is full new events are dropped and counted.
type AsyncSink struct {
	log      *logger.Entry
	ch       chan Event
	handlers []Handler
	dropped  atomic.Int64
	once     sync.Once
	done     chan struct{}
}

func NewAsyncSink(log *logger.Entry, buffer int, handlers ...Handler) *AsyncSink {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncSink{
		log:      log.WithField("component", "event_sink"),
		ch:       make(chan Event, buffer),
		handlers: handlers,
		done:     make(chan struct{}),
	}
}

func (s *AsyncSink) Emit(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	select {
	case s.ch <- evt:
	default:
		n := s.dropped.Add(1)
		s.log.WithFields(logger.Fields{"kind": evt.Kind, "dropped_total": n}).Warn("event buffer full, dropping event")
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Start runs the delivery loop until ctx is done, then drains what is buffered.
func (s *AsyncSink) Start(ctx context.Context) {
	s.once.Do(func() {
		go s.run(ctx)
	})
}

// Done is closed once the delivery loop has exited.
func (s *AsyncSink) Done() <-chan struct{} {
	return s.done
}

func (s *AsyncSink) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case evt := <-s.ch:
			s.deliver(ctx, evt)
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

func (s *AsyncSink) drain() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case evt := <-s.ch:
			s.deliver(flushCtx, evt)
		default:
			return
		}
	}
}

func (s *AsyncSink) deliver(ctx context.Context, evt Event) {
	for _, h := range s.handlers {
		if err := h(ctx, evt); err != nil {
			s.log.WithError(err).WithField("kind", evt.Kind).Error("event handler failed")
		}
	}
}

// LogHandler writes every event to the given logger.
func LogHandler(log *logger.Entry) Handler {
	return func(_ context.Context, evt Event) error {
		entry := log.WithFields(logger.Fields{
			"kind":        evt.Kind,
			"position_id": evt.PositionID,
			"symbol":      evt.Symbol,
		})
		for k, v := range evt.Fields {
			entry = entry.WithField(k, v)
		}
		switch evt.Kind {
		case KindAlert, KindCycleHalted:
			entry.Error(evt.Message)
		default:
			entry.Info(evt.Message)
		}
		return nil
	}
}

// Recorder keeps every event in memory; used by tests and the paper trading mode.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many recorded events have the given kind.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
