package screenflow

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType classifies engine events.
type EventType string

const (
	EventRunStart    EventType = "run.start"
	EventStageEnter  EventType = "stage.enter"
	EventStageExit   EventType = "stage.exit"
	EventStageFault  EventType = "stage.fault"
	EventRoute       EventType = "route"
	EventRunComplete EventType = "run.complete"
	EventRunAbort    EventType = "run.abort"
)

// Event is a single observation from an invocation.
type Event struct {
	Type  EventType
	RunID string
	Step  int
	Stage string
	// Outcome is set on route events.
	Outcome Outcome
	// Next is the stage that runs after Stage, or End.
	Next    string
	Elapsed time.Duration
	Err     error
}

// Observer receives events during an invocation. Observers are called
// synchronously from the invocation's goroutine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// MultiObserver fans out events to multiple observers.
type MultiObserver []Observer

func (m MultiObserver) OnEvent(e Event) {
	for _, obs := range m {
		if obs != nil {
			obs.OnEvent(e)
		}
	}
}

// LogObserver writes events as structured slog lines.
type LogObserver struct {
	Logger *slog.Logger
}

func (o *LogObserver) OnEvent(e Event) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []slog.Attr{
		slog.String("event", string(e.Type)),
		slog.String("run_id", e.RunID),
	}
	if e.Step > 0 {
		attrs = append(attrs, slog.Int("step", e.Step))
	}
	if e.Stage != "" {
		attrs = append(attrs, slog.String("stage", e.Stage))
	}
	if e.Outcome != "" {
		attrs = append(attrs, slog.String("outcome", string(e.Outcome)))
	}
	if e.Next != "" {
		attrs = append(attrs, slog.String("next", e.Next))
	}
	if e.Elapsed > 0 {
		attrs = append(attrs, slog.Duration("elapsed", e.Elapsed))
	}

	level := slog.LevelDebug
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
		level = slog.LevelWarn
	}
	logger.LogAttrs(context.Background(), level, "screenflow", attrs...)
}

// Recorder accumulates events in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns only events matching typ.
func (r *Recorder) OfType(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Trace returns the stage names of every stage.enter event, in order.
func (r *Recorder) Trace() []string {
	var out []string
	for _, e := range r.OfType(EventStageEnter) {
		out = append(out, e.Stage)
	}
	return out
}
