// Package event carries leveled, localizable log events from the sync engine
// to whatever presentation layer is attached.
package event

import (
	"sync"
	"time"

	"github.com/semihalev/zlog/v2"
)

// Level is the severity of an event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Role identifies which periodic task produced an event.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Keys are stable message identifiers; a sink looks them up in its own catalog.
const (
	KeyClientFetchSuccess = "client.fetchSuccess"
	KeyClientFetchFail    = "client.fetchFail"
	KeyClientFetchStop    = "client.fetchStop"
	KeyServerFetchSuccess = "server.fetchSuccess"
	KeyServerFetchFail    = "server.fetchFail"
	KeyServerHTTPStarted  = "server.httpStarted"
	KeyServerStartFail    = "server.startFail"
	KeyServerStopSuccess  = "server.stopSuccess"
	KeyFlushDNSFail       = "hosts.flushDnsFail"
)

// Event is one structured log record.
type Event struct {
	Role   Role           `json:"role"`
	Key    string         `json:"key"`
	Level  Level          `json:"level"`
	Params map[string]any `json:"params,omitempty"`
	Time   time.Time      `json:"time"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans an event out to every sink in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// LogSink writes events as structured zlog records.
type LogSink struct{}

// Emit implements Sink.
func (LogSink) Emit(e Event) {
	kv := make([]any, 0, 4+2*len(e.Params))
	kv = append(kv, "role", string(e.Role), "key", e.Key)
	for k, v := range e.Params {
		kv = append(kv, k, v)
	}

	switch e.Level {
	case LevelError:
		zlog.Error("task event", kv...)
	default:
		zlog.Info("task event", kv...)
	}
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Keys returns the recorded keys in emission order.
func (r *Recorder) Keys() []string {
	events := r.Events()
	keys := make([]string, len(events))
	for i, e := range events {
		keys[i] = e.Key
	}
	return keys
}

// Last returns the most recent event for role, if any.
func (r *Recorder) Last(role Role) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Role == role {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// WaitFor blocks until an event with key is recorded or timeout elapses.
func (r *Recorder) WaitFor(key string, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		for _, k := range r.Keys() {
			if k == key {
				return true
			}
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return false
		}
	}
}
