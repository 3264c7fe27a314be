// Package events carries provisioning status and log events from the BLE
// core to whatever front end is attached.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/blenetcfg/internal/ble/protocol"
)

// Kind distinguishes event payloads.
type Kind int

const (
	// KindLog is a human-readable message.
	KindLog Kind = iota
	// KindStatusChange carries exactly one decoded StatusRecord.
	KindStatusChange
	// KindTransition reports a provisioning session step change.
	KindTransition
	// KindOutcome reports the terminal outcome of a provisioning session.
	KindOutcome
)

func (k Kind) String() string {
	switch k {
	case KindStatusChange:
		return "status"
	case KindTransition:
		return "transition"
	case KindOutcome:
		return "outcome"
	default:
		return "log"
	}
}

// Event is one item pushed to a Sink.
type Event struct {
	Time      time.Time
	Kind      Kind
	Message   string
	Status    *protocol.StatusRecord // set for KindStatusChange, and KindOutcome when a record decided it
	Step      string                 // set for KindTransition and KindOutcome
	Outcome   string                 // set for KindOutcome
	SessionID string                 // empty outside a provisioning session
}

// Sink receives events. Publish must not block for long; it may be called
// from a BLE notification callback.
type Sink interface {
	Publish(Event)
}

// Log builds a KindLog event stamped now.
func Log(msg string) Event {
	return Event{Time: time.Now(), Kind: KindLog, Message: msg}
}

// Status builds a KindStatusChange event stamped now.
func Status(rec protocol.StatusRecord) Event {
	return Event{Time: time.Now(), Kind: KindStatusChange, Status: &rec, Message: rec.String()}
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Channel is a buffered push channel of events for a front end.
// If the consumer falls behind, new events are dropped rather than blocking
// the publisher.
type Channel struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewChannel creates a Channel with the given buffer size (minimum 1).
func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{ch: make(chan Event, size)}
}

// Events returns the receive side. It is closed by Close.
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Publish enqueues e without blocking. Events published after Close are dropped.
func (c *Channel) Publish(e Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- e:
	default:
		slog.Warn("[events] channel full, dropping event", "kind", e.Kind, "message", e.Message)
	}
}

// Close closes the event channel. Safe to call more than once.
func (c *Channel) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
}

// Logger mirrors events to a slog.Logger.
type Logger struct {
	log *slog.Logger
}

// NewLogger returns a Sink writing to l, or slog.Default() when l is nil.
func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l}
}

func (l *Logger) Publish(e Event) {
	attrs := []any{"kind", e.Kind.String()}
	if e.SessionID != "" {
		attrs = append(attrs, "session", e.SessionID)
	}
	if e.Step != "" {
		attrs = append(attrs, "step", e.Step)
	}
	if e.Status != nil {
		attrs = append(attrs, "code", e.Status.Code, "status", e.Status.Name)
	}
	switch {
	case e.Kind == KindOutcome && e.Outcome != "success":
		l.log.Warn("[BLE] "+e.Message, append(attrs, "outcome", e.Outcome)...)
	case e.Kind == KindOutcome:
		l.log.Info("[BLE] "+e.Message, append(attrs, "outcome", e.Outcome)...)
	case e.Kind == KindLog:
		l.log.Info("[BLE] "+e.Message, attrs...)
	default:
		l.log.Debug("[BLE] "+e.Message, attrs...)
	}
}

// Multi fans each event out to every sink in order.
type Multi []Sink

func (m Multi) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}
