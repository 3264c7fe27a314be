package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/blenetcfg/internal/ble/protocol"
	"github.com/chaz8081/blenetcfg/internal/events"
)

// Step is a provisioning session state.
type Step int

const (
	StepStart Step = iota
	StepSendSSID
	StepSendPassword
	StepDone
	StepReboot
	StepCompleted
	StepFailed
	StepAborted
)

func (s Step) String() string {
	switch s {
	case StepStart:
		return "Start"
	case StepSendSSID:
		return "SendSSID"
	case StepSendPassword:
		return "SendPassword"
	case StepDone:
		return "Done"
	case StepReboot:
		return "Reboot"
	case StepCompleted:
		return "Completed"
	case StepFailed:
		return "Failed"
	case StepAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// Terminal reports whether no further transitions follow s.
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepAborted
}

// OutcomeKind is the terminal result of a provisioning session.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota // session never started
	OutcomeSuccess
	OutcomeFailure
	OutcomeTimeout
	OutcomeAborted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeAborted:
		return "aborted"
	default:
		return "none"
	}
}

// Outcome describes how a session ended.
type Outcome struct {
	Kind   OutcomeKind
	Step   Step                   // step that was active when the session ended
	Record *protocol.StatusRecord // the failure record, if one decided the outcome
	Last   *protocol.StatusRecord // last status seen during the session, any class
}

// delivery is a status record tagged with the step awaiting it on arrival.
type delivery struct {
	step Step
	rec  protocol.StatusRecord
}

// Session drives one credential handshake over a Link.
type Session struct {
	id          string
	link        *Link
	sink        events.Sink
	stepTimeout time.Duration
	ssid        []byte
	password    []byte

	deliveries chan delivery

	mu       sync.Mutex
	step     Step
	awaiting bool
	deadline time.Time
	last     *protocol.StatusRecord
}

func newSession(link *Link, sink events.Sink, stepTimeout time.Duration, ssid, password string) *Session {
	return &Session{
		id:          uuid.NewString(),
		link:        link,
		sink:        sink,
		stepTimeout: stepTimeout,
		ssid:        []byte(ssid),
		password:    []byte(password),
		deliveries:  make(chan delivery, 16),
		step:        StepStart,
	}
}

// deliver hands a decoded record to the session. Called from the
// notification callback; never blocks. Informational records only update the
// last-seen status, so a burst of them cannot crowd out a terminal record.
func (s *Session) deliver(rec protocol.StatusRecord) {
	s.mu.Lock()
	s.last = &rec
	step, awaiting := s.step, s.awaiting
	s.mu.Unlock()

	if rec.Class() == protocol.ClassInfo {
		slog.Debug("[BLE] informational status", "session", s.id, "step", step, "status", rec.Name)
		return
	}
	if !awaiting {
		slog.Debug("[BLE] status outside an awaited step ignored", "session", s.id, "step", step, "status", rec.Name)
		return
	}
	select {
	case s.deliveries <- delivery{step: step, rec: rec}:
	default:
		slog.Warn("[BLE] session backlog full, dropping status", "session", s.id, "status", rec.Name)
	}
}

type command struct {
	step    Step
	op      protocol.Opcode
	payload []byte
}

// run executes the handshake. Writes are strictly sequential: a command is
// only written once the previous step has resolved.
func (s *Session) run(ctx context.Context) (Outcome, error) {
	commands := []command{
		{StepStart, protocol.OpStart, nil},
		{StepSendSSID, protocol.OpSSID, s.ssid},
		{StepSendPassword, protocol.OpPassword, s.password},
		{StepDone, protocol.OpDone, nil},
		{StepReboot, protocol.OpReboot, nil},
	}

	for _, c := range commands {
		if ctx.Err() != nil || !s.link.alive() {
			return s.abort(c.step)
		}

		// Arm before writing so a fast reply is not lost. Reboot expects none.
		s.enter(c.step, c.step != StepReboot)

		if err := s.link.writeCommand(c.op, c.payload); err != nil {
			if errors.Is(err, ErrNotConnected) {
				return s.abort(c.step)
			}
			return s.finish(Outcome{Kind: OutcomeFailure, Step: c.step}, err)
		}

		if c.step == StepReboot {
			s.enter(StepCompleted, false)
			return s.finish(Outcome{Kind: OutcomeSuccess, Step: StepReboot}, nil)
		}

		if out, ended, err := s.await(ctx, c.step); ended {
			return out, err
		}
	}
	panic("ble: unreachable")
}

// await blocks until the current step resolves. ended is false only when the
// step succeeded and the handshake should move on.
func (s *Session) await(ctx context.Context, step Step) (Outcome, bool, error) {
	s.mu.Lock()
	deadline := s.deadline
	s.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case d := <-s.deliveries:
			if d.step != step {
				slog.Debug("[BLE] stale status ignored", "session", s.id, "for", d.step, "current", step, "status", d.rec.Name)
				continue
			}
			rec := d.rec
			if rec.Class() == protocol.ClassFailure {
				out, err := s.fail(step, &rec)
				return out, true, err
			}
			return Outcome{}, false, nil

		case <-timer.C:
			s.enter(StepFailed, false)
			out, err := s.finish(Outcome{Kind: OutcomeTimeout, Step: step},
				fmt.Errorf("%w: %s after %s", ErrStepTimeout, step, s.stepTimeout))
			return out, true, err

		case <-s.link.Done():
			out, err := s.abort(step)
			return out, true, err

		case <-ctx.Done():
			out, err := s.abort(step)
			return out, true, err
		}
	}
}

// enter records a transition and publishes it.
func (s *Session) enter(step Step, awaiting bool) {
	s.mu.Lock()
	s.step = step
	s.awaiting = awaiting
	if awaiting {
		s.deadline = time.Now().Add(s.stepTimeout)
	}
	s.mu.Unlock()

	slog.Debug("[BLE] session step", "session", s.id, "step", step)
	s.sink.Publish(events.Event{
		Time:      time.Now(),
		Kind:      events.KindTransition,
		Message:   "step " + step.String(),
		Step:      step.String(),
		SessionID: s.id,
	})
}

func (s *Session) fail(step Step, rec *protocol.StatusRecord) (Outcome, error) {
	s.enter(StepFailed, false)
	return s.finish(Outcome{Kind: OutcomeFailure, Step: step, Record: rec},
		&StepFailureError{Step: step, Record: *rec})
}

func (s *Session) abort(step Step) (Outcome, error) {
	s.enter(StepAborted, false)
	return s.finish(Outcome{Kind: OutcomeAborted, Step: step},
		fmt.Errorf("%w: during %s", ErrAborted, step))
}

// finish publishes the terminal outcome exactly once per session.
func (s *Session) finish(out Outcome, err error) (Outcome, error) {
	if out.Kind == OutcomeFailure && out.Record == nil {
		s.enter(StepFailed, false)
	}
	s.mu.Lock()
	out.Last = s.last
	s.mu.Unlock()

	msg := "provisioning " + out.Kind.String()
	if err != nil {
		msg += ": " + err.Error()
	}
	s.sink.Publish(events.Event{
		Time:      time.Now(),
		Kind:      events.KindOutcome,
		Message:   msg,
		Status:    out.Record,
		Step:      out.Step.String(),
		Outcome:   out.Kind.String(),
		SessionID: s.id,
	})

	if out.Kind == OutcomeSuccess {
		slog.Info("[BLE] provisioning complete", "session", s.id, "address", s.link.address)
	} else {
		slog.Warn("[BLE] provisioning ended", "session", s.id, "outcome", out.Kind, "step", out.Step, "error", err)
	}
	return out, err
}
