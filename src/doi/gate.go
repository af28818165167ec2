// Package doi decides whether the external double-opt-in registration has
// been completed for a client's current session.
//
// Completion signals from every source (popup callback, return URL, code
// entry) go through RecordCompletion. Validity is re-evaluated on each read.
package doi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coverserv/src/session"

	"go.uber.org/zap"
)

const DefaultGracePeriod = 10 * time.Minute

var ErrNotCompleted = errors.New("registration not completed")

type (
	State int

	// Status is what the status endpoint reports.
	Status struct {
		State                 State      `json:"state"`
		Completed             bool       `json:"completed"`
		SessionID             string     `json:"sessionId,omitempty"`
		RegistrationStartedAt *time.Time `json:"registrationStartTime,omitempty"`
		CompletedAt           *time.Time `json:"completedAt,omitempty"`
		Now                   time.Time  `json:"now"`
	}

	Gate struct {
		sessions *session.Store
		grace    time.Duration
		ttl      time.Duration
		log      *zap.Logger
	}

	Option func(*Gate)
)

const (
	NotStarted State = iota
	RegistrationInitiated
	Completed
)

func (s State) String() string {
	switch s {
	case RegistrationInitiated:
		return "registration_initiated"
	case Completed:
		return "completed"
	default:
		return "not_started"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "not_started":
		*s = NotStarted
	case "registration_initiated":
		*s = RegistrationInitiated
	case "completed":
		*s = Completed
	default:
		return fmt.Errorf("unknown doi state %q", text)
	}
	return nil
}

// WithGracePeriod sets how much earlier than the registration start a
// completion may be stamped and still count.
func WithGracePeriod(d time.Duration) Option {
	return func(g *Gate) { g.grace = d }
}

func NewGate(sessions *session.Store, log *zap.Logger, opts ...Option) *Gate {
	g := &Gate{
		sessions: sessions,
		grace:    DefaultGracePeriod,
		ttl:      sessions.TTL(),
		log:      log,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	return g
}

// StartRegistration records that the visitor was sent to the external form.
func (g *Gate) StartRegistration(ctx context.Context, client string) (*session.Session, error) {
	sess, err := g.sessions.MarkRegistrationStart(ctx, client)
	if err != nil {
		return nil, err
	}
	g.log.Info("registration started",
		zap.String("client", client),
		zap.String("session", sess.ID),
	)
	return sess, nil
}

// RecordCompletion stores a completion signal for sessionID. A signal for any
// session other than the current one is dropped and reported as false. A zero
// at means now.
func (g *Gate) RecordCompletion(ctx context.Context, client, sessionID string, at time.Time) (bool, error) {
	sess, err := g.sessions.Current(ctx, client)
	if errors.Is(err, session.ErrNotFound) {
		g.log.Debug("completion without session ignored", zap.String("client", client))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if sessionID == "" || sessionID != sess.ID {
		g.log.Info("completion for foreign session ignored",
			zap.String("client", client),
			zap.String("current", sess.ID),
			zap.String("signal", sessionID),
		)
		return false, nil
	}
	if at.IsZero() {
		at = g.sessions.Now()
	}

	rec := session.Completion{Timestamp: at, SessionID: sessionID}
	if err := g.sessions.SaveCompletion(ctx, client, rec); err != nil {
		return false, fmt.Errorf("record completion: %w", err)
	}
	g.log.Info("registration completion recorded",
		zap.String("client", client),
		zap.String("session", sessionID),
		zap.Time("at", at),
	)
	return true, nil
}

// IsCompleted applies the full validity check against the current session.
func (g *Gate) IsCompleted(ctx context.Context, client string) (bool, error) {
	st, err := g.Status(ctx, client)
	if err != nil {
		return false, err
	}
	return st.Completed, nil
}

// State is a shorthand for Status(...).State.
func (g *Gate) State(ctx context.Context, client string) (State, error) {
	st, err := g.Status(ctx, client)
	if err != nil {
		return NotStarted, err
	}
	return st.State, nil
}

// Require returns ErrNotCompleted unless IsCompleted holds.
func (g *Gate) Require(ctx context.Context, client string) error {
	ok, err := g.IsCompleted(ctx, client)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCompleted
	}
	return nil
}

func (g *Gate) Status(ctx context.Context, client string) (Status, error) {
	now := g.sessions.Now()
	st := Status{State: NotStarted, Now: now}

	sess, err := g.sessions.Current(ctx, client)
	if errors.Is(err, session.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.SessionID = sess.ID
	st.RegistrationStartedAt = sess.RegistrationStartedAt
	if sess.RegistrationStartedAt != nil {
		st.State = RegistrationInitiated
	}

	rec, err := g.sessions.Completion(ctx, client)
	if errors.Is(err, session.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if g.valid(sess, rec, now) {
		st.State = Completed
		st.Completed = true
		at := rec.Timestamp
		st.CompletedAt = &at
	}
	return st, nil
}

func (g *Gate) valid(sess *session.Session, rec *session.Completion, now time.Time) bool {
	if rec.SessionID != sess.ID {
		return false
	}
	if now.Sub(rec.Timestamp) >= g.ttl {
		return false
	}
	if sess.RegistrationStartedAt != nil && rec.Timestamp.Before(sess.RegistrationStartedAt.Add(-g.grace)) {
		return false
	}
	return true
}
