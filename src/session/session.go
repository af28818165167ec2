// Package session keeps the one in-progress composite of each client.
//
// Records live in a kv.Store under the kn_ prefix. Expiry is checked when a
// record is read; nothing sweeps the store in the background.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coverserv/src/kv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	Prefix = "kn_"

	DefaultTTL = 24 * time.Hour

	currentSessionSuffix = "_current_session"
	completionSuffix     = "_doi_completed"
)

var (
	ErrNotFound      = errors.New("no active session")
	ErrInvalidClient = errors.New("invalid client id")
)

type (
	Session struct {
		ID                    string     `json:"id"`
		ImageData             []byte     `json:"imageData"`
		TemplateID            string     `json:"templateId,omitempty"`
		CreatedAt             time.Time  `json:"timestamp"`
		RegistrationStartedAt *time.Time `json:"registrationStartTime,omitempty"`
	}

	// Completion is the stored DOI completion signal. It names the session it
	// was recorded for so it cannot unlock a later one.
	Completion struct {
		Timestamp time.Time `json:"timestamp"`
		SessionID string    `json:"sessionId"`
	}

	Store struct {
		kv  kv.Store
		ttl time.Duration
		now func() time.Time
		log *zap.Logger
	}

	Option func(*Store)
)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTTL overrides the 24h session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewStore(store kv.Store, log *zap.Logger, opts ...Option) *Store {
	s := &Store{
		kv:  store,
		ttl: DefaultTTL,
		now: time.Now,
		log: log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

func SessionKey(client string) string {
	return Prefix + client + currentSessionSuffix
}

func CompletionKey(client string) string {
	return Prefix + client + completionSuffix
}

// Now is the store's clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// TTL is the lifetime of sessions and completion records.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create replaces the client's session with a fresh one holding image.
func (s *Store) Create(ctx context.Context, client string, image []byte, templateID string) (*Session, error) {
	sess := &Session{
		ID:         uuid.NewString(),
		ImageData:  image,
		TemplateID: templateID,
		CreatedAt:  s.now(),
	}
	if err := s.Save(ctx, client, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Save overwrites the client's slot.
func (s *Store) Save(ctx context.Context, client string, sess *Session) error {
	if client == "" {
		return ErrInvalidClient
	}
	blob, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.kv.Put(ctx, SessionKey(client), blob); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Current returns the live session. An expired one is removed and reported
// as ErrNotFound.
func (s *Store) Current(ctx context.Context, client string) (*Session, error) {
	if client == "" {
		return nil, ErrInvalidClient
	}
	blob, err := s.kv.Get(ctx, SessionKey(client))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		s.log.Warn("dropping unreadable session", zap.String("client", client), zap.Error(err))
		s.drop(ctx, SessionKey(client))
		return nil, ErrNotFound
	}
	if s.now().Sub(sess.CreatedAt) >= s.ttl {
		s.log.Debug("session expired", zap.String("client", client), zap.String("session", sess.ID))
		s.drop(ctx, SessionKey(client))
		return nil, ErrNotFound
	}
	return &sess, nil
}

// MarkRegistrationStart stamps the current session with the time the visitor
// left for the external registration. A repeated call moves the stamp.
func (s *Store) MarkRegistrationStart(ctx context.Context, client string) (*Session, error) {
	sess, err := s.Current(ctx, client)
	if err != nil {
		return nil, err
	}
	at := s.now()
	sess.RegistrationStartedAt = &at
	if err := s.Save(ctx, client, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Remove forgets the session and any completion record.
func (s *Store) Remove(ctx context.Context, client string) error {
	if client == "" {
		return ErrInvalidClient
	}
	if err := s.kv.Delete(ctx, SessionKey(client)); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("remove session: %w", err)
	}
	if err := s.kv.Delete(ctx, CompletionKey(client)); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("remove completion: %w", err)
	}
	return nil
}

func (s *Store) SaveCompletion(ctx context.Context, client string, c Completion) error {
	if client == "" {
		return ErrInvalidClient
	}
	blob, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}
	if err := s.kv.Put(ctx, CompletionKey(client), blob); err != nil {
		return fmt.Errorf("save completion: %w", err)
	}
	return nil
}

// Completion returns the stored completion record. Records older than the TTL
// are removed and reported as ErrNotFound.
func (s *Store) Completion(ctx context.Context, client string) (*Completion, error) {
	if client == "" {
		return nil, ErrInvalidClient
	}
	blob, err := s.kv.Get(ctx, CompletionKey(client))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load completion: %w", err)
	}

	var c Completion
	if err := json.Unmarshal(blob, &c); err != nil {
		s.drop(ctx, CompletionKey(client))
		return nil, ErrNotFound
	}
	if s.now().Sub(c.Timestamp) >= s.ttl {
		s.drop(ctx, CompletionKey(client))
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *Store) drop(ctx context.Context, key string) {
	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, kv.ErrNotFound) {
		s.log.Warn("could not prune record", zap.String("key", key), zap.Error(err))
	}
}
