// Package campaign holds the white-label settings an admin edits at runtime.
package campaign

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"coverserv/src/jsonfile"

	"go.uber.org/zap"
)

const (
	Version = "1.0"

	minSecretLength = 16
	defaultDuration = 30 * 24 * time.Hour
)

var ErrInvalid = errors.New("invalid campaign config")

type (
	WhiteLabel struct {
		ContestPrize      string    `json:"contestPrize"`
		DOIURL            string    `json:"doiUrl"`
		ActionStart       time.Time `json:"actionStart"`
		ActionEnd         time.Time `json:"actionEnd"`
		ModerationEnabled bool      `json:"moderationEnabled"`
		FormalAddress     bool      `json:"formalAddress"`
		MetaTitle         string    `json:"metaTitle"`
		MetaDescription   string    `json:"metaDescription"`
		SocialShareImage  string    `json:"socialShareImage"`
	}

	Security struct {
		DOISecret string `json:"doiSecret"`
	}

	Config struct {
		Version    string     `json:"version"`
		WhiteLabel WhiteLabel `json:"whiteLabel"`
		Security   Security   `json:"security"`
	}

	// Public is the part of Config served to visitors.
	Public struct {
		Version    string     `json:"version"`
		WhiteLabel WhiteLabel `json:"whiteLabel"`
		Active     bool       `json:"active"`
	}

	// Store reads the file on every Load so edits by other processes show up.
	Store struct {
		mu   sync.Mutex
		path string
		now  func() time.Time
		log  *zap.Logger
	}
)

func Default(now time.Time) Config {
	return Config{
		Version: Version,
		WhiteLabel: WhiteLabel{
			ActionStart:       now.UTC(),
			ActionEnd:         now.UTC().Add(defaultDuration),
			ModerationEnabled: true,
			MetaTitle:         "Meine KN-Titelseite - Bring dein Selfie auf die Titelseite",
			MetaDescription:   "Erstelle deine personalisierte Kieler Nachrichten Titelseite! Lade ein Selfie hoch und werde Teil der KN.",
			SocialShareImage:  "/assets/share-image.jpg",
		},
		Security: Security{DOISecret: randomSecret()},
	}
}

func (c Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalid)
	}
	if c.WhiteLabel.ActionStart.IsZero() || c.WhiteLabel.ActionEnd.IsZero() {
		return fmt.Errorf("%w: action dates are required", ErrInvalid)
	}
	if !c.WhiteLabel.ActionStart.Before(c.WhiteLabel.ActionEnd) {
		return fmt.Errorf("%w: actionStart must be before actionEnd", ErrInvalid)
	}
	if len(c.Security.DOISecret) < minSecretLength {
		return fmt.Errorf("%w: doiSecret must be at least %d characters", ErrInvalid, minSecretLength)
	}
	return nil
}

// IsActive reports whether now lies within the action window, both ends included.
func (c Config) IsActive(now time.Time) bool {
	return !now.Before(c.WhiteLabel.ActionStart) && !now.After(c.WhiteLabel.ActionEnd)
}

func (c Config) Public(now time.Time) Public {
	return Public{Version: c.Version, WhiteLabel: c.WhiteLabel, Active: c.IsActive(now)}
}

func NewStore(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, now: time.Now, log: log}
}

// Now is the clock used for defaults and the active check.
func (s *Store) Now() time.Time {
	return s.now()
}

// Ensure writes the default config when the file does not exist yet.
func (s *Store) Ensure() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Config
	err := jsonfile.Read(s.path, &c)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, jsonfile.ErrMissing) {
		return Config{}, err
	}
	s.log.Info("creating default campaign config", zap.String("path", s.path))
	c = Default(s.now())
	if err := jsonfile.Write(s.path, c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load returns defaults when the file is missing or broken.
func (s *Store) Load() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() Config {
	var c Config
	if err := jsonfile.Read(s.path, &c); err != nil {
		s.log.Warn("failed to load campaign config, using defaults", zap.Error(err))
		return Default(s.now())
	}
	return c
}

func (s *Store) Save(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return jsonfile.Write(s.path, c)
}

// UpdateWhiteLabel merges only the white-label section into the stored config.
func (s *Store) UpdateWhiteLabel(wl WhiteLabel) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.load()
	c.WhiteLabel = wl
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	if err := jsonfile.Write(s.path, c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("campaign: no entropy for doi secret: %v", err))
	}
	return hex.EncodeToString(b)
}
