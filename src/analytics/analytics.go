// Package analytics keeps cookie-less usage counters in a JSON file.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coverserv/src/jsonfile"

	"go.uber.org/zap"
)

type Event string

const (
	PageView           Event = "pageView"
	PhotoUpload        Event = "photoUpload"
	DOICompletion      Event = "doiCompletion"
	ModerationPassed   Event = "moderationPassed"
	ModerationFlagged  Event = "moderationFlagged"
	HowItWorksClick    Event = "howItWorksClick"
	DirectContestClick Event = "directContestClick"
	ImageDownload      Event = "imageDownload"
	ImageShare         Event = "imageShare"
)

var ErrUnknownEvent = errors.New("invalid event type")

type (
	Counters struct {
		PageViews           int64     `json:"pageViews"`
		PhotoUploads        int64     `json:"photoUploads"`
		DOICompletions      int64     `json:"doiCompletions"`
		ModerationPassed    int64     `json:"moderationPassed"`
		ModerationFlagged   int64     `json:"moderationFlagged"`
		HowItWorksClicks    int64     `json:"howItWorksClicks"`
		DirectContestClicks int64     `json:"directContestClicks"`
		ImageDownloads      int64     `json:"imageDownloads"`
		ImageShares         int64     `json:"imageShares"`
		LastUpdated         time.Time `json:"lastUpdated"`
	}

	// Tracker is what other components use to count events.
	Tracker interface {
		Track(ctx context.Context, event Event) error
	}

	// FileStore serializes all updates through one mutex and rewrites the
	// whole file on every change.
	FileStore struct {
		mu   sync.Mutex
		path string
		now  func() time.Time
		log  *zap.Logger
	}
)

func ParseEvent(s string) (Event, error) {
	switch e := Event(s); e {
	case PageView, PhotoUpload, DOICompletion, ModerationPassed, ModerationFlagged,
		HowItWorksClick, DirectContestClick, ImageDownload, ImageShare:
		return e, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
}

func NewFileStore(path string, log *zap.Logger) *FileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{path: path, now: time.Now, log: log}
}

func (f *FileStore) Track(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.load()
	field := c.field(event)
	if field == nil {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	*field++
	c.LastUpdated = f.now().UTC()
	if err := jsonfile.Write(f.path, c); err != nil {
		return fmt.Errorf("track %s: %w", event, err)
	}
	return nil
}

func (f *FileStore) Snapshot() Counters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// Reset zeroes every counter.
func (f *FileStore) Reset() (Counters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := Counters{LastUpdated: f.now().UTC()}
	if err := jsonfile.Write(f.path, c); err != nil {
		return Counters{}, fmt.Errorf("reset analytics: %w", err)
	}
	return c, nil
}

// load falls back to zero counters when the file is missing or unreadable.
func (f *FileStore) load() Counters {
	var c Counters
	err := jsonfile.Read(f.path, &c)
	if err == nil {
		return c
	}
	if !errors.Is(err, jsonfile.ErrMissing) {
		f.log.Warn("analytics file unreadable, starting from zero", zap.String("path", f.path), zap.Error(err))
	}
	return Counters{LastUpdated: f.now().UTC()}
}

func (c *Counters) field(e Event) *int64 {
	switch e {
	case PageView:
		return &c.PageViews
	case PhotoUpload:
		return &c.PhotoUploads
	case DOICompletion:
		return &c.DOICompletions
	case ModerationPassed:
		return &c.ModerationPassed
	case ModerationFlagged:
		return &c.ModerationFlagged
	case HowItWorksClick:
		return &c.HowItWorksClicks
	case DirectContestClick:
		return &c.DirectContestClicks
	case ImageDownload:
		return &c.ImageDownloads
	case ImageShare:
		return &c.ImageShares
	}
	return nil
}
