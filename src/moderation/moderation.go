// Package moderation screens cropped photos before they are composited.
//
// The gate fails open: when the classifier cannot answer, the photo passes
// with a warning attached. Only an explicit flagged verdict rejects it.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coverserv/src/analytics"

	"go.uber.org/zap"
)

var ErrRateLimited = errors.New("moderation rate limited")

type (
	// Verdict is the classifier's answer for one image.
	Verdict struct {
		Flagged        bool               `json:"flagged"`
		Categories     map[string]bool    `json:"categories,omitempty"`
		CategoryScores map[string]float64 `json:"category_scores,omitempty"`
	}

	Classifier interface {
		Classify(ctx context.Context, image []byte) (Verdict, error)
	}

	Result struct {
		Verdict
		Skipped bool   `json:"skipped,omitempty"`
		Warning string `json:"warning,omitempty"`
	}

	Gate struct {
		classifier   Classifier
		enabled      func() bool
		tracker      analytics.Tracker
		trackTimeout time.Duration
		log          *zap.Logger
	}

	Option func(*Gate)
)

// WithEnabled installs a switch read on every call. Without it the gate is
// enabled whenever a classifier is present.
func WithEnabled(enabled func() bool) Option {
	return func(g *Gate) { g.enabled = enabled }
}

// WithTracker counts every outcome as moderationPassed or moderationFlagged.
func WithTracker(t analytics.Tracker) Option {
	return func(g *Gate) { g.tracker = t }
}

func NewGate(classifier Classifier, log *zap.Logger, opts ...Option) *Gate {
	g := &Gate{
		classifier:   classifier,
		enabled:      func() bool { return true },
		trackTimeout: 5 * time.Second,
		log:          log,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	return g
}

// Moderate never returns an error. Callers reject the photo only when
// Result.Flagged is set.
func (g *Gate) Moderate(ctx context.Context, image []byte) Result {
	var res Result
	switch {
	case g.classifier == nil || !g.enabled():
		res.Skipped = true
	case len(image) == 0:
		res.Warning = "empty image, moderation skipped"
	default:
		verdict, err := g.classifier.Classify(ctx, image)
		if err != nil {
			res.Warning = fmt.Sprintf("moderation unavailable: %v", err)
			g.log.Warn("moderation failed, letting photo through", zap.Error(err))
		} else {
			res.Verdict = verdict
		}
	}

	if res.Flagged {
		g.log.Info("photo flagged by moderation", zap.Any("categories", flaggedCategories(res.Categories)))
		g.track(analytics.ModerationFlagged)
	} else {
		g.track(analytics.ModerationPassed)
	}
	return res
}

// track fires the counter in the background; failures are only logged.
func (g *Gate) track(event analytics.Event) {
	if g.tracker == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("analytics tracker panicked", zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), g.trackTimeout)
		defer cancel()
		if err := g.tracker.Track(ctx, event); err != nil {
			g.log.Warn("could not count moderation outcome", zap.String("event", string(event)), zap.Error(err))
		}
	}()
}

func flaggedCategories(categories map[string]bool) []string {
	out := make([]string, 0, len(categories))
	for name, hit := range categories {
		if hit {
			out = append(out, name)
		}
	}
	return out
}
