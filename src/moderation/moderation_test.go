package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coverserv/src/analytics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"
)

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, image []byte) (Verdict, error) {
	args := m.Called(ctx, image)
	return args.Get(0).(Verdict), args.Error(1)
}

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.Event
	fail   bool
}

func (r *recordingTracker) Track(_ context.Context, e analytics.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.fail {
		return errors.New("disk full")
	}
	return nil
}

func (r *recordingTracker) seen() []analytics.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]analytics.Event(nil), r.events...)
}

func waitForEvents(t *testing.T, r *recordingTracker, want ...analytics.Event) {
	t.Helper()
	assert.Eventually(t, func() bool { return len(r.seen()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, want, r.seen())
}

var photo = []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3}

func TestGate_PassesCleanPhoto(t *testing.T) {
	cls := new(mockClassifier)
	cls.On("Classify", mock.Anything, photo).Return(Verdict{Flagged: false}, nil)
	tr := &recordingTracker{}
	g := NewGate(cls, zaptest.NewLogger(t), WithTracker(tr))

	res := g.Moderate(context.Background(), photo)

	assert.False(t, res.Flagged)
	assert.False(t, res.Skipped)
	assert.Empty(t, res.Warning)
	waitForEvents(t, tr, analytics.ModerationPassed)
}

func TestGate_FlagsPhoto(t *testing.T) {
	cls := new(mockClassifier)
	cls.On("Classify", mock.Anything, photo).Return(Verdict{
		Flagged:        true,
		Categories:     map[string]bool{"violence": true, "sexual": false},
		CategoryScores: map[string]float64{"violence": 0.97},
	}, nil)
	tr := &recordingTracker{}
	g := NewGate(cls, zaptest.NewLogger(t), WithTracker(tr))

	res := g.Moderate(context.Background(), photo)

	assert.True(t, res.Flagged)
	assert.True(t, res.Categories["violence"])
	assert.InDelta(t, 0.97, res.CategoryScores["violence"], 1e-9)
	waitForEvents(t, tr, analytics.ModerationFlagged)
}

func TestGate_FailsOpen(t *testing.T) {
	for _, cause := range []error{ErrRateLimited, context.DeadlineExceeded, errors.New("connection reset")} {
		cls := new(mockClassifier)
		cls.On("Classify", mock.Anything, photo).Return(Verdict{}, cause)
		tr := &recordingTracker{}
		g := NewGate(cls, zaptest.NewLogger(t), WithTracker(tr))

		res := g.Moderate(context.Background(), photo)

		assert.False(t, res.Flagged, cause.Error())
		assert.NotEmpty(t, res.Warning)
		waitForEvents(t, tr, analytics.ModerationPassed)
	}
}

func TestGate_Disabled(t *testing.T) {
	cls := new(mockClassifier)
	enabled := false
	g := NewGate(cls, zaptest.NewLogger(t), WithEnabled(func() bool { return enabled }))

	res := g.Moderate(context.Background(), photo)
	assert.True(t, res.Skipped)
	assert.False(t, res.Flagged)
	cls.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)

	enabled = true
	cls.On("Classify", mock.Anything, photo).Return(Verdict{}, nil)
	res = g.Moderate(context.Background(), photo)
	assert.False(t, res.Skipped)
	cls.AssertExpectations(t)
}

func TestGate_NilClassifierSkips(t *testing.T) {
	g := NewGate(nil, nil)
	res := g.Moderate(context.Background(), photo)
	assert.True(t, res.Skipped)
}

func TestGate_TrackerFailureDoesNotAffectResult(t *testing.T) {
	cls := new(mockClassifier)
	cls.On("Classify", mock.Anything, photo).Return(Verdict{}, nil)
	tr := &recordingTracker{fail: true}
	g := NewGate(cls, zaptest.NewLogger(t), WithTracker(tr))

	res := g.Moderate(context.Background(), photo)
	assert.False(t, res.Flagged)
	waitForEvents(t, tr, analytics.ModerationPassed)
}
