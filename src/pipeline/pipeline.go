// Package pipeline runs one photo submission through crop, moderation,
// rendering and persistence.
//
// A client has at most one submission in flight. Reset marks that submission
// as discarded; a composite it already wrote is removed again, so a reset is
// never undone by a late result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"coverserv/src/analytics"
	"coverserv/src/compositor"
	"coverserv/src/crop"
	"coverserv/src/moderation"
	"coverserv/src/session"
	"coverserv/src/templates"

	"go.uber.org/zap"
)

const DefaultAspect = 16.0 / 9.0

var (
	ErrBusy         = errors.New("a submission is already in progress")
	ErrInvalidPhoto = errors.New("photo can not be read")
	ErrRejected     = errors.New("photo rejected by moderation")
	ErrDiscarded    = errors.New("submission discarded after reset")
)

type (
	Moderator interface {
		Moderate(ctx context.Context, image []byte) moderation.Result
	}

	TemplateSource interface {
		Get(id string) (*templates.Template, error)
		Random() (*templates.Template, error)
		Layers(ctx context.Context, t *templates.Template) (compositor.Layers, error)
	}

	Submission struct {
		Client     string
		Photo      []byte
		Crop       *crop.Region // nil means the default crop
		TemplateID string       // empty means a random template
	}

	Outcome struct {
		Session    *session.Session
		Template   *templates.Template
		Crop       crop.Region
		Moderation moderation.Result
	}

	Pipeline struct {
		templates  TemplateSource
		moderator  Moderator
		compositor *compositor.Compositor
		sessions   *session.Store
		tracker    analytics.Tracker
		aspect     float64
		log        *zap.Logger

		mu       sync.Mutex
		inflight map[string]*slot
	}

	// slot lives only while a submission runs.
	slot struct {
		discarded bool
	}

	Option func(*Pipeline)
)

func WithTracker(t analytics.Tracker) Option {
	return func(p *Pipeline) { p.tracker = t }
}

// WithAspect sets the crop aspect ratio (width/height).
func WithAspect(aspect float64) Option {
	return func(p *Pipeline) {
		if aspect > 0 {
			p.aspect = aspect
		}
	}
}

func New(tmpl TemplateSource, mod Moderator, comp *compositor.Compositor, sessions *session.Store, log *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		templates:  tmpl,
		moderator:  mod,
		compositor: comp,
		sessions:   sessions,
		aspect:     DefaultAspect,
		log:        log,
		inflight:   make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

// Aspect is the ratio every crop must have.
func (p *Pipeline) Aspect() float64 {
	return p.aspect
}

// DefaultCrop proposes the starting crop for a photo.
func (p *Pipeline) DefaultCrop(photo []byte) (crop.Region, error) {
	img, _, err := compositor.DecodeBytes(photo)
	if err != nil {
		return crop.Region{}, fmt.Errorf("%w: %v", ErrInvalidPhoto, err)
	}
	b := img.Bounds()
	return crop.ComputeDefault(b.Dx(), b.Dy(), p.aspect)
}

// Submit runs the whole chain. A flagged photo returns ErrRejected together
// with the moderation result in the outcome.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (*Outcome, error) {
	running, err := p.acquire(sub.Client)
	if err != nil {
		return nil, err
	}
	defer p.release(sub.Client)

	log := p.log.With(zap.String("client", sub.Client))

	img, _, err := compositor.DecodeBytes(sub.Photo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhoto, err)
	}
	b := img.Bounds()

	var region crop.Region
	if sub.Crop != nil {
		region = *sub.Crop
		if err := crop.Validate(region, b.Dx(), b.Dy(), p.aspect); err != nil {
			return nil, err
		}
	} else if region, err = crop.ComputeDefault(b.Dx(), b.Dy(), p.aspect); err != nil {
		return nil, err
	}

	tmpl, err := p.pickTemplate(sub.TemplateID)
	if err != nil {
		return nil, err
	}

	w, h := crop.CanonicalSize(p.aspect)
	cropped, err := crop.Extract(img, region, w, h)
	if err != nil {
		return nil, err
	}
	croppedJPEG, err := p.compositor.Encode(cropped)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Template: tmpl, Crop: region}
	out.Moderation = p.moderator.Moderate(ctx, croppedJPEG)
	if out.Moderation.Flagged {
		log.Info("submission rejected by moderation")
		return out, ErrRejected
	}

	layers, err := p.templates.Layers(ctx, tmpl)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", tmpl.ID, err)
	}
	composite, err := p.compositor.Render(cropped, layers, tmpl.Config.UserImagePosition)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	if p.discarded(running) {
		log.Info("discarding late composite after reset")
		return nil, ErrDiscarded
	}
	sess, err := p.sessions.Create(ctx, sub.Client, composite, tmpl.ID)
	if err != nil {
		return nil, err
	}
	// a reset may have run while the write was in flight
	if p.discarded(running) {
		log.Info("reset during write, removing composite")
		if err := p.sessions.Remove(ctx, sub.Client); err != nil {
			return nil, err
		}
		return nil, ErrDiscarded
	}
	out.Session = sess
	p.track(ctx, analytics.PhotoUpload)

	log.Info("composite stored",
		zap.String("session", sess.ID),
		zap.String("template", tmpl.ID),
		zap.Int("bytes", len(composite)),
	)
	return out, nil
}

// Reset clears the client's session and invalidates any submission still
// running for it.
func (p *Pipeline) Reset(ctx context.Context, client string) error {
	p.mu.Lock()
	if running, ok := p.inflight[client]; ok {
		running.discarded = true
	}
	p.mu.Unlock()
	return p.sessions.Remove(ctx, client)
}

// Busy reports whether a submission is running for client.
func (p *Pipeline) Busy(client string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[client]
	return ok
}

func (p *Pipeline) pickTemplate(id string) (*templates.Template, error) {
	if id == "" {
		return p.templates.Random()
	}
	return p.templates.Get(id)
}

func (p *Pipeline) acquire(client string) (*slot, error) {
	if client == "" {
		return nil, session.ErrInvalidClient
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[client]; ok {
		return nil, ErrBusy
	}
	running := &slot{}
	p.inflight[client] = running
	return running, nil
}

func (p *Pipeline) release(client string) {
	p.mu.Lock()
	delete(p.inflight, client)
	p.mu.Unlock()
}

func (p *Pipeline) discarded(running *slot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return running.discarded
}

// tracked reports how many clients hold pipeline state.
func (p *Pipeline) tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

func (p *Pipeline) track(ctx context.Context, event analytics.Event) {
	if p.tracker == nil {
		return
	}
	if err := p.tracker.Track(ctx, event); err != nil {
		p.log.Warn("could not count event", zap.String("event", string(event)), zap.Error(err))
	}
}
