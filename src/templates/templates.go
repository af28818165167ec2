// Package templates is the on-disk catalogue of cover templates.
//
// Each template is a directory named by its id holding config.json,
// background.jpg or background.png, and foreground.png.
package templates

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"coverserv/src/compositor"
	"coverserv/src/jsonfile"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	configFile     = "config.json"
	foregroundFile = "foreground.png"
)

var (
	ErrNotFound  = errors.New("template not found")
	ErrInvalidID = errors.New("invalid template id")
	ErrNoneValid = errors.New("no valid templates found")
	ErrAssetType = errors.New("invalid asset type")
	ErrBadConfig = errors.New("invalid template config")

	idPattern       = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	backgroundFiles = []string{"background.jpg", "background.png"}

	DefaultPosition = compositor.Position{X: 100, Y: 100, Width: 400, Height: 300, Rotation: 0}
)

type (
	Config struct {
		ID                string              `json:"id"`
		Name              string              `json:"name"`
		UserImagePosition compositor.Position `json:"userImagePosition"`
		Description       string              `json:"description,omitempty"`
	}

	Template struct {
		ID             string `json:"id"`
		Config         Config `json:"config"`
		BackgroundPath string `json:"-"`
		ForegroundPath string `json:"-"`
	}

	AssetType string

	Catalogue struct {
		dir  string
		intn func(n int) int
		log  *zap.Logger

		decode func(path string) (image.Image, error)

		mu     sync.RWMutex
		layers map[string]compositor.Layers
		// epoch counts invalidations; a load started in an older epoch is not cached.
		epoch uint64
	}
)

const (
	AssetBackground AssetType = "background"
	AssetForeground AssetType = "foreground"
	AssetConfig     AssetType = "config"
)

func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func NewCatalogue(dir string, log *zap.Logger) *Catalogue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalogue{
		dir:    dir,
		intn:   rand.Intn,
		log:    log,
		decode: decodeFile,
		layers: make(map[string]compositor.Layers),
	}
}

func (c *Catalogue) Dir() string {
	return c.dir
}

// List returns the sorted ids of all template directories.
func (c *Catalogue) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Get loads a template's config and locates its layers. Missing layer files
// leave the corresponding path empty.
func (c *Catalogue) Get(id string) (*Template, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	dir := filepath.Join(c.dir, id)

	var cfg Config
	if err := jsonfile.Read(filepath.Join(dir, configFile), &cfg); err != nil {
		if errors.Is(err, jsonfile.ErrMissing) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = id
	}

	t := &Template{ID: id, Config: cfg}
	for _, name := range backgroundFiles {
		if p := filepath.Join(dir, name); fileExists(p) {
			t.BackgroundPath = p
			break
		}
	}
	if p := filepath.Join(dir, foregroundFile); fileExists(p) {
		t.ForegroundPath = p
	}
	return t, nil
}

// Complete reports whether all three template files are present.
func (t *Template) Complete() bool {
	return t.BackgroundPath != "" && t.ForegroundPath != ""
}

// Random picks one complete template uniformly.
func (c *Catalogue) Random() (*Template, error) {
	ids, err := c.List()
	if err != nil {
		return nil, err
	}
	valid := make([]*Template, 0, len(ids))
	for _, id := range ids {
		t, err := c.Get(id)
		if err != nil {
			c.log.Debug("skipping template", zap.String("id", id), zap.Error(err))
			continue
		}
		if !t.Complete() {
			c.log.Debug("skipping incomplete template", zap.String("id", id))
			continue
		}
		valid = append(valid, t)
	}
	if len(valid) == 0 {
		return nil, ErrNoneValid
	}
	return valid[c.intn(len(valid))], nil
}

// Layers decodes both layer images, caching the result until the template
// changes on disk.
func (c *Catalogue) Layers(ctx context.Context, t *Template) (compositor.Layers, error) {
	c.mu.RLock()
	cached, ok := c.layers[t.ID]
	epoch := c.epoch
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var layers compositor.Layers
	g, gctx := errgroup.WithContext(ctx)
	if t.BackgroundPath != "" {
		g.Go(func() (err error) {
			if err := gctx.Err(); err != nil {
				return err
			}
			layers.Background, err = c.decode(t.BackgroundPath)
			return err
		})
	}
	if t.ForegroundPath != "" {
		g.Go(func() (err error) {
			if err := gctx.Err(); err != nil {
				return err
			}
			layers.Foreground, err = c.decode(t.ForegroundPath)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return compositor.Layers{}, fmt.Errorf("load layers of %s: %w", t.ID, err)
	}

	c.mu.Lock()
	if c.epoch == epoch {
		c.layers[t.ID] = layers
	}
	c.mu.Unlock()
	return layers, nil
}

// Upload stores new layer files and creates a default config if the template
// has none. Nil layers are left untouched.
func (c *Catalogue) Upload(id string, background, foreground []byte) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	dir := filepath.Join(c.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create template dir: %w", err)
	}
	if background != nil {
		if err := os.WriteFile(filepath.Join(dir, "background.png"), background, 0o644); err != nil {
			return fmt.Errorf("write background: %w", err)
		}
		// background.jpg wins on lookup, so drop it when a new background arrives
		if err := os.Remove(filepath.Join(dir, "background.jpg")); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("replace background: %w", err)
		}
	}
	if foreground != nil {
		if err := os.WriteFile(filepath.Join(dir, foregroundFile), foreground, 0o644); err != nil {
			return fmt.Errorf("write foreground: %w", err)
		}
	}

	cfgPath := filepath.Join(dir, configFile)
	if !fileExists(cfgPath) {
		cfg := Config{
			ID:                id,
			Name:              "Template " + id,
			UserImagePosition: DefaultPosition,
			Description:       "Hochgeladenes Template " + id,
		}
		if err := jsonfile.Write(cfgPath, cfg); err != nil {
			return err
		}
	}
	c.Invalidate(id)
	c.log.Info("template uploaded", zap.String("id", id))
	return nil
}

// SaveConfig overwrites a template's config.json.
func (c *Catalogue) SaveConfig(id string, cfg Config) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if cfg.UserImagePosition.Width <= 0 || cfg.UserImagePosition.Height <= 0 {
		return fmt.Errorf("%w: photo rectangle must have a positive size", ErrBadConfig)
	}
	cfg.ID = id
	if err := jsonfile.Write(filepath.Join(c.dir, id, configFile), cfg); err != nil {
		return err
	}
	c.Invalidate(id)
	return nil
}

// Asset resolves one file of a template together with its content type.
func (c *Catalogue) Asset(id string, kind AssetType) (string, string, error) {
	t, err := c.Get(id)
	if err != nil {
		return "", "", err
	}
	switch kind {
	case AssetBackground:
		if t.BackgroundPath == "" {
			return "", "", fmt.Errorf("%w: %s has no background", ErrNotFound, id)
		}
		ct := "image/jpeg"
		if strings.HasSuffix(t.BackgroundPath, ".png") {
			ct = "image/png"
		}
		return t.BackgroundPath, ct, nil
	case AssetForeground:
		if t.ForegroundPath == "" {
			return "", "", fmt.Errorf("%w: %s has no foreground", ErrNotFound, id)
		}
		return t.ForegroundPath, "image/png", nil
	case AssetConfig:
		return filepath.Join(c.dir, id, configFile), "application/json", nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrAssetType, kind)
}

// Invalidate drops cached layers; an empty id drops everything.
func (c *Catalogue) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	if id == "" {
		c.layers = make(map[string]compositor.Layers)
		return
	}
	delete(c.layers, id)
}

func (c *Catalogue) cached(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.layers[id]
	return ok
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := compositor.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
