package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"coverserv/src/compositor"
	"coverserv/src/crop"
	"coverserv/src/pipeline"
	"coverserv/src/templates"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type renderOptions struct {
	Photo      string
	Templates  string
	TemplateID string
	Output     string
	CanvasSize int
	Quality    int

	X, Y, Width, Height float64
	cropSet             bool
}

var renderOpts renderOptions

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Composite one photo onto a template",
	Long: `Crops the photo to 16:9 (centered by default), places it on the template
and writes the JPEG cover to --out. Without --template a random complete
template is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		renderOpts.cropSet = f.Changed("x") || f.Changed("y") || f.Changed("width") || f.Changed("height")
		return renderCover(cmd.Context(), renderOpts, logger)
	},
}

func init() {
	f := renderCmd.Flags()
	f.StringVar(&renderOpts.Photo, "photo", "", "path to the source photo")
	f.StringVar(&renderOpts.Templates, "templates", "templates", "template directory")
	f.StringVar(&renderOpts.TemplateID, "template", "", "template id (random when empty)")
	f.StringVarP(&renderOpts.Output, "out", "o", "cover.jpg", "output file")
	f.IntVar(&renderOpts.CanvasSize, "canvas", 1920, "canvas edge in pixels")
	f.IntVar(&renderOpts.Quality, "quality", 90, "JPEG quality")
	f.Float64Var(&renderOpts.X, "x", 0, "crop left edge in percent")
	f.Float64Var(&renderOpts.Y, "y", 0, "crop top edge in percent")
	f.Float64Var(&renderOpts.Width, "width", 0, "crop width in percent")
	f.Float64Var(&renderOpts.Height, "height", 0, "crop height in percent")
	_ = renderCmd.MarkFlagRequired("photo")
}

func renderCover(ctx context.Context, opts renderOptions, log *zap.Logger) error {
	if opts.Photo == "" {
		return errors.New("photo is required")
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		return fmt.Errorf("quality %d out of range 1..100", opts.Quality)
	}
	raw, err := os.ReadFile(opts.Photo)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	img, format, err := compositor.DecodeBytes(raw)
	if err != nil {
		return fmt.Errorf("decode photo: %w", err)
	}
	b := img.Bounds()

	var region crop.Region
	if opts.cropSet {
		region = crop.Region{X: opts.X, Y: opts.Y, Width: opts.Width, Height: opts.Height}
		if err := crop.Validate(region, b.Dx(), b.Dy(), pipeline.DefaultAspect); err != nil {
			return err
		}
	} else if region, err = crop.ComputeDefault(b.Dx(), b.Dy(), pipeline.DefaultAspect); err != nil {
		return err
	}

	catalogue := templates.NewCatalogue(opts.Templates, log)
	var tmpl *templates.Template
	if opts.TemplateID == "" {
		tmpl, err = catalogue.Random()
	} else {
		tmpl, err = catalogue.Get(opts.TemplateID)
	}
	if err != nil {
		return fmt.Errorf("template: %w", err)
	}
	layers, err := catalogue.Layers(ctx, tmpl)
	if err != nil {
		return err
	}

	w, h := crop.CanonicalSize(pipeline.DefaultAspect)
	cropped, err := crop.Extract(img, region, w, h)
	if err != nil {
		return err
	}
	comp := compositor.New(log,
		compositor.WithCanvasSize(opts.CanvasSize),
		compositor.WithQuality(opts.Quality),
	)
	cover, err := comp.Render(cropped, layers, tmpl.Config.UserImagePosition)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.Output, cover, 0o644); err != nil {
		return fmt.Errorf("write cover: %w", err)
	}
	log.Info("cover rendered",
		zap.String("photo", opts.Photo),
		zap.String("format", format),
		zap.String("template", tmpl.ID),
		zap.String("out", opts.Output),
		zap.Int("bytes", len(cover)),
	)
	return nil
}
