package main

import(
	"fmt"
	"io"
	"os"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/abworrall/panostitch/pkg/camera"
	"github.com/abworrall/panostitch/pkg/manifest"
	"github.com/abworrall/panostitch/pkg/stitch"
	"github.com/abworrall/panostitch/pkg/stream"
)

func main() {
	app := &cli.App{
		Name:  "stitch",
		Usage: "composite the frames of calibrated cameras into panoramic mosaics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "calibration_path", Aliases: []string{"c"}, Required: true,
				Usage: "calibration result manifest (json)"},
			&cli.StringFlag{Name: "dataset_path", Aliases: []string{"d"}, Required: true,
				Usage: "dataset manifest listing the frames of each camera (json)"},
			&cli.StringFlag{Name: "config",
				Usage: "yaml file of stitching settings; flags below override it"},
			&cli.Float64Flag{Name: "blend_strength", Aliases: []string{"s"},
				Usage: "blend width as a percentage of the mosaic diagonal scale"},
			&cli.Float64Flag{Name: "scale_factor",
				Usage: "downscale for seam finding, (0,1]"},
			&cli.BoolFlag{Name: "do_update_exposure",
				Usage: "re-learn exposure gains for every frame-set"},
			&cli.BoolFlag{Name: "do_update_seams",
				Usage: "re-find seams for every frame-set"},
			&cli.StringFlag{Name: "format",
				Usage: "mosaic file format: png, tif or hdr"},
			&cli.StringFlag{Name: "projection",
				Usage: "cylindrical or spherical"},
			&cli.StringFlag{Name: "outdir", Value: ".",
				Usage: "where mosaics are written"},
			&cli.StringFlag{Name: "debug_dir",
				Usage: "with -v, blend weight maps are written here"},
			&cli.IntFlag{Name: "verbosity", Aliases: []string{"v"},
				Usage: "how verbose to get"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(verbosity int) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	if verbosity <= 0 {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "logger")
	}
	return l.Sugar(), nil
}

// buildConfig layers the flags that were set over the yaml file (or the defaults).
func buildConfig(c *cli.Context) (stitch.Config, error) {
	cfg := stitch.NewConfig()
	if file := c.String("config"); file != "" {
		var err error
		if cfg, err = stitch.LoadConfig(file); err != nil {
			return cfg, errors.Wrapf(err, "--config %s", file)
		}
	}
	if c.IsSet("blend_strength") {
		cfg.BlendStrength = c.Float64("blend_strength")
	}
	if c.IsSet("scale_factor") {
		cfg.ScaleFactor = c.Float64("scale_factor")
	}
	if c.IsSet("do_update_exposure") {
		cfg.UpdateExposure = c.Bool("do_update_exposure")
	}
	if c.IsSet("do_update_seams") {
		cfg.UpdateSeams = c.Bool("do_update_seams")
	}
	if c.IsSet("format") {
		cfg.Format = c.String("format")
	}
	if c.IsSet("projection") {
		cfg.Projection = c.String("projection")
	}
	if c.IsSet("debug_dir") {
		cfg.DebugDir = c.String("debug_dir")
	}
	if c.IsSet("verbosity") {
		cfg.Verbosity = c.Int("verbosity")
	}
	return cfg, cfg.Validate()
}

// loadManifests names the flag that pointed at whichever file could not be used.
func loadManifests(calPath, dsPath string) (manifest.Calibration, manifest.Dataset, error) {
	cal, err := manifest.LoadCalibration(calPath)
	if err != nil {
		return cal, nil, errors.Wrapf(err, "--calibration_path %s", calPath)
	}
	ds, err := manifest.LoadDataset(dsPath)
	if err != nil {
		return cal, nil, errors.Wrapf(err, "--dataset_path %s", dsPath)
	}
	return cal, ds, nil
}

func run(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Verbosity)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Infof("stitch starting")
	if cfg.Verbosity > 0 {
		log.Debugf("Final configuration:-\n\n%s\n", cfg.AsYaml())
	}

	kind, err := camera.ParseProjection(cfg.Projection)
	if err != nil {
		return err
	}
	calibration, ds, err := loadManifests(c.String("calibration_path"), c.String("dataset_path"))
	if err != nil {
		return err
	}
	streams, err := manifest.Streams(calibration, ds, kind, camera.WarpProjector{}, log)
	if err != nil {
		return err
	}

	bundle := stream.NewBundle(streams, log.Named("bundle"))
	if err := bundle.Connect(); err != nil {
		return err
	}
	defer func() {
		if err := bundle.Disconnect(); err != nil {
			log.Warnf("disconnect: %v", err)
		}
	}()

	pc, err := cfg.PipelineConfig(log)
	if err != nil {
		return err
	}
	p, err := stitch.New(bundle, pc, log.Named("pipeline"))
	if err != nil {
		return err
	}
	if err := p.InitFromCurrentStream(); err != nil {
		return errors.Wrap(err, "bootstrap")
	}

	outdir := c.String("outdir")
	if err := os.MkdirAll(outdir, 0755); err != nil {
		return errors.Wrapf(err, "outdir %s", outdir)
	}

	latency := hdrhistogram.New(1, int64(10*time.Minute/time.Millisecond), 3)
	for n:=0; ; n++ {
		start := time.Now()
		mosaic, err := p.Read(cfg.UpdateExposure, cfg.UpdateSeams)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return errors.Wrapf(err, "frame-set %d", n)
		}
		if err := latency.RecordValue(time.Since(start).Milliseconds()); err != nil {
			log.Debugf("latency: %v", err)
		}

		filename := stitch.MosaicFilename(outdir, n, cfg.Format)
		if err := stitch.WriteMosaic(mosaic, filename); err != nil {
			return err
		}
		log.Infof("mosaic %d written to %s (%dx%d)", n, filename, mosaic.Rect.Dx(), mosaic.Rect.Dy())
	}

	fmt.Println(summary(p, bundle, latency))
	return nil
}

func summary(p *stitch.Pipeline, b *stream.Bundle, latency *hdrhistogram.Histogram) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("session %s: %d mosaics", p.Session(), p.Cycles()))
	t.AppendHeader(table.Row{"Camera", "Corners", "Size"})
	corners, sizes := b.Corners(), b.Sizes()
	for i, name := range b.Names() {
		t.AppendRow(table.Row{name, corners[i].String(), sizes[i].String()})
	}
	t.AppendFooter(table.Row{"latency ms",
		fmt.Sprintf("p50 %d  p90 %d  max %d", latency.ValueAtQuantile(50), latency.ValueAtQuantile(90), latency.Max()),
		fmt.Sprintf("mean %.1f", latency.Mean())})
	return t.Render()
}
