package main

import(
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/abworrall/panostitch/pkg/calib"
	"github.com/abworrall/panostitch/pkg/geosolver"
	"github.com/abworrall/panostitch/pkg/manifest"
)

func main() {
	app := &cli.App{
		Name:  "calibrate",
		Usage: "solve the relative rotations of a set of overlapping cameras",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "calibration_path", Aliases: []string{"c"}, Required: true,
				Usage: "intrinsic manifest (json)"},
			&cli.StringFlag{Name: "dataset_path", Aliases: []string{"d"}, Required: true,
				Usage: "dataset manifest listing the images of each camera (json)"},
			&cli.StringFlag{Name: "output_path", Aliases: []string{"o"}, Required: true,
				Usage: "where to write the calibration result (json)"},
			&cli.Float64Flag{Name: "features_thresh", Value: calib.DefaultFeaturesConfThresh,
				Usage: "feature matcher confidence"},
			&cli.StringFlag{Name: "adjustor_type", Value: "ray",
				Usage: "bundle adjustment: no, ray or reproj"},
			&cli.StringFlag{Name: "debug_dir",
				Usage: "if set, keypoint plots are written here"},
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
	out := c.String("output_path")
	if !strings.HasSuffix(out, ".json") {
		return errors.Errorf("output path '%s' must end in .json", out)
	}
	adjuster, err := calib.ParseBundleAdjuster(c.String("adjustor_type"))
	if err != nil {
		return err
	}

	log, err := newLogger(c.Int("verbosity"))
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Infof("calibrate starting")

	intrinsics, ds, err := loadManifests(c.String("calibration_path"), c.String("dataset_path"))
	if err != nil {
		return err
	}
	images, err := manifest.CalibrationImages(intrinsics, ds, log)
	if err != nil {
		return err
	}

	solver := geosolver.New(log.Named("geosolver"))
	solver.DebugDir = c.String("debug_dir")

	calibrator := calib.NewCalibrator(solver, log.Named("calib"))
	calibrator.FeaturesConfThresh = c.Float64("features_thresh")
	calibrator.Adjuster = adjuster

	res, err := calibrator.Calibrate(context.Background(), images)
	if err != nil {
		log.Errorf("calibration failed: %v", err)
		return err
	}
	if len(res.Excluded) > 0 {
		log.Warnf("images %v were not in the largest matched component", res.Excluded)
	}

	fmt.Println(summary(res))

	if err := manifest.FromResult(res).Save(out); err != nil {
		return err
	}
	log.Infof("calibration of %d cameras written to %s", len(res.Cameras), out)
	return nil
}

func summary(res calib.Result) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("focal %.2f", res.Focal))
	t.AppendHeader(table.Row{"#", "Camera", "Rotation (rodrigues)", "fx", "fy"})
	for _, cc := range res.Cameras {
		r := cc.Rotation.RodriguesVec()
		t.AppendRow(table.Row{
			cc.Index,
			cc.Camera.Name(),
			fmt.Sprintf("%.4f, %.4f, %.4f", r[0], r[1], r[2]),
			fmt.Sprintf("%.2f", cc.Extrinsic[0]),
			fmt.Sprintf("%.2f", cc.Extrinsic[4]),
		})
	}
	return t.Render()
}
