package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"mnistfeatures/internal/logger"
	"mnistfeatures/pkg/config"
	"mnistfeatures/pkg/dataset"
	"mnistfeatures/pkg/export"
	"mnistfeatures/pkg/features"
	"mnistfeatures/pkg/visualization"
)

func generateAction(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	// Flags set on the command line override the config file
	if c.IsSet("data-dir") {
		cfg.Dataset.Dir = c.String("data-dir")
	}
	if c.IsSet("split") {
		cfg.Dataset.Split = c.String("split")
	}
	if c.IsSet("output") {
		cfg.Output.Dir = c.String("output")
	}
	if c.IsSet("show-thumbnails") {
		cfg.Display.ShowThumbnails = c.Bool("show-thumbnails")
	}
	if c.IsSet("thumbnail-dir") {
		cfg.Display.ThumbnailDir = c.String("thumbnail-dir")
	}
	if c.IsSet("num-features") {
		cfg.Preprocessing.NumFeatures = c.Int("num-features")
	}
	if c.IsSet("log-level") {
		cfg.Output.LogLevel = c.String("log-level")
	}

	log := logger.NewConsole(logger.ParseLevel(cfg.Output.LogLevel))

	params, err := features.ParamsFromConfig(cfg)
	if err != nil {
		return err
	}

	fmt.Println("================================")
	fmt.Println("MNIST FEATURE PREPROCESSING")
	fmt.Println("crop, downsample, normalize and select active pixels")
	fmt.Println("================================")

	opts := []features.Option{features.WithLogger(log)}
	if params.ShowThumbnails {
		grid := visualization.NewThumbnailGrid(params.ScreenSize[0], params.ScreenSize[1])
		opts = append(opts, features.WithRenderer(grid))
	}

	src := dataset.NewIDXSource(cfg.Dataset.Dir)
	assembler := features.NewAssembler(src, params, opts...)

	startTime := time.Now()
	result, err := assembler.Process()
	if errors.Is(err, dataset.ErrMissingBackingFile) {
		return fmt.Errorf("%w\nplace the MNIST IDX files (optionally gzipped) in %s", err, cfg.Dataset.Dir)
	}
	if err != nil {
		return fmt.Errorf("feature generation failed: %w", err)
	}
	elapsed := time.Since(startTime)

	if err := export.Save(cfg.Output.Dir, result, params.ClassLabels); err != nil {
		return err
	}

	pixels, samples, classes := result.Features.Dims()
	fmt.Printf("\nFeature generation completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Feature array: %d active pixels x %d samples x %d classes\n", pixels, samples, classes)
	fmt.Printf("Thumbnail side length: %d\n", result.SideLength)
	fmt.Printf("Output saved to: %s\n", cfg.Output.Dir)
	if params.ShowThumbnails {
		fmt.Printf("Stage thumbnails saved to: %s\n", params.ThumbnailDir)
	}

	return nil
}

func initConfigAction(c *cli.Context) error {
	path := c.String("config")
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.CreateDefaultConfigFile(path); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to %s\n", path)
	return nil
}

func thumbnailsAction(c *cli.Context) error {
	log := logger.NewConsole(logger.ParseLevel(c.String("log-level")))

	result, labels, err := export.Load(c.String("input"))
	if err != nil {
		return err
	}

	// Re-embed the active pixels into zero-filled thumbnails
	thumbs, err := result.ActivePixels.EmbedTensor(result.Features, result.SideLength)
	if err != nil {
		return err
	}

	outputDir := c.String("output")
	grid := visualization.NewThumbnailGrid(c.Int("screen-width"), c.Int("screen-height"))
	gridPath := filepath.Join(outputDir, "feature_thumbnails.png")
	title := fmt.Sprintf("%d active pixels, side %d", len(result.ActivePixels), result.SideLength)
	if err := grid.RenderThumbnailGrid(thumbs, c.Int("per-class"), true, title, gridPath); err != nil {
		return err
	}
	log.Info().Str("path", gridPath).Msg("saved thumbnail grid")

	if c.Bool("all") {
		viewer, err := visualization.NewViewer(thumbs, labels)
		if err != nil {
			return err
		}
		samplesDir := filepath.Join(outputDir, "samples")
		if err := viewer.SaveThumbnailSequence(samplesDir); err != nil {
			return err
		}
		log.Info().Str("dir", samplesDir).Msg("saved individual thumbnails")
	}

	return nil
}

func main() {
	app := &cli.App{
		Name:     "mnistfeatures",
		HelpName: "mnistfeatures",
		Usage:    "turn MNIST images into normalized, class-organized feature vectors",
		Commands: []*cli.Command{
			{
				Name:      "generate",
				Usage:     "run the preprocessing pipeline and export the features",
				UsageText: "mnistfeatures generate [command options]",
				Action:    generateAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Value: "config.yaml",
						Usage: "configuration file (defaults are used when absent)",
					},
					&cli.StringFlag{
						Name:  "data-dir",
						Usage: "directory containing the MNIST IDX files",
					},
					&cli.StringFlag{
						Name:  "split",
						Usage: "dataset split: train or test",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "directory receiving the exported features",
					},
					&cli.BoolFlag{
						Name:  "show-thumbnails",
						Usage: "write thumbnail grids of each stage",
					},
					&cli.StringFlag{
						Name:  "thumbnail-dir",
						Usage: "directory receiving stage thumbnails",
					},
					&cli.IntFlag{
						Name:  "num-features",
						Usage: "number of active pixels to keep",
					},
					&cli.StringFlag{
						Name:  "log-level",
						Usage: "debug, info, warn or error",
					},
				},
			},
			{
				Name:      "init-config",
				Usage:     "write the default configuration file",
				UsageText: "mnistfeatures init-config [command options]",
				Action:    initConfigAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Value: "config.yaml",
						Usage: "configuration file to create",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "overwrite an existing file",
					},
				},
			},
			{
				Name:      "thumbnails",
				Usage:     "render exported features back into thumbnails",
				UsageText: "mnistfeatures thumbnails [command options]",
				Action:    thumbnailsAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "input",
						Value: "features",
						Usage: "directory written by generate",
					},
					&cli.StringFlag{
						Name:  "output",
						Value: "thumbnails",
						Usage: "directory receiving the images",
					},
					&cli.IntFlag{
						Name:  "per-class",
						Value: 5,
						Usage: "thumbnails per class in the grid",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "also write one image per sample",
					},
					&cli.IntFlag{
						Name:  "screen-width",
						Value: 1920,
						Usage: "screen width hint for the grid",
					},
					&cli.IntFlag{
						Name:  "screen-height",
						Value: 1080,
						Usage: "screen height hint for the grid",
					},
					&cli.StringFlag{
						Name:  "log-level",
						Value: "info",
						Usage: "debug, info, warn or error",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
