// Command measuretest runs the full measurement pipeline on one image:
// preprocess, grow from the given seed points, measure, and optionally
// compare against a ground-truth sheet.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"sperm-tracer/internal/app"
	"sperm-tracer/internal/config"
	"sperm-tracer/internal/export"
	"sperm-tracer/internal/groundtruth"
	"sperm-tracer/internal/version"
	"sperm-tracer/pkg/geometry"
)

func main() {
	imagePath := flag.String("image", "", "Path to microscopy image (TIFF, PNG, or JPEG)")
	seedList := flag.String("seeds", "", "Seed points as x,y pairs separated by ';' (e.g. \"120,80;140,95\")")
	presetPath := flag.String("preset", "", "YAML parameter preset (optional)")
	calibration := flag.Float64("calibration", 0, "Micrometers per pixel (overrides preset and image metadata)")
	truthPath := flag.String("truth", "", "Ground truth CSV: image_id,length_um,tolerance_um (optional)")
	exportDir := flag.String("export", "", "Export directory for measurements.json and skeleton PNG (optional)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *imagePath == "" || *seedList == "" {
		fmt.Println("Usage: measuretest -image <path> -seeds \"x,y;x,y\" [-preset p.yaml] [-calibration 0.327] [-truth manual.csv] [-export dir]")
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	log.Info().Str("version", version.Version).Msg("measuretest")

	preset := config.Default()
	if *presetPath != "" {
		var err error
		preset, err = config.Load(*presetPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load preset")
		}
	}

	seeds, err := parseSeeds(*seedList)
	if err != nil {
		log.Fatal().Err(err).Msg("bad -seeds value")
	}

	state := app.NewState(log)
	defer state.Close()

	if err := state.LoadImage(*imagePath); err != nil {
		log.Fatal().Err(err).Msg("failed to load image")
	}
	layer := state.Layer()
	fmt.Printf("Loaded image: %dx%d pixels (%s)\n", layer.Width(), layer.Height(), layer.ID())

	switch {
	case *calibration > 0:
		state.SetCalibration(*calibration)
	case preset.MicronsPerPixel > 0:
		state.SetCalibration(preset.MicronsPerPixel)
	case state.Calibration() > 0:
		// from TIFF metadata
	default:
		log.Fatal().Msg("no calibration available; pass -calibration")
	}
	fmt.Printf("Calibration: %.4f um/px\n", state.Calibration())

	if err := state.Preprocess(preset.Preprocess); err != nil {
		log.Fatal().Err(err).Msg("preprocessing failed")
	}
	if err := state.StartTrace(); err != nil {
		log.Fatal().Err(err).Msg("failed to start trace")
	}

	for _, seed := range seeds {
		res, err := state.AddSeed(seed, preset.Growth)
		if err != nil {
			log.Fatal().Err(err).Int("x", seed.X).Int("y", seed.Y).Msg("seed failed")
		}
		fmt.Printf("Seed (%d,%d): region %d px, added %d px", seed.X, seed.Y, res.Region, res.Changed)
		if res.Capped {
			fmt.Printf("  [capped at %d px - reduce tolerance]", preset.Growth.MaxRegionSize)
		}
		fmt.Println()
	}

	m, err := state.FinalizeTrace()
	if err != nil {
		log.Fatal().Err(err).Msg("measurement failed")
	}

	fmt.Printf("\nMask: %d px, skeleton: %d px\n", state.CurrentMask().Count(), m.SkeletonPixels)
	method := "skeleton path"
	if m.Fallback {
		method = "ellipse major axis"
	}
	fmt.Printf("Length: %.2f px = %.2f um (%s)\n", m.LengthPixels, m.LengthMicrometers, method)

	if *truthPath != "" {
		store, err := groundtruth.LoadCSV(*truthPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load ground truth")
		}
		if ref, ok := store.Lookup(layer.ID()); ok {
			cmp, err := state.CompareToGroundTruth(ref)
			if err != nil {
				log.Fatal().Err(err).Msg("comparison failed")
			}
			fmt.Printf("\nGround truth: %.2f um (tolerance %.2f um)\n", ref.ExpectedMicrometers, ref.ToleranceMicrometers)
			fmt.Printf("Error: %.2f um absolute, %.1f%% relative, within tolerance: %v\n",
				cmp.AbsoluteError, 100*cmp.RelativeError, cmp.WithinTolerance)
		} else {
			fmt.Printf("\nNo ground truth for %s\n", layer.ID())
		}
	}

	if *exportDir != "" {
		rec := export.MeasurementRecord{
			ImageID:           layer.ID(),
			LengthPixels:      m.LengthPixels,
			LengthMicrometers: m.LengthMicrometers,
			Calibration:       m.Calibration,
		}
		if err := export.WriteMeasurement(*exportDir, rec); err != nil {
			log.Fatal().Err(err).Msg("export failed")
		}
		skelPath := fmt.Sprintf("%s/skeleton_images/%s_skeleton.png", *exportDir, layer.ID())
		if err := export.WriteSkeletonPNG(skelPath, m.Skeleton); err != nil {
			log.Fatal().Err(err).Msg("skeleton export failed")
		}
		fmt.Printf("\nExported to %s\n", *exportDir)
	}
}

// parseSeeds parses "x,y;x,y;..." into pixel coordinates.
func parseSeeds(s string) ([]geometry.PointInt, error) {
	var seeds []geometry.PointInt
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("expected x,y but got %q", pair)
		}
		x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("bad x in %q: %w", pair, err)
		}
		y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("bad y in %q: %w", pair, err)
		}
		seeds = append(seeds, geometry.PointInt{X: x, Y: y})
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no seed points given")
	}
	return seeds, nil
}
