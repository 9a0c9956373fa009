// Command benchmeasure re-measures a directory of exported mask images and
// reports accuracy against a ground-truth sheet. Masks are measured in
// parallel; each file's name (without extension, minus a "_skeleton" or
// "_mask" suffix) is its image ID.
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	_ "golang.org/x/image/tiff"

	"sperm-tracer/internal/groundtruth"
	"sperm-tracer/internal/measure"
	"sperm-tracer/internal/trace"
)

type result struct {
	imageID  string
	lengthUm float64
	fallback bool
	cmp      *groundtruth.Comparison
	err      error
}

func main() {
	maskDir := flag.String("masks", "", "Directory of mask images (PNG)")
	truthPath := flag.String("truth", "", "Ground truth CSV: image_id,length_um,tolerance_um")
	calibration := flag.Float64("calibration", 0, "Micrometers per pixel")
	workers := flag.Int("workers", 4, "Parallel workers")
	flag.Parse()

	if *maskDir == "" || *calibration <= 0 {
		fmt.Println("Usage: benchmeasure -masks <dir> -calibration 0.327 [-truth manual.csv] [-workers 4]")
		os.Exit(1)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()

	var store *groundtruth.Store
	if *truthPath != "" {
		var err error
		store, err = groundtruth.LoadCSV(*truthPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load ground truth")
		}
		log.Info().Int("records", store.Len()).Msg("ground truth loaded")
	}

	entries, err := os.ReadDir(*maskDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read mask directory")
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".png" || ext == ".jpg" || ext == ".jpeg" || ext == ".tif" || ext == ".tiff" {
			paths = append(paths, filepath.Join(*maskDir, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		log.Fatal().Str("dir", *maskDir).Msg("no mask images found")
	}

	var mu sync.Mutex
	results := make([]result, 0, len(paths))

	var g errgroup.Group
	g.SetLimit(*workers)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			r := measureMask(path, *calibration, store)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("measurement workers failed")
	}

	sort.Slice(results, func(i, j int) bool { return results[i].imageID < results[j].imageID })

	var sumAbs, sumRel float64
	compared, within, failed := 0, 0, 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Printf("%-24s ERROR: %v\n", r.imageID, r.err)
			continue
		}
		line := fmt.Sprintf("%-24s %8.2f um", r.imageID, r.lengthUm)
		if r.fallback {
			line += " (ellipse)"
		}
		if r.cmp != nil {
			compared++
			sumAbs += r.cmp.AbsoluteError
			sumRel += r.cmp.RelativeError
			if r.cmp.WithinTolerance {
				within++
			}
			line += fmt.Sprintf("  err %6.2f um (%5.1f%%)", r.cmp.AbsoluteError, 100*r.cmp.RelativeError)
			if r.cmp.WithinTolerance {
				line += "  OK"
			}
		}
		fmt.Println(line)
	}

	fmt.Printf("\n%d masks, %d failed\n", len(results), failed)
	if compared > 0 {
		fmt.Printf("Against ground truth (%d): mean abs err %.2f um, mean rel err %.1f%%, within tolerance %d/%d\n",
			compared, sumAbs/float64(compared), 100*sumRel/float64(compared), within, compared)
	}
}

func measureMask(path string, calibration float64, store *groundtruth.Store) result {
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id = strings.TrimSuffix(id, "_skeleton")
	id = strings.TrimSuffix(id, "_mask")
	r := result{imageID: id}

	f, err := os.Open(path)
	if err != nil {
		r.err = err
		return r
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		r.err = fmt.Errorf("decode: %w", err)
		return r
	}

	mask := trace.MaskFromImage(img)
	defer mask.Close()

	m, err := measure.Measure(mask, calibration)
	if err != nil {
		r.err = err
		return r
	}
	defer m.Skeleton.Close()

	r.lengthUm = m.LengthMicrometers
	r.fallback = m.Fallback

	if store != nil {
		if ref, ok := store.Lookup(id); ok {
			cmp, err := groundtruth.Compare(m, ref)
			if err != nil {
				r.err = err
				return r
			}
			r.cmp = &cmp
		}
	}
	return r
}
