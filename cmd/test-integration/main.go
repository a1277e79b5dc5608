package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ajbt200128/mosaic/internal/config"
	"github.com/ajbt200128/mosaic/internal/geometry"
	"github.com/ajbt200128/mosaic/internal/imageio"
	"github.com/ajbt200128/mosaic/internal/logging"
	"github.com/ajbt200128/mosaic/internal/manifest"
	"github.com/ajbt200128/mosaic/internal/pipeline"
	"github.com/ajbt200128/mosaic/internal/storage"
	"github.com/ajbt200128/mosaic/internal/tasks"
)

const (
	sceneW, sceneH = 480, 240
	photoW         = 300
	overlap        = 2*photoW - sceneW
)

// scene is a synthetic landscape both photos are cut from.
func scene(x, y int) color.NRGBA {
	fx, fy := float64(x)/sceneW, float64(y)/sceneH
	sky := fy < 0.45+0.1*math.Sin(fx*9)
	if sky {
		return color.NRGBA{R: uint8(90 + 60*fy), G: uint8(140 + 80*fy), B: 235, A: 255}
	}
	stripe := uint8(0)
	if (x/24+y/24)%2 == 0 {
		stripe = 30
	}
	return color.NRGBA{R: uint8(60 + 100*fx), G: 120 + stripe, B: uint8(40 + 40*fy), A: 255}
}

func crop(x0 int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, photoW, sceneH))
	for y := 0; y < sceneH; y++ {
		for x := 0; x < photoW; x++ {
			img.SetNRGBA(x, y, scene(x0+x, y))
		}
	}
	return img
}

func main() {
	fmt.Println("Mosaic integration test")

	dir, err := os.MkdirTemp("", "mosaic-integration-")
	if err != nil {
		log.Fatal("Failed to create work dir:", err)
	}
	fmt.Println("work dir:", dir)

	if err := imageio.Save(filepath.Join(dir, "left.png"), crop(0)); err != nil {
		log.Fatal("Failed to write left photo:", err)
	}
	if err := imageio.Save(filepath.Join(dir, "right.png"), crop(sceneW-photoW)); err != nil {
		log.Fatal("Failed to write right photo:", err)
	}

	// Landmarks inside the overlap, in each photo's own coordinates.
	shift := float64(sceneW - photoW)
	ref := []geometry.Point2D{{X: 200, Y: 30}, {X: 200, Y: 210}, {X: 290, Y: 210}, {X: 290, Y: 30}}
	mov := make([]geometry.Point2D, len(ref))
	for i, p := range ref {
		mov[i] = geometry.Pt(p.X-shift, p.Y)
	}
	m := &manifest.Manifest{
		Reference:       "left.png",
		Moving:          "right.png",
		Output:          "merged.png",
		Overlay:         "overlay.png",
		Origin:          config.OriginTopLeft,
		ReferencePoints: ref,
		MovingPoints:    mov,
	}
	body, err := m.Marshal()
	if err != nil {
		log.Fatal("Failed to encode manifest:", err)
	}
	manifestPath := filepath.Join(dir, "pair.mosaic.yaml")
	if err := os.WriteFile(manifestPath, body, 0o644); err != nil {
		log.Fatal("Failed to write manifest:", err)
	}

	cfg := config.Default()
	logger := logging.New("debug", "text")

	store, err := storage.New(cfg.Storage.Driver, filepath.Join(dir, "integration.db"))
	if err != nil {
		log.Fatal("Failed to create storage:", err)
	}
	defer store.Close()

	opts, err := tasks.MergeOptions(cfg.Mosaic, 0, logger)
	if err != nil {
		log.Fatal("Failed to build merge options:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pipe := pipeline.New(ctx, 1, logger, store, opts)
	defer pipe.Stop()

	results, unsubscribe := pipe.Subscribe()
	defer unsubscribe()

	job := pipeline.Job{ID: "integration-merge", Type: pipeline.JobMerge, InputPath: manifestPath}
	if err := pipe.Submit(job); err != nil {
		log.Fatal("Failed to submit job:", err)
	}

	select {
	case <-ctx.Done():
		log.Fatal("Timed out waiting for merge")
	case res := <-results:
		if res.Error != nil {
			log.Fatal("Merge failed:", res.Error)
		}
		fmt.Printf("merged canvas %v, max residual %v px\n", res.Meta["canvas"], res.Meta["max_residual"])
		fmt.Printf("stages: estimate %vms, warp %vms, blend %vms\n", res.Meta["estimate_ms"], res.Meta["warp_ms"], res.Meta["blend_ms"])
	}

	for _, name := range []string{"merged.png", "overlay.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			log.Fatal("Missing output:", err)
		}
		fmt.Printf("wrote %s (%s)\n", name, humanize.Bytes(uint64(info.Size())))
	}

	storedRef, storedMov, err := store.Correspondences(job.ID)
	if err != nil {
		log.Fatal("Failed to read correspondences:", err)
	}
	fmt.Printf("stored %d reference and %d moving landmarks\n", len(storedRef), len(storedMov))

	merged, _, err := imageio.Load(filepath.Join(dir, "merged.png"))
	if err != nil {
		log.Fatal("Failed to reload composite:", err)
	}
	// Right of the overlap only the moving photo contributes, so the scene
	// must come through unchanged.
	x := photoW + overlap/2 + 60
	if got, want := merged.NRGBAAt(x, 200), scene(x, 200); got != want {
		log.Fatalf("composite pixel (%d,200) = %v, want %v", x, got, want)
	}
	fmt.Println("Integration test passed")
}
