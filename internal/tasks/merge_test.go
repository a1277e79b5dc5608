package tasks

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/ajbt200128/mosaic/internal/config"
	"github.com/ajbt200128/mosaic/internal/estimate"
	"github.com/ajbt200128/mosaic/internal/geometry"
	"github.com/ajbt200128/mosaic/internal/imageio"
	"github.com/ajbt200128/mosaic/internal/manifest"
	"github.com/ajbt200128/mosaic/internal/mosaic"
)

func writePhoto(t *testing.T, path string, w, h int, seed uint8) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x*4) + seed, G: uint8(y * 6), B: seed, A: 255})
		}
	}
	if err := imageio.Save(path, img); err != nil {
		t.Fatalf("save photo: %v", err)
	}
}

func pairManifest(t *testing.T) (*manifest.Manifest, string) {
	t.Helper()
	dir := t.TempDir()
	writePhoto(t, filepath.Join(dir, "left.png"), 40, 30, 0)
	writePhoto(t, filepath.Join(dir, "right.png"), 40, 30, 80)
	body := `reference: left.png
moving: right.png
output: out/merged.png
overlay: out/overlay.png
reference_points: [{x: 20, y: 5}, {x: 20, y: 25}, {x: 38, y: 25}, {x: 38, y: 5}]
moving_points: [{x: 2, y: 5}, {x: 2, y: 25}, {x: 20, y: 25}, {x: 20, y: 5}]
`
	path := filepath.Join(dir, "pair.mosaic.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	m, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	return m, dir
}

func TestRunMergeWritesCompositeAndOverlay(t *testing.T) {
	m, dir := pairManifest(t)
	opts, err := MergeOptions(config.Default().Mosaic, 2, nil)
	if err != nil {
		t.Fatalf("options: %v", err)
	}

	res, err := RunMerge(context.Background(), MergeRequest{JobID: "j1", Manifest: m, Options: opts})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Canvas != image.Pt(80, 30) {
		t.Fatalf("expected 80x30 canvas, got %v", res.Canvas)
	}
	// Moving points sit 18px left of the reference ones: a pure translation.
	want := geometry.Homography{1, 0, 18, 0, 1, 0, 0, 0, 1}
	if !res.Homography.ApproxEqual(want, 1e-6) {
		t.Fatalf("expected %v, got %v", want, res.Homography)
	}
	if res.MaxResidual > 1e-3 {
		t.Fatalf("residual too large: %v", res.MaxResidual)
	}

	out, _, err := imageio.Load(filepath.Join(dir, "out/merged.png"))
	if err != nil {
		t.Fatalf("composite not written: %v", err)
	}
	if out.Bounds().Size() != res.Canvas {
		t.Fatalf("unexpected composite size %v", out.Bounds())
	}
	// Column 70 lies beyond the shifted moving photo.
	if out.NRGBAAt(70, 10).A != 0 {
		t.Fatalf("expected transparent beyond both photos")
	}
	if _, err := os.Stat(filepath.Join(dir, "out/overlay.png")); err != nil {
		t.Fatalf("overlay not written: %v", err)
	}
	if meta := res.Meta(); meta["canvas"] != "80x30" {
		t.Fatalf("unexpected meta %v", meta)
	}
}

func TestRunMergeDegeneratePoints(t *testing.T) {
	m, dir := pairManifest(t)
	m.ReferencePoints = []geometry.Point2D{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 10, Y: 10}, {X: 30, Y: 2}}

	_, err := RunMerge(context.Background(), MergeRequest{Manifest: m, Options: mosaic.DefaultOptions()})
	var me *mosaic.MergeError
	if !errors.As(err, &me) || !errors.Is(err, estimate.ErrSingularTransform) {
		t.Fatalf("expected singular transform merge error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out/merged.png")); !os.IsNotExist(err) {
		t.Fatalf("no composite may be written on failure")
	}
}

func TestRunMergeCancelled(t *testing.T) {
	m, _ := pairManifest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := RunMerge(ctx, MergeRequest{Manifest: m, Options: mosaic.DefaultOptions()}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunEstimateBottomLeftOrigin(t *testing.T) {
	m, _ := pairManifest(t)
	// Same landmarks expressed from the bottom of the 30px-high photos.
	for i := range m.ReferencePoints {
		m.ReferencePoints[i] = geometry.FlipY(m.ReferencePoints[i], 30)
		m.MovingPoints[i] = geometry.FlipY(m.MovingPoints[i], 30)
	}
	m.Origin = config.OriginBottomLeft

	res, err := RunEstimate(context.Background(), m, config.OriginTopLeft)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := geometry.Homography{1, 0, 18, 0, 1, 0, 0, 0, 1}
	if !res.Homography.ApproxEqual(want, 1e-6) {
		t.Fatalf("expected %v, got %v", want, res.Homography)
	}
	if len(res.Residuals) != 4 {
		t.Fatalf("expected 4 residuals, got %v", res.Residuals)
	}
}

func TestRunMergeManifestWithoutOriginUsesConfig(t *testing.T) {
	m, _ := pairManifest(t)
	opts, err := MergeOptions(config.Default().Mosaic, 1, nil)
	if err != nil {
		t.Fatalf("options: %v", err)
	}

	res, err := RunMerge(context.Background(), MergeRequest{Manifest: m, Options: opts})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	// Default points are measured from the bottom of the 30px-high photos.
	if res.ReferencePoints[0] != geometry.Pt(20, 25) || res.MovingPoints[1] != geometry.Pt(2, 5) {
		t.Fatalf("expected flipped points, got %v %v", res.ReferencePoints, res.MovingPoints)
	}

	opts.PointOrigin = config.OriginTopLeft
	res, err = RunMerge(context.Background(), MergeRequest{Manifest: m, Options: opts})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.ReferencePoints[0] != geometry.Pt(20, 5) {
		t.Fatalf("top-left config must not flip, got %v", res.ReferencePoints)
	}

	est, err := RunEstimate(context.Background(), m, "")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if want := (geometry.Homography{1, 0, 18, 0, 1, 0, 0, 0, 1}); !est.Homography.ApproxEqual(want, 1e-6) {
		t.Fatalf("expected %v, got %v", want, est.Homography)
	}
}

func TestMergeOptionsRejectsUnknownSampling(t *testing.T) {
	cfg := config.Default().Mosaic
	cfg.Sampling = "cubic"
	if _, err := MergeOptions(cfg, 0, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestExtractMetadataWithoutEXIF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	writePhoto(t, path, 12, 7, 0)
	meta, err := ExtractMetadata(path)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if meta.Width != 12 || meta.Height != 7 || meta.CameraMake != "" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}
