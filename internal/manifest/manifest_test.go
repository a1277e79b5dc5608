package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ajbt200128/mosaic/internal/config"
	"github.com/ajbt200128/mosaic/internal/geometry"
)

const body = `reference: left.jpg
moving: right.jpg
output: out/merged.png
origin: bottom-left
reference_points:
  - {x: 10, y: 90}
  - {x: 10, y: 10}
  - {x: 90, y: 10}
  - {x: 90, y: 90}
moving_points:
  - {x: 1, y: 49}
  - {x: 1, y: 1}
  - {x: 49, y: 1}
  - {x: 49, y: 49}
`

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pair.mosaic.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("expected valid manifest, got %v", err)
	}
	if got := m.Resolve(m.Reference); got != filepath.Join(dir, "left.jpg") {
		t.Fatalf("unexpected resolved path %q", got)
	}
	if got := m.Resolve("/abs/x.png"); got != "/abs/x.png" {
		t.Fatalf("absolute paths must be kept, got %q", got)
	}
}

func TestRasterPointsFlipsBottomOrigin(t *testing.T) {
	m, err := Parse([]byte(body), false)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ref, mov := m.RasterPoints(config.OriginTopLeft, 100, 50)
	if ref[0] != geometry.Pt(10, 10) || ref[1] != geometry.Pt(10, 90) {
		t.Fatalf("reference points not flipped: %v", ref)
	}
	if mov[0] != geometry.Pt(1, 1) || mov[1] != geometry.Pt(1, 49) {
		t.Fatalf("moving points not flipped: %v", mov)
	}
	if m.ReferencePoints[0] != geometry.Pt(10, 90) {
		t.Fatalf("manifest points must not be modified")
	}

	m.Origin = config.OriginTopLeft
	ref, _ = m.RasterPoints(config.OriginBottomLeft, 100, 50)
	if !reflect.DeepEqual(ref, m.ReferencePoints) {
		t.Fatalf("top-left origin should not flip: %v", ref)
	}
}

func TestRasterPointsWithoutOriginUsesDefault(t *testing.T) {
	m, err := Parse([]byte(body), false)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	m.Origin = ""

	cases := []struct {
		def  string
		want geometry.Point2D
	}{
		{"", geometry.Pt(10, 10)},
		{config.OriginBottomLeft, geometry.Pt(10, 10)},
		{config.OriginTopLeft, geometry.Pt(10, 90)},
	}
	for _, c := range cases {
		ref, _ := m.RasterPoints(c.def, 100, 50)
		if ref[0] != c.want {
			t.Fatalf("default %q: expected %v, got %v", c.def, c.want, ref[0])
		}
	}
	if got := m.PointOrigin(""); got != config.OriginBottomLeft {
		t.Fatalf("expected bottom-left when nothing is named, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Manifest)
	}{
		{"no reference", func(m *Manifest) { m.Reference = "" }},
		{"no output", func(m *Manifest) { m.Output = "" }},
		{"three points", func(m *Manifest) { m.MovingPoints = m.MovingPoints[:3] }},
		{"bad origin", func(m *Manifest) { m.Origin = "middle" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Parse([]byte(body), false)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			tc.mutate(m)
			if err := m.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("reference: a\nbogus: 1\n"), false); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	m, err := Parse([]byte(`{"reference":"a.png","moving":"b.png","output":"c.png",
		"reference_points":[{"x":0,"y":0},{"x":0,"y":1},{"x":1,"y":1},{"x":1,"y":0}],
		"moving_points":[{"x":0,"y":0},{"x":0,"y":1},{"x":1,"y":1},{"x":1,"y":0}]}`), true)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("expected valid manifest, got %v", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	m, err := Parse([]byte(body), false)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	out, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	again, err := Parse(out, false)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if !reflect.DeepEqual(again.MovingPoints, m.MovingPoints) {
		t.Fatalf("points changed across marshal")
	}
}
