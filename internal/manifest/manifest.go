// Package manifest describes a merge job on disk: the two photographs, the
// four landmarks picked on each and where to write the result.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/ajbt200128/mosaic/internal/config"
	"github.com/ajbt200128/mosaic/internal/geometry"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid manifest")

// Manifest is the YAML (or JSON) form of a merge job.
type Manifest struct {
	Reference       string             `yaml:"reference" json:"reference"`
	Moving          string             `yaml:"moving" json:"moving"`
	Output          string             `yaml:"output" json:"output"`
	Overlay         string             `yaml:"overlay,omitempty" json:"overlay,omitempty"`
	Origin          string             `yaml:"origin,omitempty" json:"origin,omitempty"`
	Sampling        string             `yaml:"sampling,omitempty" json:"sampling,omitempty"`
	ReferencePoints []geometry.Point2D `yaml:"reference_points" json:"reference_points"`
	MovingPoints    []geometry.Point2D `yaml:"moving_points" json:"moving_points"`

	dir string
}

// Load reads a manifest from path. Files ending in .json are decoded as JSON,
// everything else as YAML. Relative image paths resolve against the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Parse decodes a manifest body.
func Parse(data []byte, isJSON bool) (*Manifest, error) {
	var m Manifest
	var err error
	if isJSON {
		err = json.Unmarshal(data, &m)
	} else {
		err = yaml.UnmarshalStrict(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &m, nil
}

// Validate checks the manifest is complete.
func (m *Manifest) Validate() error {
	switch {
	case m.Reference == "":
		return fmt.Errorf("%w: reference is required", ErrInvalid)
	case m.Moving == "":
		return fmt.Errorf("%w: moving is required", ErrInvalid)
	case m.Output == "":
		return fmt.Errorf("%w: output is required", ErrInvalid)
	}
	if n := len(m.ReferencePoints); n != geometry.MaxCorrespondences {
		return fmt.Errorf("%w: need %d reference_points, got %d", ErrInvalid, geometry.MaxCorrespondences, n)
	}
	if n := len(m.MovingPoints); n != geometry.MaxCorrespondences {
		return fmt.Errorf("%w: need %d moving_points, got %d", ErrInvalid, geometry.MaxCorrespondences, n)
	}
	switch m.Origin {
	case "", config.OriginTopLeft, config.OriginBottomLeft:
	default:
		return fmt.Errorf("%w: origin %q", ErrInvalid, m.Origin)
	}
	return nil
}

// Resolve returns p relative to the manifest's directory unless it is absolute.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}

// PointOrigin returns the origin the manifest's points are measured from.
// A manifest that names none uses def, and bottom-left when def is empty too.
func (m *Manifest) PointOrigin(def string) string {
	switch {
	case m.Origin != "":
		return m.Origin
	case def != "":
		return def
	}
	return config.OriginBottomLeft
}

// RasterPoints returns both point lists in raster coordinates, flipping Y by
// each image's height unless the points are measured from the top-left.
func (m *Manifest) RasterPoints(def string, refHeight, movHeight int) (ref, mov []geometry.Point2D) {
	ref = append([]geometry.Point2D(nil), m.ReferencePoints...)
	mov = append([]geometry.Point2D(nil), m.MovingPoints...)
	if m.PointOrigin(def) == config.OriginTopLeft {
		return ref, mov
	}
	for i := range ref {
		ref[i] = geometry.FlipY(ref[i], refHeight)
	}
	for i := range mov {
		mov[i] = geometry.FlipY(mov[i], movHeight)
	}
	return ref, mov
}

// Marshal renders m as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}
