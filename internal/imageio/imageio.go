// Package imageio loads photographs into NRGBA rasters and writes composites
// back out. Common formats are decoded in-process; anything else goes through
// ImageMagick.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ajbt200128/mosaic/internal/geometry"
)

// ErrUnsupportedFormat is returned for output extensions with no encoder.
var ErrUnsupportedFormat = errors.New("unsupported image format")

const jpegQuality = 95

// fallbackDecoder handles files the registered decoders reject.
var fallbackDecoder = decodeWithMagick

// Load decodes the photograph at path. format is the decoder's name, or
// "magick" when ImageMagick had to convert it.
func Load(path string) (*image.NRGBA, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	img, format, err := Decode(f)
	if errors.Is(err, image.ErrFormat) {
		img, err = fallbackDecoder(path)
		format = "magick"
	}
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", path, err)
	}
	return img, format, nil
}

// Size returns the pixel dimensions of the photograph at path without
// decoding it when a registered decoder can read the header.
func Size(path string) (image.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Point{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if errors.Is(err, image.ErrFormat) {
		img, _, err := Load(path)
		if err != nil {
			return image.Point{}, err
		}
		return img.Bounds().Size(), nil
	}
	if err != nil {
		return image.Point{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return image.Pt(cfg.Width, cfg.Height), nil
}

// Decode reads any registered format from r.
func Decode(r io.Reader) (*image.NRGBA, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", err
	}
	return geometry.ToNRGBA(img), format, nil
}

// Save encodes img to path, choosing the encoder from the extension.
func Save(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img, filepath.Ext(path)); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Encode writes img in the format named by ext (".png", ".jpg", ".tiff", ".bmp").
func Encode(w io.Writer, img image.Image, ext string) error {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return png.Encode(w, img)
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	case "tif", "tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case "bmp":
		return bmp.Encode(w, img)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}
