package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"gopkg.in/gographics/imagick.v3/imagick"

	"github.com/ajbt200128/mosaic/internal/geometry"
)

// decodeWithMagick converts path to PNG in memory with ImageMagick and decodes
// that. It covers RAW and other formats Go has no decoder for.
func decodeWithMagick(path string) (*image.NRGBA, error) {
	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("imagemagick read: %w", err)
	}
	if err := mw.SetImageFormat("PNG"); err != nil {
		return nil, fmt.Errorf("imagemagick convert: %w", err)
	}
	blob, err := mw.GetImageBlob()
	if err != nil {
		return nil, fmt.Errorf("imagemagick export: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	return geometry.ToNRGBA(img), nil
}
