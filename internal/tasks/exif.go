package tasks

import (
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/ajbt200128/mosaic/internal/imageio"
	"github.com/ajbt200128/mosaic/internal/storage"
)

// ExtractMetadata reads dimensions and, when present, EXIF camera and GPS
// fields for the photograph at path. Missing EXIF is not an error.
func ExtractMetadata(path string) (storage.ImageMetadata, error) {
	meta := storage.ImageMetadata{FilePath: path}

	size, err := imageio.Size(path)
	if err != nil {
		return meta, err
	}
	meta.Width, meta.Height = size.X, size.Y

	f, err := os.Open(path)
	if err != nil {
		return meta, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		// No EXIF segment, or an unreadable one.
		return meta, nil
	}
	fillEXIF(&meta, x)
	return meta, nil
}

func fillEXIF(meta *storage.ImageMetadata, x *exif.Exif) {
	if tag, err := x.Get(exif.Make); err == nil {
		meta.CameraMake, _ = tag.StringVal()
	}
	if tag, err := x.Get(exif.Model); err == nil {
		meta.CameraModel, _ = tag.StringVal()
	}
	if tag, err := x.Get(exif.FocalLength); err == nil {
		if r, err := tag.Rat(0); err == nil {
			meta.FocalLength, _ = r.Float64()
		}
	}
	if tag, err := x.Get(exif.FNumber); err == nil {
		if r, err := tag.Rat(0); err == nil {
			meta.Aperture, _ = r.Float64()
		}
	}
	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		meta.ISO, _ = tag.Int(0)
	}
	if tag, err := x.Get(exif.ExposureTime); err == nil {
		if r, err := tag.Rat(0); err == nil {
			meta.ExposureTime = r.RatString()
		}
	}
	if lat, lon, err := x.LatLong(); err == nil {
		meta.GPSLat, meta.GPSLon = lat, lon
	}
	if ts, err := x.DateTime(); err == nil {
		meta.Timestamp = ts.Format(time.RFC3339)
	}
}
