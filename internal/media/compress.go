// Package media shrinks captured photos before they are uploaded or embedded.
package media

import (
	"bytes"
	"fmt"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/raphaelgruber/patrolsync/internal/models"
)

// MaxEmbeddedLen caps the size of a data URL stored inline in a document.
// Larger embeds are dropped rather than written.
const MaxEmbeddedLen = 600 * 1024

// Preset controls the output size and JPEG quality.
type Preset struct {
	MaxSide int
	Quality int
}

// Presets for the capture sites.
var (
	Checkpoint = Preset{MaxSide: 1280, Quality: 75}
	Incident   = Preset{MaxSide: 1600, Quality: 80}
	Thumbnail  = Preset{MaxSide: 320, Quality: 70}
)

// Compress decodes an image, fits it within the preset's bounds and re-encodes
// it as JPEG. Images already within bounds are only re-encoded.
func Compress(data []byte, p Preset) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if p.MaxSide > 0 {
		b := img.Bounds()
		if b.Dx() > p.MaxSide || b.Dy() > p.MaxSide {
			img = imaging.Fit(img, p.MaxSide, p.MaxSide, imaging.Lanczos)
		}
	}
	quality := p.Quality
	if quality <= 0 || quality > 100 {
		quality = 75
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// CompressOrKeep compresses data, falling back to the original bytes and
// content type when the payload is not a decodable image.
func CompressOrKeep(data []byte, contentType string, p Preset) ([]byte, string) {
	out, err := Compress(data, p)
	if err != nil {
		return data, contentType
	}
	return out, "image/jpeg"
}

// EmbedBounded encodes data as a data URL, returning "" when the result would
// exceed MaxEmbeddedLen.
func EmbedBounded(contentType string, data []byte) models.Embedded {
	e := models.Embed(contentType, data)
	if len(e) > MaxEmbeddedLen {
		return ""
	}
	return e
}
