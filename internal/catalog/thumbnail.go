package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"go-sd-gallery/internal/keygen"

	"github.com/nfnt/resize"
)

// DefaultThumbnailWidth is the width thumbnails are scaled to.
const DefaultThumbnailWidth = 300

const (
	thumbnailSuffix  = "-thumb.jpg"
	thumbnailQuality = 85
)

// ErrUndecodable is returned for images the standard decoders cannot read (e.g. WebP).
var ErrUndecodable = errors.New("image cannot be decoded for thumbnailing")

// ThumbnailName maps an asset key to its thumbnail file name.
func ThumbnailName(key string) string {
	return keygen.StripExtension(key) + thumbnailSuffix
}

// MakeThumbnail scales an encoded image to width pixels wide, keeping the
// aspect ratio, and returns it as JPEG. Images narrower than width are not
// enlarged.
func MakeThumbnail(data []byte, width int) ([]byte, error) {
	if width <= 0 {
		width = DefaultThumbnailWidth
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUndecodable
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	thumb := img
	if bounds.Dx() > width {
		thumb = resize.Resize(uint(width), 0, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, fmt.Errorf("encoding %s thumbnail: %w", strings.ToUpper(format), err)
	}
	return buf.Bytes(), nil
}
