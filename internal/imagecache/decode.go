package imagecache

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/transform"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode decodes data into an RGBA image whose longest side is at most maxDim
// pixels (maxDim <= 0 keeps the original size).
func Decode(data []byte, maxDim int) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return fit(img, maxDim), nil
}

// fit converts img to RGBA and downsizes it, keeping the aspect ratio, when a side
// exceeds maxDim.
func fit(img image.Image, maxDim int) *image.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		if rgba, ok := img.(*image.RGBA); ok {
			return rgba
		}
		return clone.AsRGBA(img)
	}
	nw, nh := maxDim, maxDim
	if w > h {
		nh = max(1, h*maxDim/w)
	} else {
		nw = max(1, w*maxDim/h)
	}
	return transform.Resize(img, nw, nh, transform.Linear)
}

// footprint is the decoded size an image is charged against the budget.
func footprint(img *image.RGBA) int {
	if img == nil {
		return 0
	}
	return len(img.Pix)
}
