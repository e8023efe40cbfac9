package imageref

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp"  // register BMP decoding
	_ "golang.org/x/image/webp" // register WebP decoding
	_ "image/gif"
	_ "image/png"
)

// Dimensions probes the pixel size of a payload-backed image without fully
// decoding it. Returns ok=false for URL-backed images or undecodable data.
func (im Image) Dimensions() (width, height int, ok bool) {
	if im.data == nil {
		return 0, 0, false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(im.data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

// Downscaled returns an image whose longest side does not exceed maxDim,
// re-encoded as JPEG. Oversized payloads are shrunk before being shipped to
// the detection providers; URL-backed images and payloads already within the
// bound are returned unchanged. maxDim <= 0 disables downscaling.
func (im Image) Downscaled(maxDim int) (Image, error) {
	if maxDim <= 0 || im.data == nil {
		return im, nil
	}

	w, h, ok := im.Dimensions()
	if !ok || (w <= maxDim && h <= maxDim) {
		return im, nil
	}

	src, err := imaging.Decode(bytes.NewReader(im.data), imaging.AutoOrientation(true))
	if err != nil {
		return Image{}, &ValidationError{Reason: "undecodable image payload"}
	}

	resized := imaging.Fit(src, maxDim, maxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90}); err != nil {
		return Image{}, err
	}

	out, err := FromBytes(buf.Bytes(), 0)
	if err != nil {
		return Image{}, err
	}
	out.source = im.source
	return out, nil
}
