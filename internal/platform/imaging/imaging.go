// Package imaging normalises storyboard frames before they enter the
// pipeline: every beat image is decoded, capped to the video model's
// working size, forced to even dimensions, and re-encoded as PNG. Video
// models reject odd-dimension init images the same way the H.264
// encoder does, so this runs on both generated frames and user uploads.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	_ "image/jpeg"

	xdraw "golang.org/x/image/draw"
)

// NormalizePNG decodes r (PNG or JPEG), scales it down to fit within
// maxW x maxH when it exceeds either bound, rounds the result to even
// dimensions, and returns the PNG encoding. Images already within
// bounds are only re-encoded (and trimmed by one pixel per odd
// dimension).
func NormalizePNG(r io.Reader, maxW, maxH int) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("imaging: decode: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("imaging: empty image %dx%d", w, h)
	}

	targetW, targetH := fit(w, h, maxW, maxH)
	targetW, targetH = even(targetW), even(targetH)
	if targetW <= 0 || targetH <= 0 {
		return nil, fmt.Errorf("imaging: image too small after normalisation (%dx%d)", targetW, targetH)
	}

	if targetW == w && targetH == h {
		if p, ok := src.(*image.NRGBA); ok {
			return encodePNG(p)
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, targetW, targetH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return encodePNG(dst)
}

func fit(w, h, maxW, maxH int) (int, int) {
	if maxW <= 0 || maxH <= 0 {
		return w, h
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	return int(float64(w) * scale), int(float64(h) * scale)
}

func even(v int) int {
	if v%2 != 0 {
		return v - 1
	}
	return v
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imaging: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
