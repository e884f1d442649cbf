// Package liveness implements the frame-burst replay check run before any
// biometric call.
//
// The check only catches a static image submitted repeatedly: frames are
// compared by exact decoded pixel equality against the first frame. Any
// per-frame noise defeats it, so it is a cheap first filter and spoof
// resistance proper comes from the engine's anti-spoofing flag.
package liveness

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

// Reasons reported by Check.
const (
	ReasonInsufficientFrames = "Not enough images for liveness check"
	ReasonIdentical          = "Liveness check failed: Images are identical."
	ReasonPassed             = "Liveness check passed."
)

// MinFrames is the smallest burst the check accepts.
const MinFrames = 2

// Frame size limits, checked from the image header before any pixel data is
// decoded.
const (
	MaxSide   = 4096
	MaxPixels = 4096 * 3072
)

// ErrFrameTooLarge is returned for frames over MaxSide or MaxPixels.
var ErrFrameTooLarge = errors.New("image dimensions exceed limit")

// Result is the outcome of a liveness check.
type Result struct {
	Live   bool
	Reason string
}

// Check decides whether frames come from a live subject. Undecodable frames
// are reported as an error rather than a failed check.
func Check(frames []string) (Result, error) {
	if len(frames) < MinFrames {
		return Result{Reason: ReasonInsufficientFrames}, nil
	}
	first, err := decode(frames[0])
	if err != nil {
		return Result{}, fmt.Errorf("frame 0: %w", err)
	}
	for i, f := range frames[1:] {
		img, err := decode(f)
		if err != nil {
			return Result{}, fmt.Errorf("frame %d: %w", i+1, err)
		}
		if samePixels(first, img) {
			return Result{Reason: ReasonIdentical}, nil
		}
	}
	return Result{Live: true, Reason: ReasonPassed}, nil
}

// DecodeDataURL returns the raw bytes of a "<metadata>,<base64 payload>"
// frame. A bare base64 string without metadata is accepted too.
func DecodeDataURL(frame string) ([]byte, error) {
	payload := frame
	if _, after, ok := strings.Cut(frame, ","); ok {
		payload = after
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("empty image payload")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}

func decode(frame string) (*image.NRGBA, error) {
	raw, err := DecodeDataURL(frame)
	if err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width > MaxSide || cfg.Height > MaxSide || cfg.Width*cfg.Height > MaxPixels {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrFrameTooLarge)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}

func samePixels(a, b *image.NRGBA) bool {
	return a.Bounds().Eq(b.Bounds()) && bytes.Equal(a.Pix, b.Pix)
}
