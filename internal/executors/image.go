package executors

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/tendant/simple-image-sync/pkg/pipeline"
)

// ImageExecutor resizes and optimizes images using imaging
type ImageExecutor struct {
	Filter         imaging.ResampleFilter
	PNGCompression png.CompressionLevel
}

// NewImageExecutor creates an image executor with Lanczos resampling
// and maximum PNG compression
func NewImageExecutor() *ImageExecutor {
	return &ImageExecutor{
		Filter:         imaging.Lanczos,
		PNGCompression: png.BestCompression,
	}
}

// Resize decodes the image read from r and produces the variant
// described by spec, encoded in the format implied by name
func (e *ImageExecutor) Resize(ctx context.Context, r io.Reader, name string, spec pipeline.TransformSpec) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format, err := imaging.FormatFromFilename(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported output format for %s: %w", name, err)
	}

	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}

	var out image.Image
	switch {
	case spec.Height == 0:
		out = imaging.Resize(img, spec.Width, 0, e.Filter)
	case spec.Crop:
		out = imaging.Fill(img, spec.Width, spec.Height, Anchor(spec.Gravity), e.Filter)
	default:
		out = imaging.Fit(img, spec.Width, spec.Height, e.Filter)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, format,
		imaging.JPEGQuality(JPEGQuality(spec.Quality)),
		imaging.PNGCompressionLevel(e.PNGCompression),
	); err != nil {
		return nil, fmt.Errorf("%s encode failed: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Optimize losslessly recompresses data when that makes it smaller.
// Only PNG is re-encoded; other formats are returned unchanged.
func (e *ImageExecutor) Optimize(ctx context.Context, data []byte, hints pipeline.FormatHints) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mime := hints.MIME
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	if !mimetype.EqualsAny(mime, "image/png") {
		return data, nil
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("png decode failed for %s: %w", hints.Name, err)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: e.PNGCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode failed for %s: %w", hints.Name, err)
	}
	if buf.Len() >= len(data) {
		return data, nil
	}
	return buf.Bytes(), nil
}

// Anchor maps a gravity to the imaging crop anchor
func Anchor(g pipeline.Gravity) imaging.Anchor {
	switch g {
	case pipeline.GravityNorthWest:
		return imaging.TopLeft
	case pipeline.GravityNorth:
		return imaging.Top
	case pipeline.GravityNorthEast:
		return imaging.TopRight
	case pipeline.GravityWest:
		return imaging.Left
	case pipeline.GravityEast:
		return imaging.Right
	case pipeline.GravitySouthWest:
		return imaging.BottomLeft
	case pipeline.GravitySouth:
		return imaging.Bottom
	case pipeline.GravitySouthEast:
		return imaging.BottomRight
	default:
		return imaging.Center
	}
}

// JPEGQuality converts a 0..1 quality factor to the 1..100 JPEG scale
func JPEGQuality(q float64) int {
	n := int(q*100 + 0.5)
	if n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}
