// Package render implements the Renderer (C3): PDF pages (or a single
// standalone image) become one PNG per page, scaled to a bounded long edge.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/image/draw"

	"github.com/priceledger/pricelistd/internal/pricelisterr"
)

// Config configures the Renderer.
type Config struct {
	DPI         int // rendering resolution for PDF pages
	LongEdgePx  int // cap on the longer image dimension after rendering
}

// Renderer converts documents into per-page PNG images.
type Renderer struct {
	dpi        float64
	longEdgePx int
}

// New constructs a Renderer from Config, applying spec.md §6 defaults.
func New(cfg Config) *Renderer {
	dpi := cfg.DPI
	if dpi <= 0 {
		dpi = 200
	}
	longEdge := cfg.LongEdgePx
	if longEdge <= 0 {
		longEdge = 1540
	}
	return &Renderer{dpi: float64(dpi), longEdgePx: longEdge}
}

// RenderPDF converts every page of pdfBytes into a PNG, in page order
// (1-indexed by position). It is used by the ingest pipeline's rendering
// state (spec §4.3, §4.4).
func (r *Renderer) RenderPDF(ctx context.Context, pdfBytes []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(pdfBytes)
	if err != nil {
		return nil, pricelisterr.NewValidation("could not open PDF: %v", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, pricelisterr.NewValidation("PDF has no pages")
	}

	pages := make([][]byte, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(i, r.dpi)
		if err != nil {
			return nil, pricelisterr.NewInternal(err, "render page %d", i+1)
		}

		encoded, err := r.encodePNG(img)
		if err != nil {
			return nil, pricelisterr.NewInternal(err, "encode page %d", i+1)
		}
		pages = append(pages, encoded)
	}
	return pages, nil
}

// RenderImage treats a standalone image upload as a single-page document
// (spec §4.3: "an image upload is a one-page document").
func (r *Renderer) RenderImage(ctx context.Context, imageBytes []byte) ([][]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, pricelisterr.NewValidation("could not decode image: %v", err)
	}

	encoded, err := r.encodePNG(img)
	if err != nil {
		return nil, pricelisterr.NewInternal(err, "encode page 1")
	}
	return [][]byte{encoded}, nil
}

// encodePNG scales img down if its longer edge exceeds longEdgePx, then
// PNG-encodes it. Images already within bounds are encoded unscaled.
func (r *Renderer) encodePNG(img image.Image) ([]byte, error) {
	img = r.capLongEdge(img)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) capLongEdge(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longEdge := w
	if h > longEdge {
		longEdge = h
	}
	if longEdge <= r.longEdgePx {
		return img
	}

	scale := float64(r.longEdgePx) / float64(longEdge)
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
