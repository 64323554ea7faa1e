package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"sync"

	"github.com/gen2brain/go-fitz"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

const mimePDF = "application/pdf"

// Pages gives access to the rasterized pages of one file.
type Pages interface {
	Count() int
	// Render returns page n (1-based) as PNG.
	Render(n int) ([]byte, error)
	Close() error
}

type Rasterizer interface {
	Open(data []byte, mime string) (Pages, error)
}

// FitzRasterizer renders PDF pages with MuPDF and normalizes images to PNG.
type FitzRasterizer struct {
	DPI int
}

func NewFitzRasterizer(dpi int) *FitzRasterizer {
	if dpi <= 0 {
		dpi = 300
	}
	return &FitzRasterizer{DPI: dpi}
}

func (r *FitzRasterizer) Open(data []byte, mime string) (Pages, error) {
	if mime != mimePDF {
		img, err := NormalizeImage(data)
		if err != nil {
			return nil, err
		}
		return imagePage{png: img}, nil
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &pdfPages{doc: doc, dpi: float64(r.DPI)}, nil
}

// PageCount reports how many pages a stored file has; images have one.
func (r *FitzRasterizer) PageCount(data []byte, mime string) (int, error) {
	if mime != mimePDF {
		return 1, nil
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()
	n := doc.NumPage()
	if n == 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return n, nil
}

type pdfPages struct {
	mu  sync.Mutex
	doc *fitz.Document
	dpi float64
}

func (p *pdfPages) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.NumPage()
}

func (p *pdfPages) Render(n int) ([]byte, error) {
	p.mu.Lock()
	img, err := p.doc.ImageDPI(n-1, p.dpi)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", n, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page %d: %w", n, err)
	}
	return buf.Bytes(), nil
}

func (p *pdfPages) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Close()
}

type imagePage struct {
	png []byte
}

func (imagePage) Count() int { return 1 }

func (i imagePage) Render(n int) ([]byte, error) {
	if n != 1 {
		return nil, fmt.Errorf("image has no page %d", n)
	}
	return i.png, nil
}

func (imagePage) Close() error { return nil }

// NormalizeImage decodes JPEG, PNG, TIFF or BMP data and re-encodes it as
// PNG. Only the first frame of a multi-page TIFF is kept.
func NormalizeImage(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if format == "png" {
		return data, nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode %s as png: %w", format, err)
	}
	return buf.Bytes(), nil
}
