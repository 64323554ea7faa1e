// Package ocr turns stored document versions into per-page text.
package ocr

import (
	"context"
	"strings"
)

// Input is one rasterized page.
type Input struct {
	ID        string
	Image     []byte // PNG
	Page      int
	DPI       int
	Languages []string
	Variables map[string]string
}

type Result struct {
	InputID    string
	Text       string
	Language   string
	Confidence float64
}

type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
}

// NoopEngine recognizes nothing. It lets the pipeline run without tesseract.
type NoopEngine struct{}

func (NoopEngine) Name() string { return "noop" }

func (NoopEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{InputID: in.ID, Language: firstLanguage(in.Languages)}, nil
}

func firstLanguage(langs []string) string {
	if len(langs) == 0 {
		return ""
	}
	return langs[0]
}

// Languages resolves the tesseract language list for a document language.
// Unknown languages fall back to the configured default.
func Languages(lang string, allowed []string, fallback string) []string {
	for _, l := range allowed {
		if strings.EqualFold(l, lang) {
			return []string{l}
		}
	}
	if fallback != "" {
		return []string{fallback}
	}
	return nil
}
