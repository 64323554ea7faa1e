// Package tesseract recognizes page images with libtesseract.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"papervault/internal/ocr"

	"github.com/otiai10/gosseract/v2"
)

// Engine runs one gosseract client per page; clients are not safe for
// concurrent use.
type Engine struct {
	Variables     map[string]string
	clientFactory func() *gosseract.Client
}

func New(variables map[string]string) *Engine {
	return &Engine{Variables: variables, clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	c := e.clientFactory()
	defer c.Close()

	if len(in.Languages) > 0 {
		if err := c.SetLanguage(in.Languages...); err != nil {
			return ocr.Result{}, fmt.Errorf("set languages: %w", err)
		}
	}
	if in.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(in.DPI)); err != nil {
			return ocr.Result{}, fmt.Errorf("set dpi: %w", err)
		}
	}
	for _, vars := range []map[string]string{e.Variables, in.Variables} {
		for k, v := range vars {
			if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
				return ocr.Result{}, fmt.Errorf("set variable %s: %w", k, err)
			}
		}
	}
	if err := c.SetImageFromBytes(in.Image); err != nil {
		return ocr.Result{}, fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("recognize page %d: %w", in.Page, err)
	}
	res := ocr.Result{InputID: in.ID, Text: strings.TrimSpace(text)}
	if len(in.Languages) > 0 {
		res.Language = in.Languages[0]
	}
	if boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD); err == nil && len(boxes) > 0 {
		var sum float64
		for _, b := range boxes {
			sum += b.Confidence
		}
		res.Confidence = sum / float64(len(boxes)) / 100
	}
	return res, nil
}
