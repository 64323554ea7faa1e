package pdfops

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Editor performs page level edits on in-memory PDF files.
type Editor interface {
	PageCount(src []byte) (int, error)
	RemovePages(src []byte, pages []int) ([]byte, error)
	// Select builds a new PDF from pages of src in the given order.
	Select(src []byte, pages []int) ([]byte, error)
	// Rotate turns pages clockwise, relative to their current rotation.
	Rotate(src []byte, angles map[int]int) ([]byte, error)
	// Insert places srcPages of src into dst after position pages.
	Insert(dst, src []byte, srcPages []int, position int) ([]byte, error)
}

type PDFCPU struct {
	Conf *model.Configuration
}

func NewPDFCPU() *PDFCPU {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFCPU{Conf: conf}
}

func selection(pages []int) []string {
	sel := make([]string, len(pages))
	for i, p := range pages {
		sel[i] = strconv.Itoa(p)
	}
	return sel
}

func (e *PDFCPU) PageCount(src []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(src), e.Conf)
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

func (e *PDFCPU) checkRange(src []byte, pages []int) (int, error) {
	total, err := e.PageCount(src)
	if err != nil {
		return 0, err
	}
	for _, p := range pages {
		if p < 1 || p > total {
			return 0, fmt.Errorf("page %d out of range 1..%d", p, total)
		}
	}
	return total, nil
}

func (e *PDFCPU) RemovePages(src []byte, pages []int) ([]byte, error) {
	pages = sortedUnique(pages)
	total, err := e.checkRange(src, pages)
	if err != nil {
		return nil, err
	}
	if len(pages) >= total {
		return nil, fmt.Errorf("cannot remove all %d pages", total)
	}
	var out bytes.Buffer
	if err := api.RemovePages(bytes.NewReader(src), &out, selection(pages), e.Conf); err != nil {
		return nil, fmt.Errorf("remove pages: %w", err)
	}
	return out.Bytes(), nil
}

func (e *PDFCPU) Select(src []byte, pages []int) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages selected")
	}
	if _, err := e.checkRange(src, pages); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := api.Collect(bytes.NewReader(src), &out, selection(pages), e.Conf); err != nil {
		return nil, fmt.Errorf("collect pages: %w", err)
	}
	return out.Bytes(), nil
}

func (e *PDFCPU) Rotate(src []byte, angles map[int]int) ([]byte, error) {
	byAngle := make(map[int][]int)
	pages := make([]int, 0, len(angles))
	for page, angle := range angles {
		a, err := NormalizeAngle(angle)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
		if a != 0 {
			byAngle[a] = append(byAngle[a], page)
		}
	}
	if _, err := e.checkRange(src, pages); err != nil {
		return nil, err
	}

	keys := make([]int, 0, len(byAngle))
	for a := range byAngle {
		keys = append(keys, a)
	}
	sort.Ints(keys)

	cur := src
	for _, a := range keys {
		var out bytes.Buffer
		if err := api.Rotate(bytes.NewReader(cur), &out, a, selection(sortedUnique(byAngle[a])), e.Conf); err != nil {
			return nil, fmt.Errorf("rotate pages by %d: %w", a, err)
		}
		cur = out.Bytes()
	}
	return cur, nil
}

func (e *PDFCPU) Insert(dst, src []byte, srcPages []int, position int) ([]byte, error) {
	moved, err := e.Select(src, srcPages)
	if err != nil {
		return nil, err
	}
	if dst == nil {
		return moved, nil
	}
	total, err := e.PageCount(dst)
	if err != nil {
		return nil, err
	}
	if position < 0 || position > total {
		return nil, fmt.Errorf("position %d out of range 0..%d", position, total)
	}

	var parts [][]byte
	if position > 0 {
		head, err := e.Select(dst, span(1, position))
		if err != nil {
			return nil, err
		}
		parts = append(parts, head)
	}
	parts = append(parts, moved)
	if position < total {
		tail, err := e.Select(dst, span(position+1, total))
		if err != nil {
			return nil, err
		}
		parts = append(parts, tail)
	}
	return e.merge(parts)
}

func (e *PDFCPU) merge(parts [][]byte) ([]byte, error) {
	if len(parts) == 1 {
		return parts[0], nil
	}
	readers := make([]io.ReadSeeker, len(parts))
	for i, p := range parts {
		readers[i] = bytes.NewReader(p)
	}
	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, e.Conf); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return out.Bytes(), nil
}

func span(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}
