// Package storage lays out document files and per-page OCR text under the
// media root.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

type Local struct {
	Root string
}

func New(root string) *Local {
	return &Local{Root: root}
}

// VersionPath is docvers/<user>/<document>/v<n>/<file>.
func VersionPath(userID, docID string, version int, fileName string) string {
	return filepath.Join("docvers", userID, docID, fmt.Sprintf("v%d", version), filepath.Base(fileName))
}

// PageTextPath is ocr/<document>/v<n>/page_<k>.txt.
func PageTextPath(docID string, version, page int) string {
	return filepath.Join("ocr", docID, fmt.Sprintf("v%d", version), fmt.Sprintf("page_%d.txt", page))
}

func (l *Local) Abs(rel string) string {
	return filepath.Join(l.Root, rel)
}

// Save writes r to rel atomically and returns the byte count.
func (l *Local) Save(rel string, r io.Reader) (int64, error) {
	dst := l.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Dir(rel), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write %s: %w", rel, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("rename %s: %w", rel, err)
	}
	return n, nil
}

func (l *Local) Open(rel string) (*os.File, error) {
	return os.Open(l.Abs(rel))
}

func (l *Local) Exists(rel string) bool {
	_, err := os.Stat(l.Abs(rel))
	return err == nil
}

func (l *Local) WriteText(rel, text string) error {
	dst := l.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte(text), 0o644)
}

// ReadText returns "" for a page that was never OCRed.
func (l *Local) ReadText(rel string) (string, error) {
	data, err := os.ReadFile(l.Abs(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CopyPageText carries OCR output of a surviving page into a new version.
func (l *Local) CopyPageText(srcDoc string, srcVersion, srcPage int, dstDoc string, dstVersion, dstPage int) error {
	text, err := l.ReadText(PageTextPath(srcDoc, srcVersion, srcPage))
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return l.WriteText(PageTextPath(dstDoc, dstVersion, dstPage), text)
}

// RemoveDocument deletes every version and OCR file of a document.
func (l *Local) RemoveDocument(userID, docID string) error {
	if err := os.RemoveAll(l.Abs(filepath.Join("docvers", userID, docID))); err != nil {
		return err
	}
	return os.RemoveAll(l.Abs(filepath.Join("ocr", docID)))
}

func (l *Local) ReadFile(rel string) ([]byte, error) {
	return os.ReadFile(l.Abs(rel))
}

// RemoveVersion deletes the file and OCR text of one version.
func (l *Local) RemoveVersion(userID, docID string, version int) error {
	dir := filepath.Dir(VersionPath(userID, docID, version, "x"))
	if err := os.RemoveAll(l.Abs(dir)); err != nil {
		return err
	}
	return os.RemoveAll(l.Abs(filepath.Dir(PageTextPath(docID, version, 1))))
}
