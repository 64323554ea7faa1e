package service

import (
	"bytes"
	"fmt"

	"papervault/internal/apperr"
	"papervault/internal/document/model"
)

var signatures = []struct {
	magic []byte
	mime  string
}{
	{[]byte("%PDF"), model.MimePDF},
	{[]byte{0xFF, 0xD8, 0xFF}, model.MimeJPEG},
	{[]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}, model.MimePNG},
	{[]byte{'I', 'I', '*', 0x00}, model.MimeTIFF},
	{[]byte{'M', 'M', 0x00, '*'}, model.MimeTIFF},
}

// DetectMime identifies an upload by its leading bytes.
func DetectMime(head []byte) (string, error) {
	for _, s := range signatures {
		if bytes.HasPrefix(head, s.magic) {
			return s.mime, nil
		}
	}
	return "", fmt.Errorf("%w: only PDF, JPEG, PNG and TIFF files are accepted", apperr.ErrUnsupportedFormat)
}
