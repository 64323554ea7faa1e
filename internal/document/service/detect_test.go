package service

import (
	"testing"

	"papervault/internal/apperr"
	"papervault/internal/document/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMime(t *testing.T) {
	cases := map[string]string{
		"%PDF-1.7\n":                model.MimePDF,
		"\xFF\xD8\xFF\xE0JFIF":      model.MimeJPEG,
		"\x89PNG\r\n\x1a\n\x00\x00": model.MimePNG,
		"II*\x00\x08\x00":           model.MimeTIFF,
		"MM\x00*\x00\x00":           model.MimeTIFF,
	}
	for head, want := range cases {
		got, err := DetectMime([]byte(head))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	for _, head := range []string{"", "GIF89a", "PK\x03\x04", "hello"} {
		_, err := DetectMime([]byte(head))
		assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat, "head %q", head)
	}
}
