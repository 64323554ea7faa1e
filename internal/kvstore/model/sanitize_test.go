package model

import (
	"encoding/json"
	"testing"

	"papervault/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestSanitizeDropsUnknownKeysAndEscapes(t *testing.T) {
	input := decode(t, `[{"key": "shop", "value": "<script>alert('x')</script>", "kv_inherited": true, "evil": "drop me"}]`)

	out, err := Sanitize(input)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, "shop", out[0]["key"])
	assert.Equal(t, "&lt;script&gt;alert(&#x27;x&#x27;)&lt;/script&gt;", out[0]["value"])
	assert.Equal(t, true, out[0]["kv_inherited"])
	_, ok := out[0]["evil"]
	assert.False(t, ok)
}

func TestSanitizeStringifiesNumbers(t *testing.T) {
	out, err := Sanitize(decode(t, `[{"key": "total", "value": 12.5}]`))
	require.NoError(t, err)
	assert.Equal(t, "12.5", out[0]["value"])
}

func TestSanitizeRejectsNonList(t *testing.T) {
	_, err := Sanitize(decode(t, `{"key": "x"}`))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = Sanitize(decode(t, `["x"]`))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestToItems(t *testing.T) {
	out, err := Sanitize(decode(t, `[{"key": "date", "value": "2021-01-01", "kv_type": "date", "kv_format": "yyyy-mm-dd"}, {"key": "note"}]`))
	require.NoError(t, err)

	items, err := ToItems(out)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, TypeDate, items[0].KVType)
	assert.Equal(t, "yyyy-mm-dd", items[0].KVFormat)
	assert.Equal(t, TypeText, items[1].KVType)
}

func TestToItemsValidates(t *testing.T) {
	for _, raw := range []string{
		`[{"value": "no key"}]`,
		`[{"key": "a", "kv_type": "colour"}]`,
		`[{"key": "a"}, {"key": "a"}]`,
	} {
		out, err := Sanitize(decode(t, raw))
		require.NoError(t, err)
		_, err = ToItems(out)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, raw)
	}
}
