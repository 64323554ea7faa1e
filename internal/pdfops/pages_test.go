package pdfops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageRecycleMap(t *testing.T) {
	cases := []struct {
		total   int
		deleted []int
		want    []PageMapItem
	}{
		{6, []int{1, 2}, []PageMapItem{{1, 3}, {2, 4}, {3, 5}, {4, 6}}},
		{5, []int{1, 5}, []PageMapItem{{1, 2}, {2, 3}, {3, 4}}},
		{5, []int{2, 3}, []PageMapItem{{1, 1}, {2, 4}, {3, 5}}},
		{2, []int{1, 2}, []PageMapItem{}},
	}
	for _, c := range cases {
		got, err := PageRecycleMap(c.total, c.deleted)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "total=%d deleted=%v", c.total, c.deleted)
	}

	_, err := PageRecycleMap(1, []int{1, 2})
	assert.Error(t, err)
}

func TestReorderedList(t *testing.T) {
	full := []PageMove{{OldNumber: 1, NewNumber: 3}, {OldNumber: 2, NewNumber: 2}, {OldNumber: 3, NewNumber: 1}}
	assert.Equal(t, []int{3, 2, 1}, ReorderedList(full, 3))

	partial := []PageMove{{OldNumber: 1, NewNumber: 3}, {OldNumber: 3, NewNumber: 1}}
	assert.Equal(t, []int{3, 2, 1}, ReorderedList(partial, 3))

	swap := []PageMove{{OldNumber: 3, NewNumber: 4}, {OldNumber: 4, NewNumber: 3}}
	assert.Equal(t, []int{1, 2, 4, 3}, ReorderedList(swap, 4))

	assert.NoError(t, ValidateOrder([]int{1, 2, 4, 3}))
	assert.Error(t, ValidateOrder([]int{1, 1, 3}))
}

func TestAnnotatePageData(t *testing.T) {
	pages := []PageRef{{ID: "1", Number: 1}, {ID: "2", Number: 2}, {ID: "3", Number: 3}}
	data := []map[string]interface{}{
		{"id": "1", "angle": 180},
		{"id": "2", "angle": 270},
		{"id": "3", "angle": 90},
	}
	got := AnnotatePageData(pages, data, "angle")
	assert.Equal(t, []map[string]interface{}{
		{"number": 1, "angle": 180},
		{"number": 2, "angle": 270},
		{"number": 3, "angle": 90},
	}, got)

	got = AnnotatePageData(pages[:1], data[:1], "")
	assert.Equal(t, []map[string]interface{}{{"number": 1, "angle": 180}}, got)
}

func TestNormalizeAngle(t *testing.T) {
	for in, want := range map[int]int{90: 90, -90: 270, 360: 0, 450: 90, 180: 180} {
		got, err := NormalizeAngle(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "angle %d", in)
	}
	_, err := NormalizeAngle(45)
	assert.Error(t, err)
}
