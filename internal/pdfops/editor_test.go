package pdfops

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// samplePDF writes a PDF with n blank pages and a valid xref table.
func samplePDF(n int) []byte {
	var objs []string
	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /Resources << >> /MediaBox [0 0 200 200] >>", kids, n))
	for i := 0; i < n; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestEditorPageEdits(t *testing.T) {
	e := NewPDFCPU()
	src := samplePDF(3)

	n, err := e.PageCount(src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	out, err := e.RemovePages(src, []int{2})
	require.NoError(t, err)
	n, err = e.PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = e.RemovePages(src, []int{1, 2, 3})
	assert.Error(t, err)
	_, err = e.RemovePages(src, []int{4})
	assert.Error(t, err)

	out, err = e.Select(src, []int{3, 1})
	require.NoError(t, err)
	n, err = e.PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out, err = e.Rotate(src, map[int]int{1: 90, 2: -90})
	require.NoError(t, err)
	n, err = e.PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = e.Rotate(src, map[int]int{1: 45})
	assert.Error(t, err)
}

func TestEditorInsert(t *testing.T) {
	e := NewPDFCPU()
	dst := samplePDF(2)
	src := samplePDF(3)

	out, err := e.Insert(dst, src, []int{1, 3}, 1)
	require.NoError(t, err)
	n, err := e.PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	out, err = e.Insert(nil, src, []int{2}, 0)
	require.NoError(t, err)
	n, err = e.PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.Insert(dst, src, []int{1}, 5)
	assert.Error(t, err)
}
