package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"

	docmodel "papervault/internal/document/model"
	"papervault/internal/queue"
	"papervault/internal/storage"
	"papervault/socket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDocs struct {
	mu       sync.Mutex
	statuses []string
	texts    map[string][]string
	backlog  []docmodel.Backlog
}

func (m *memDocs) Get(ctx context.Context, id string) (docmodel.Document, error) {
	return docmodel.Document{ID: id, UserID: "u1", Title: "scan.pdf"}, nil
}

func (m *memDocs) Version(ctx context.Context, docID string, number int) (docmodel.Version, error) {
	return docmodel.Version{ID: "v1", DocumentID: docID, Number: number, FileName: "scan.pdf", MimeType: "application/pdf"}, nil
}

func (m *memDocs) SetOCRStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *memDocs) SaveText(ctx context.Context, versionID string, texts []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.texts == nil {
		m.texts = map[string][]string{}
	}
	m.texts[versionID] = texts
	return nil
}

func (m *memDocs) Unfinished(ctx context.Context) ([]docmodel.Backlog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backlog, nil
}

type fakePages int

func (p fakePages) Count() int                   { return int(p) }
func (p fakePages) Render(n int) ([]byte, error) { return []byte(fmt.Sprintf("page-%d", n)), nil }
func (p fakePages) Close() error                 { return nil }

type fakeRaster int

func (r fakeRaster) Open(data []byte, mime string) (Pages, error) { return fakePages(r), nil }

// echoEngine returns the image bytes as text, upper-cased.
type echoEngine struct {
	fail  error
	langs []string
	mu    sync.Mutex
}

func (e *echoEngine) Name() string { return "echo" }

func (e *echoEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	if e.fail != nil {
		return Result{}, e.fail
	}
	e.mu.Lock()
	e.langs = in.Languages
	e.mu.Unlock()
	return Result{InputID: in.ID, Text: strings.ToUpper(string(in.Image))}, nil
}

type spy struct {
	mu      sync.Mutex
	indexed []string
	events  []string
	applied string
}

func (s *spy) IndexNodes(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = append(s.indexed, ids...)
	return nil
}

func (s *spy) Publish(ctx context.Context, msg socket.WSMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, msg.Type)
	return nil
}

func (s *spy) Apply(ctx context.Context, userID, docID, text string) (bool, error) {
	s.applied = text
	return true, nil
}

func newWorker(t *testing.T, engine Engine) (*Worker, *memDocs, *spy, *queue.MemoryQueue) {
	store := storage.New(t.TempDir())
	_, err := store.Save(storage.VersionPath("u1", "d1", 1, "scan.pdf"), strings.NewReader("%PDF"))
	require.NoError(t, err)
	docs := &memDocs{}
	s := &spy{}
	q := queue.NewMemoryQueue(8)
	w := &Worker{
		Queue:        q,
		Docs:         docs,
		Storage:      store,
		Raster:       fakeRaster(3),
		Engine:       engine,
		Automates:    s,
		Indexer:      s,
		Publisher:    s,
		PageParallel: 2,
		MaxAttempts:  2,
		Languages:    []string{"eng", "deu"},
		DefaultLang:  "eng",
	}
	return w, docs, s, q
}

func TestHandleStoresTextIndexesAndAutomates(t *testing.T) {
	engine := &echoEngine{}
	w, docs, s, _ := newWorker(t, engine)

	err := w.Handle(context.Background(), queue.NewJob("d1", 1, "u1", "DEU"))
	require.NoError(t, err)

	assert.Equal(t, []string{docmodel.OCRStarted, docmodel.OCRSucceeded}, docs.statuses)
	assert.Equal(t, []string{"PAGE-1", "PAGE-2", "PAGE-3"}, docs.texts["v1"])
	text, err := w.Storage.ReadText(storage.PageTextPath("d1", 1, 2))
	require.NoError(t, err)
	assert.Equal(t, "PAGE-2", text)
	assert.Equal(t, []string{"deu"}, engine.langs)
	assert.Equal(t, "PAGE-1\nPAGE-2\nPAGE-3", s.applied)
	assert.Equal(t, []string{"d1", "d1"}, s.indexed)
	assert.Equal(t, []string{socket.OCRStartedType, socket.OCRSucceededType}, s.events)
}

func TestHandleRetriesThenFails(t *testing.T) {
	w, docs, s, q := newWorker(t, &echoEngine{fail: errors.New("tesseract crashed")})

	require.Error(t, w.Handle(context.Background(), queue.NewJob("d1", 1, "u1", "eng")))
	assert.Equal(t, docmodel.OCRPending, docs.statuses[len(docs.statuses)-1])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)

	require.Error(t, w.Handle(context.Background(), job))
	assert.Equal(t, docmodel.OCRFailed, docs.statuses[len(docs.statuses)-1])
	assert.Equal(t, []string{
		socket.OCRStartedType, socket.OCRFailedType,
		socket.OCRStartedType, socket.OCRFailedType,
	}, s.events)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = q.Dequeue(ctx2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunStopsOnCancel(t *testing.T) {
	w, docs, _, q := newWorker(t, &echoEngine{})
	w.Concurrency = 2
	require.NoError(t, q.Enqueue(context.Background(), queue.NewJob("d1", 1, "u1", "eng")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		docs.mu.Lock()
		defer docs.mu.Unlock()
		return len(docs.texts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRecoverQueuesUnfinished(t *testing.T) {
	w, docs, _, q := newWorker(t, &echoEngine{})
	docs.backlog = []docmodel.Backlog{
		{DocumentID: "d1", Version: 2, UserID: "u1", Lang: "deu"},
		{DocumentID: "d2", Version: 1, UserID: "u2", Lang: "eng"},
	}

	n, err := w.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{docmodel.OCRPending, docmodel.OCRPending}, docs.statuses)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d1", first.DocumentID)
	assert.Equal(t, 2, first.Version)
	assert.Equal(t, "deu", first.Lang)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d2", second.DocumentID)
}

func TestRunProcessesBacklogFromEarlierRun(t *testing.T) {
	w, docs, _, _ := newWorker(t, &echoEngine{})
	docs.backlog = []docmodel.Backlog{{DocumentID: "d1", Version: 1, UserID: "u1", Lang: "eng"}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		docs.mu.Lock()
		defer docs.mu.Unlock()
		return len(docs.texts["v1"]) == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestLanguages(t *testing.T) {
	assert.Equal(t, []string{"deu"}, Languages("DEU", []string{"eng", "deu"}, "eng"))
	assert.Equal(t, []string{"eng"}, Languages("fra", []string{"eng", "deu"}, "eng"))
	assert.Nil(t, Languages("fra", nil, ""))
}

func TestNormalizeImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, img, nil))

	out, err := NormalizeImage(jpg.Bytes())
	require.NoError(t, err)
	_, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	pages, err := NewFitzRasterizer(0).Open(jpg.Bytes(), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, 1, pages.Count())
	_, err = pages.Render(2)
	assert.Error(t, err)

	_, err = NormalizeImage([]byte("not an image"))
	assert.Error(t, err)
}
