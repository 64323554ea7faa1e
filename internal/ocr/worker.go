package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	docmodel "papervault/internal/document/model"
	"papervault/internal/queue"
	"papervault/internal/storage"
	"papervault/pkg/logger"
	"papervault/socket"

	"golang.org/x/sync/errgroup"
)

type DocumentStore interface {
	Get(ctx context.Context, id string) (docmodel.Document, error)
	Version(ctx context.Context, docID string, number int) (docmodel.Version, error)
	SetOCRStatus(ctx context.Context, id, status string) error
	SaveText(ctx context.Context, versionID string, texts []string) error
	Unfinished(ctx context.Context) ([]docmodel.Backlog, error)
}

// Automator files a freshly OCRed document according to the owner's rules.
type Automator interface {
	Apply(ctx context.Context, userID, docID, text string) (bool, error)
}

type Indexer interface {
	IndexNodes(ctx context.Context, ids ...string) error
}

type Worker struct {
	Queue        queue.Queue
	Docs         DocumentStore
	Storage      *storage.Local
	Raster       Rasterizer
	Engine       Engine
	Automates    Automator
	Indexer      Indexer
	Publisher    socket.Publisher
	Concurrency  int
	PageParallel int
	MaxAttempts  int
	DPI          int
	Languages    []string
	DefaultLang  string
}

// Run consumes jobs with Concurrency goroutines until ctx is done or the
// queue is closed. Documents left unfinished by an earlier run are queued
// again once the consumers are up.
func (w *Worker) Run(ctx context.Context) error {
	n := w.Concurrency
	if n < 1 {
		n = 1
	}
	logger.Sugar.Infof("OCR worker started: engine=%s concurrency=%d", w.Engine.Name(), n)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error { return w.loop(ctx, i) })
	}
	g.Go(func() error {
		if _, err := w.Recover(ctx); err != nil && ctx.Err() == nil {
			logger.Sugar.Warnf("Failed to recover unfinished OCR: %v", err)
		}
		return nil
	})
	err := g.Wait()
	logger.Sugar.Info("OCR worker stopped")
	return err
}

// Recover enqueues the latest version of every document still pending or
// started, and returns how many were queued.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	backlog, err := w.Docs.Unfinished(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range backlog {
		if err := w.Docs.SetOCRStatus(ctx, b.DocumentID, docmodel.OCRPending); err != nil {
			logger.Sugar.Warnf("Failed to reset %s: %v", b.DocumentID, err)
		}
		job := queue.NewJob(b.DocumentID, b.Version, b.UserID, b.Lang)
		if err := w.Queue.Enqueue(ctx, job); err != nil {
			return n, fmt.Errorf("enqueue %s: %w", b.DocumentID, err)
		}
		n++
	}
	if n > 0 {
		logger.Sugar.Infof("Recovered %d unfinished OCR jobs", n)
	}
	return n, nil
}

func (w *Worker) loop(ctx context.Context, id int) error {
	for {
		job, err := w.Queue.Dequeue(ctx)
		if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			logger.Sugar.Errorf("Worker %d: failed to dequeue: %v", id, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		w.Handle(ctx, job)
	}
}

// Handle processes one job. Failed jobs are re-enqueued until MaxAttempts.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	logger.Sugar.Infof("OCR of %s v%d started (attempt %d)", job.DocumentID, job.Version, job.Attempts+1)
	if err := w.Docs.SetOCRStatus(ctx, job.DocumentID, docmodel.OCRStarted); err != nil {
		logger.Sugar.Warnf("Failed to mark %s started: %v", job.DocumentID, err)
	}
	w.notify(ctx, socket.OCRStartedType, job, nil)

	pages, err := w.process(ctx, job)
	if err == nil {
		w.notify(ctx, socket.OCRSucceededType, job, map[string]interface{}{"version": job.Version, "pages": pages})
		return nil
	}
	if ctx.Err() != nil {
		w.requeue(job)
		return err
	}

	job.Attempts++
	retry := job.Attempts < w.maxAttempts()
	logger.Sugar.Errorf("OCR of %s v%d failed (attempt %d, retry %t): %v", job.DocumentID, job.Version, job.Attempts, retry, err)

	status := docmodel.OCRFailed
	if retry {
		status = docmodel.OCRPending
		if qerr := w.Queue.Enqueue(ctx, job); qerr != nil {
			logger.Sugar.Errorf("Failed to re-enqueue %s: %v", job.DocumentID, qerr)
			status = docmodel.OCRFailed
			retry = false
		}
	}
	if serr := w.Docs.SetOCRStatus(ctx, job.DocumentID, status); serr != nil {
		logger.Sugar.Warnf("Failed to mark %s %s: %v", job.DocumentID, status, serr)
	}
	w.notify(ctx, socket.OCRFailedType, job, map[string]interface{}{"error": err.Error(), "attempts": job.Attempts, "will_retry": retry})
	return err
}

// requeue hands an interrupted job back to the queue for the next run.
func (w *Worker) requeue(job queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Queue.Enqueue(ctx, job); err != nil {
		logger.Sugar.Warnf("Failed to requeue interrupted OCR of %s: %v", job.DocumentID, err)
	}
	if err := w.Docs.SetOCRStatus(ctx, job.DocumentID, docmodel.OCRPending); err != nil {
		logger.Sugar.Warnf("Failed to reset %s: %v", job.DocumentID, err)
	}
}

func (w *Worker) maxAttempts() int {
	if w.MaxAttempts < 1 {
		return 3
	}
	return w.MaxAttempts
}

func (w *Worker) process(ctx context.Context, job queue.Job) (int, error) {
	doc, err := w.Docs.Get(ctx, job.DocumentID)
	if err != nil {
		return 0, err
	}
	ver, err := w.Docs.Version(ctx, job.DocumentID, job.Version)
	if err != nil {
		return 0, err
	}
	data, err := w.Storage.ReadFile(storage.VersionPath(doc.UserID, doc.ID, ver.Number, ver.FileName))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", ver.FileName, err)
	}

	pages, err := w.Raster.Open(data, ver.MimeType)
	if err != nil {
		return 0, err
	}
	defer pages.Close()

	langs := Languages(job.Lang, w.Languages, w.DefaultLang)
	texts := make([]string, pages.Count())

	g, gctx := errgroup.WithContext(ctx)
	if w.PageParallel > 0 {
		g.SetLimit(w.PageParallel)
	}
	for i := range texts {
		page := i + 1
		g.Go(func() error {
			img, err := pages.Render(page)
			if err != nil {
				return err
			}
			res, err := w.Engine.Recognize(gctx, Input{
				ID:        fmt.Sprintf("%s:%d:%d", doc.ID, ver.Number, page),
				Image:     img,
				Page:      page,
				DPI:       w.DPI,
				Languages: langs,
			})
			if err != nil {
				return err
			}
			texts[i] = res.Text
			return w.Storage.WriteText(storage.PageTextPath(doc.ID, ver.Number, page), res.Text)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := w.Docs.SaveText(ctx, ver.ID, texts); err != nil {
		return 0, err
	}
	if err := w.Docs.SetOCRStatus(ctx, doc.ID, docmodel.OCRSucceeded); err != nil {
		return 0, err
	}
	logger.Sugar.Infof("OCR of %s v%d succeeded: %d pages", doc.ID, ver.Number, len(texts))

	if w.Indexer != nil {
		if err := w.Indexer.IndexNodes(ctx, doc.ID); err != nil {
			logger.Sugar.Warnf("Failed to index %s after OCR: %v", doc.ID, err)
		}
	}
	if w.Automates != nil {
		applied, err := w.Automates.Apply(ctx, doc.UserID, doc.ID, strings.Join(texts, "\n"))
		if err != nil {
			logger.Sugar.Warnf("Failed to run automates on %s: %v", doc.ID, err)
		} else if applied && w.Indexer != nil {
			if err := w.Indexer.IndexNodes(ctx, doc.ID); err != nil {
				logger.Sugar.Warnf("Failed to reindex %s after automate: %v", doc.ID, err)
			}
		}
	}
	return len(texts), nil
}

func (w *Worker) notify(ctx context.Context, event string, job queue.Job, payload interface{}) {
	if w.Publisher == nil {
		return
	}
	if err := w.Publisher.Publish(ctx, socket.NewMessage(event, job.UserID, job.DocumentID, payload)); err != nil {
		logger.Sugar.Warnf("Failed to publish %s for %s: %v", event, job.DocumentID, err)
	}
}
