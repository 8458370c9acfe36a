// Package batch vectorizes recently uploaded documents in bulk.
//
// Failures are isolated per document: one bad file never stops the run, it
// only shows up in the report's failed count. The caller reads the Report to
// decide whether a retry pass is needed; retries are safe because ingestion
// is idempotent and already-vectorized files are skipped.
package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nutrikb/nutrikb/internal/index"
	"github.com/nutrikb/nutrikb/internal/ingest"
	"github.com/nutrikb/nutrikb/internal/log"
)

// Lister is the slice of the file index the coordinator reads.
type Lister interface {
	GetUploadedWithin(days int) ([]index.FileRecord, error)
}

// Ingester processes one document. Satisfied by ingest.Pipeline.
type Ingester interface {
	Ingest(ctx context.Context, source string, opts ...ingest.Option) error
}

// Report summarizes one batch run.
type Report struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Coordinator runs batch vectorization over the file index.
type Coordinator struct {
	lister   Lister
	ingester Ingester
	workers  int
	logger   log.Logger
}

// New creates a Coordinator with the given worker pool size.
func New(lister Lister, ingester Ingester, workers int, logger log.Logger) *Coordinator {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Coordinator{lister: lister, ingester: ingester, workers: workers, logger: logger}
}

// ProcessRecent vectorizes every unvectorized document uploaded within the
// last days days. Already-vectorized documents count as skipped. A document
// whose ingestion fails (or panics) counts as failed; the run continues.
// If the index itself cannot be read, the error is logged and a zero Report
// is returned.
func (c *Coordinator) ProcessRecent(ctx context.Context, days int, opts ...ingest.Option) Report {
	runID := uuid.NewString()
	logger := c.logger.With("batch_run", runID, "days", days)

	records, err := c.lister.GetUploadedWithin(days)
	if err != nil {
		logger.Error("failed to list recent uploads", "error", err)
		return Report{}
	}

	var pending []index.FileRecord
	var skipped int
	for _, rec := range records {
		if rec.Vectorized {
			skipped++
			continue
		}
		pending = append(pending, rec)
	}

	logger.Info("batch run starting",
		"total", len(records), "pending", len(pending), "skipped", skipped)

	var processed, failed atomic.Int64
	jobs := make(chan index.FileRecord)
	var wg sync.WaitGroup
	for range c.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				if err := c.processOne(ctx, rec, opts); err != nil {
					failed.Add(1)
					logger.Error("document failed", "filename", rec.Filename, "error", err)
					continue
				}
				processed.Add(1)
				logger.Info("document vectorized", "filename", rec.Filename)
			}
		}()
	}

	for _, rec := range pending {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()

	report := Report{
		Total:     len(records),
		Processed: int(processed.Load()),
		Failed:    int(failed.Load()),
		Skipped:   skipped,
	}
	logger.Info("batch run finished",
		"total", report.Total, "processed", report.Processed,
		"failed", report.Failed, "skipped", report.Skipped)
	return report
}

// processOne ingests one record, converting a panic into an error so a
// misbehaving document cannot take down the worker pool.
func (c *Coordinator) processOne(ctx context.Context, rec index.FileRecord, opts []ingest.Option) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing %q: %v", rec.Filename, r)
		}
	}()
	source := rec.StorageKey
	if source == "" {
		source = rec.Filename
	}
	return c.ingester.Ingest(ctx, source, opts...)
}
