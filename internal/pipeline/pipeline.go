// Package pipeline drives an uploaded invoice through its status state
// machine: resolve the blob notification to a record, win the
// UPLOADED -> PROCESSING gate, run OCR and structuring with bounded
// retries, and persist the terminal outcome. It is safe to run many
// invocations concurrently; the conditional transition serializes work
// on the same record.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/apperr"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/blob"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/model"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/ocr"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/retry"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/store"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/structuring"
)

// BlobReader is the slice of the blob store the pipeline needs.
type BlobReader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// Settings bound the capability calls. Zero values fall back to the
// default policies: three OCR attempts, two structuring attempts.
type Settings struct {
	OCRRetry         retry.Config
	StructureRetry   retry.Config
	OCRTimeout       time.Duration
	StructureTimeout time.Duration
}

func (s Settings) normalized() Settings {
	if s.OCRRetry.MaxAttempts == 0 {
		s.OCRRetry = retry.Default()
	}
	if s.StructureRetry.MaxAttempts == 0 {
		s.StructureRetry = retry.Costly()
	}
	if s.OCRTimeout <= 0 {
		s.OCRTimeout = 30 * time.Second
	}
	if s.StructureTimeout <= 0 {
		s.StructureTimeout = 60 * time.Second
	}
	return s
}

// Pipeline owns no state of its own; every dependency is injected once at
// construction and the record store stays the single source of truth.
type Pipeline struct {
	store      store.Store
	blobs      BlobReader
	ocr        ocr.Client
	structurer structuring.Client
	settings   Settings
}

// New constructs a Pipeline.
func New(st store.Store, blobs BlobReader, ocrClient ocr.Client, structurer structuring.Client, settings Settings) *Pipeline {
	return &Pipeline{
		store:      st,
		blobs:      blobs,
		ocr:        ocrClient,
		structurer: structurer,
		settings:   settings.normalized(),
	}
}

// HandleNotification is the entry point for one blob-created event.
//
// A nil return means the event is settled: processed to a terminal state,
// recognized as a duplicate, or dropped as unresolvable. A non-nil return
// means infrastructure got in the way before any state was owned, and the
// host may re-deliver.
func (p *Pipeline) HandleNotification(ctx context.Context, objectKey string) error {
	key, err := blob.ParseKey(objectKey)
	if err != nil {
		log.Printf("dropping notification: %v", err)
		return nil
	}

	rec, err := p.store.Get(ctx, key.RecordID, key.OwnerID)
	if apperr.IsNotFound(err) {
		// A blob without a prior UPLOADED record is a write-then-create;
		// never fabricate a record for it.
		log.Printf("dropping notification for %s: no matching record", objectKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve record %s: %w", key.RecordID, err)
	}
	if rec.Status != model.StatusUploaded {
		log.Printf("record %s already %s, skipping", rec.ID, rec.Status)
		return nil
	}

	if err := p.store.MarkProcessing(ctx, rec.ID, rec.OwnerID, time.Now().UTC()); err != nil {
		if apperr.IsConflict(err) || apperr.IsNotFound(err) {
			// Lost the delivery race; the winner owns the record.
			return nil
		}
		return fmt.Errorf("mark processing %s: %w", rec.ID, err)
	}

	return p.process(ctx, rec)
}

// process runs one attempt for a record this invocation just moved to
// PROCESSING. From here every failure, panics included, lands on the
// record as FAILED rather than leaking a stuck PROCESSING row.
func (p *Pipeline) process(ctx context.Context, rec *model.InvoiceRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic processing %s: %v", rec.ID, r)
			p.fail(ctx, rec, fmt.Errorf("internal error: %v", r))
			err = fmt.Errorf("panic processing %s: %v", rec.ID, r)
		}
	}()

	var data []byte
	err = retry.Do(ctx, p.settings.OCRRetry, func() error {
		var derr error
		data, derr = p.blobs.Download(ctx, rec.BlobKey)
		return derr
	})
	if err != nil {
		p.fail(ctx, rec, fmt.Errorf("download %s: %w", rec.BlobKey, err))
		return nil
	}

	var blocks []ocr.Block
	err = retry.Do(ctx, p.settings.OCRRetry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.settings.OCRTimeout)
		defer cancel()
		var oerr error
		blocks, oerr = p.ocr.Recognize(callCtx, data, rec.MimeType)
		return oerr
	})
	if err != nil {
		p.fail(ctx, rec, fmt.Errorf("ocr: %w", err))
		return nil
	}

	corpus, overall := Reduce(blocks)

	var extracted *model.ExtractedData
	err = retry.Do(ctx, p.settings.StructureRetry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.settings.StructureTimeout)
		defer cancel()
		var serr error
		extracted, serr = p.structurer.Structure(callCtx, corpus)
		return serr
	})
	if err != nil {
		p.fail(ctx, rec, fmt.Errorf("structuring: %w", err))
		return nil
	}
	if extracted == nil {
		extracted = &model.ExtractedData{}
	}
	extracted.Confidence.Overall = overall

	if err := p.store.MarkCompleted(ctx, rec.ID, rec.OwnerID, extracted, time.Now().UTC()); err != nil {
		if apperr.IsConflict(err) {
			log.Printf("record %s concluded elsewhere, discarding result", rec.ID)
			return nil
		}
		return fmt.Errorf("mark completed %s: %w", rec.ID, err)
	}
	log.Printf("record %s completed (%d blocks, confidence %.2f)", rec.ID, len(blocks), overall)
	return nil
}

// fail records a terminal failure. Best effort: losing this write too is
// logged and left for the reconciliation sweep.
func (p *Pipeline) fail(ctx context.Context, rec *model.InvoiceRecord, cause error) {
	log.Printf("record %s failed: %v", rec.ID, cause)
	if err := p.store.MarkFailed(ctx, rec.ID, rec.OwnerID, cause.Error()); err != nil && !apperr.IsConflict(err) {
		log.Printf("mark failed %s: %v", rec.ID, err)
	}
}

// Reduce flattens OCR output into a plain-text corpus (line blocks in
// document order) and the arithmetic mean of per-block confidence, 0 when
// no block carries one.
func Reduce(blocks []ocr.Block) (string, float64) {
	var lines []string
	var sum float64
	var scored int
	for _, b := range blocks {
		if b.Type == ocr.BlockTypeLine && b.Text != "" {
			lines = append(lines, b.Text)
		}
		if b.Confidence != nil {
			sum += *b.Confidence
			scored++
		}
	}
	overall := 0.0
	if scored > 0 {
		overall = sum / float64(scored)
	}
	return strings.Join(lines, "\n"), overall
}

// ReconcileStale marks PROCESSING records whose attempt started before
// the staleness threshold as FAILED. It backs the periodic sweep that
// keeps an interrupted invocation from leaking a PROCESSING record
// forever.
func (p *Pipeline) ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := p.store.ListByStatus(ctx, model.StatusProcessing, limit)
	if err != nil {
		return 0, fmt.Errorf("list processing records: %w", err)
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	reaped := 0
	for i := range stale {
		rec := &stale[i]
		started := rec.UpdatedAt
		if rec.ProcessingStartedAt != nil {
			started = *rec.ProcessingStartedAt
		}
		if !started.Before(cutoff) {
			continue
		}
		err := p.store.MarkFailed(ctx, rec.ID, rec.OwnerID, fmt.Sprintf("processing stalled since %s", started.Format(time.RFC3339)))
		if err != nil {
			if apperr.IsConflict(err) || apperr.IsNotFound(err) {
				continue
			}
			return reaped, fmt.Errorf("reap %s: %w", rec.ID, err)
		}
		log.Printf("reaped stale record %s (started %s)", rec.ID, started.Format(time.RFC3339))
		reaped++
	}
	return reaped, nil
}
