package worker

// closeout_worker.go
// Processes close-out report jobs from QueueCloseOut.
// Renders the close-out PDF slip and, when a report recipient is configured,
// enqueues an email job with the slip attached.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/infra"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CloseOutJobPayload is the job envelope sent to QueueCloseOut.
type CloseOutJobPayload struct {
	Report infra.CloseOutReport `json:"report"`
}

// CloseOutWorker renders close-out PDF slips after each register close.
type CloseOutWorker struct {
	dispatcher     *Dispatcher
	pdfStoragePath string
	reportEmail    string
}

func NewCloseOutWorker(dispatcher *Dispatcher, pdfStoragePath, reportEmail string) *CloseOutWorker {
	return &CloseOutWorker{
		dispatcher:     dispatcher,
		pdfStoragePath: pdfStoragePath,
		reportEmail:    reportEmail,
	}
}

// Process handles a single close-out job:
//  1. Parse CloseOutJobPayload from the job envelope
//  2. Generate the PDF slip with exponential backoff (max 3 retries)
//  3. Enqueue an email job when a report recipient is configured
//
// Exhausted retries move the job to the dead letter queue.
func (w *CloseOutWorker) Process(ctx context.Context, rdb *redis.Client, raw json.RawMessage) {
	var payload CloseOutJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error().Err(err).Msg("closeout_worker: invalid payload")
		return
	}

	var pdfPath string
	err := withRetry(ctx, 3, func(attempt int) error {
		path, genErr := infra.GenerateCloseOutPDF(payload.Report, w.pdfStoragePath)
		if genErr != nil {
			return genErr
		}
		pdfPath = path
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("closeout_worker: PDF generation failed")
		SendToDLQ(ctx, rdb, QueueCloseOut, "closeout", raw, err.Error(), 3)
		return
	}
	log.Info().Str("path", pdfPath).Msg("closeout_worker: close-out slip generated")

	if w.reportEmail == "" {
		return
	}
	emailPayload := EmailJobPayload{
		ToEmail: w.reportEmail,
		Subject: fmt.Sprintf("Register close-out %s", payload.Report.ClosedAt.Format("2006-01-02 15:04")),
		Body: fmt.Sprintf("Counted cash: %s\nExpected cash: %s\nCash difference: %s\nCard difference: %s\nRisk score: %d",
			payload.Report.CountedCashTotal.StringFixed(2),
			payload.Report.ExpectedCashTotal.StringFixed(2),
			payload.Report.CashDifference.StringFixed(2),
			payload.Report.CardDifference.StringFixed(2),
			payload.Report.RiskScore),
		PDFPath: pdfPath,
	}
	if err := w.dispatcher.EnqueueEmail(ctx, emailPayload); err != nil {
		log.Error().Err(err).Msg("closeout_worker: failed to enqueue email job")
	}
}

// withRetry runs fn up to maxAttempts times with exponential backoff
// (1s, 2s, 4s, ...). Returns the last error if all attempts fail.
func withRetry(ctx context.Context, maxAttempts int, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = fn(attempt); lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		backoff := time.Duration(1<<(attempt-1)) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}
