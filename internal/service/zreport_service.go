package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/beyproweb/beypro-pos-sub005/internal/dto"
	"github.com/beyproweb/beypro-pos-sub005/internal/infra"
	"github.com/beyproweb/beypro-pos-sub005/internal/model"
	"github.com/beyproweb/beypro-pos-sub005/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ReceiptParser is the OCR collaborator surface the Z-report engine consumes.
type ReceiptParser interface {
	Parse(ctx context.Context, files []infra.UploadFile, openTime string) (*dto.ParseResponse, error)
}

// ZReportService accumulates uploaded terminal Z-report slips across one
// register session: per-receipt details, the aggregate detected totals, and
// the operator-editable override fields. All state is session-scoped and
// discarded on Reset.
type ZReportService struct {
	parser     ReceiptParser
	receipts   repository.TerminalReceiptRepository
	previewDir string

	mu    sync.Mutex
	state dto.ZReportState

	// previewMu guards the preview artifact set on its own so cleanup paths
	// can run with or without the state lock held.
	previewMu sync.Mutex
	previews  map[string]bool
}

func NewZReportService(parser ReceiptParser, receipts repository.TerminalReceiptRepository, previewDir string) *ZReportService {
	return &ZReportService{
		parser:     parser,
		receipts:   receipts,
		previewDir: previewDir,
		previews:   map[string]bool{},
	}
}

// Upload parses a batch of slips and merges the results into the accumulated
// state. group is "table" or "delivery". The whole batch fails atomically: on
// parse failure no detail is added and any preview written for the batch is
// removed.
func (s *ZReportService) Upload(ctx context.Context, files []infra.UploadFile, group, openTime string) (*dto.ZReportState, error) {
	if group != "table" && group != "delivery" {
		group = "table"
	}

	// Previews are written before the parse call so image bytes are not held
	// in memory for the OCR round-trip duration.
	batchPreviews := make([]string, len(files))
	for i, f := range files {
		if !f.IsImage() {
			continue
		}
		path, err := s.writePreview(f)
		if err != nil {
			log.Warn().Err(err).Str("file", f.FileName).Msg("zreport: preview write failed")
			continue
		}
		batchPreviews[i] = path
	}

	resp, err := s.parser.Parse(ctx, files, openTime)
	if err != nil {
		for _, p := range batchPreviews {
			s.removePreview(p)
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hadExisting := len(s.state.Details) > 0
	nextID := s.maxIDLocked() + 1

	for i, rep := range resp.Reports {
		detail := dto.TerminalReceiptDetail{
			ID:           nextID,
			FileName:     rep.FileName,
			ReportURL:    rep.ReportURL,
			ReceiptGroup: group,
			Extracted:    rep.Extracted,
			Confidence:   rep.Confidence,
		}
		if i < len(batchPreviews) {
			detail.PreviewPath = batchPreviews[i]
		}
		if bank, ok := rep.Raw["bank_name"].(string); ok {
			detail.BankName = bank
		}
		s.state.Details = append(s.state.Details, detail)
		nextID++

		s.persistAudit(detail, openTime)
	}
	s.state.ReportURLs = append(s.state.ReportURLs, resp.ReportURLs...)
	if len(s.state.ReportURLs) > 0 {
		s.state.ReportURL = s.state.ReportURLs[0]
	}

	s.recomputeLocked()

	// The toggle auto-enables only on the first upload into an empty session,
	// and only when the batch as a whole parsed with high confidence. The
	// detected aggregate feeds the override fields after every merge.
	if !hadExisting && resp.Confidence != nil && resp.Confidence.Overall == "high" {
		s.state.UseDetectedValues = true
	}
	s.applyDetectedLocked()

	out := s.snapshotLocked()
	return &out, nil
}

// DeleteReceipt removes one accumulated slip and recomputes the aggregate.
// Deleting the last slip blanks the detected totals, clears the use-detected
// toggle and empties every override field; a delete that leaves slips behind
// re-applies the recomputed aggregate to the override fields.
func (s *ZReportService) DeleteReceipt(id int) (*dto.ZReportState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, d := range s.state.Details {
		if d.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("terminal receipt %d not found", id)
	}

	removed := s.state.Details[idx]
	s.state.Details = append(s.state.Details[:idx], s.state.Details[idx+1:]...)
	if removed.PreviewPath != "" {
		s.removePreview(removed.PreviewPath)
	}
	if removed.ReportURL != "" {
		urls := s.state.ReportURLs[:0]
		skipped := false
		for _, u := range s.state.ReportURLs {
			if !skipped && u == removed.ReportURL {
				skipped = true
				continue
			}
			urls = append(urls, u)
		}
		s.state.ReportURLs = urls
		s.state.ReportURL = ""
		if len(urls) > 0 {
			s.state.ReportURL = urls[0]
		}
	}

	s.recomputeLocked()
	if len(s.state.Details) == 0 {
		s.state.UseDetectedValues = false
		s.state.Overrides = dto.TerminalOverrides{}
	} else {
		s.applyDetectedLocked()
	}

	out := s.snapshotLocked()
	return &out, nil
}

// SetUseDetected toggles the detected-values mode. Enabling copies the
// aggregate detected totals into the override fields; disabling leaves the
// override fields as they are, so manual edits survive a round-trip.
func (s *ZReportService) SetUseDetected(enabled bool) dto.ZReportState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.UseDetectedValues = enabled
	if enabled {
		s.applyDetectedLocked()
	}
	return s.snapshotLocked()
}

// SetOverride updates one editable field by name. Unknown fields are ignored.
func (s *ZReportService) SetOverride(field, value string) dto.ZReportState {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch field {
	case "card_total":
		s.state.Overrides.CardTotal = value
	case "tx_count":
		s.state.Overrides.TxCount = value
	case "refund_total":
		s.state.Overrides.RefundTotal = value
	case "cash_total":
		s.state.Overrides.CashTotal = value
	case "grand_total":
		s.state.Overrides.GrandTotal = value
	}
	return s.snapshotLocked()
}

// State returns a copy of the accumulated engine state.
func (s *ZReportService) State() dto.ZReportState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SplitCardDiff reconciles card totals per channel: slips uploaded into the
// table group diff against the POS table channel, delivery-group slips
// against delivery plus phone, takeaway and unattributed orders.
func (s *ZReportService) SplitCardDiff(snapshot *dto.ReconciliationSnapshot) *dto.SplitCardDiff {
	if snapshot == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tableDetected := decimal.Zero
	deliveryDetected := decimal.Zero
	seen := false
	for _, d := range s.state.Details {
		if d.Extracted.CardTotal == nil {
			continue
		}
		seen = true
		if d.ReceiptGroup == "delivery" {
			deliveryDetected = deliveryDetected.Add(*d.Extracted.CardTotal)
		} else {
			tableDetected = tableDetected.Add(*d.Extracted.CardTotal)
		}
	}
	if !seen {
		return nil
	}

	byType := snapshot.CardByOrderType
	deliveryPOS := byType.Delivery.Total.
		Add(byType.Phone.Total).
		Add(byType.Takeaway.Total).
		Add(byType.Unknown.Total)

	return &dto.SplitCardDiff{
		Table:    tableDetected.Sub(byType.Table.Total),
		Delivery: deliveryDetected.Sub(deliveryPOS),
	}
}

// SessionAudit lists the persisted slip audit rows for one session window.
// Unlike the accumulated state, the audit survives a close and a restart.
func (s *ZReportService) SessionAudit(ctx context.Context, openAt string) ([]model.TerminalReceipt, error) {
	if s.receipts == nil {
		return nil, nil
	}
	return s.receipts.ListBySession(ctx, openAt)
}

// Reset discards all accumulated state and removes every remaining preview
// artifact. Called after a successful close and on shutdown.
func (s *ZReportService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.state.Details {
		if d.PreviewPath != "" {
			s.removePreview(d.PreviewPath)
		}
	}
	s.state = dto.ZReportState{}
}

// ─── internals ───────────────────────────────────────────────────────────────

func (s *ZReportService) maxIDLocked() int {
	max := 0
	for _, d := range s.state.Details {
		if d.ID > max {
			max = d.ID
		}
	}
	return max
}

// recomputeLocked rebuilds the aggregate detected totals and confidence from
// the full accumulated list, never incrementally from the last batch.
func (s *ZReportService) recomputeLocked() {
	details := s.state.Details
	s.state.TableReceipts = 0
	s.state.DeliveryReceipts = 0
	for _, d := range details {
		if d.ReceiptGroup == "delivery" {
			s.state.DeliveryReceipts++
		} else {
			s.state.TableReceipts++
		}
	}

	if len(details) == 0 {
		s.state.Detected = nil
		s.state.Confidence = nil
		return
	}

	var (
		card, cash, grand, refund decimal.Decimal
		txCount                   int
		seenCard, seenCash        bool
		seenGrand, seenTx         bool
		seenRefund                bool

		cardConfSum, txConfSum float64
		cardConfN, txConfN     int
		highs, mediums         int
	)
	for _, d := range details {
		e := d.Extracted
		if e.CardTotal != nil {
			card = card.Add(*e.CardTotal)
			seenCard = true
		}
		if e.CashTotal != nil {
			cash = cash.Add(*e.CashTotal)
			seenCash = true
		}
		if e.GrandTotal != nil {
			grand = grand.Add(*e.GrandTotal)
			seenGrand = true
		}
		if e.TxCount != nil {
			txCount += *e.TxCount
			seenTx = true
		}
		if e.RefundTotal != nil {
			refund = refund.Add(*e.RefundTotal)
			seenRefund = true
		}
		if d.Confidence.CardTotal > 0 {
			cardConfSum += d.Confidence.CardTotal
			cardConfN++
		}
		if d.Confidence.TxCount > 0 {
			txConfSum += d.Confidence.TxCount
			txConfN++
		}
		switch d.Confidence.Overall {
		case "high":
			highs++
		case "medium":
			mediums++
		}
	}

	detected := &dto.ExtractedTotals{Currency: "TRY"}
	if seenCard {
		detected.CardTotal = &card
	}
	if seenCash {
		detected.CashTotal = &cash
	}
	if seenGrand {
		detected.GrandTotal = &grand
	}
	if seenTx {
		detected.TxCount = &txCount
	}
	if seenRefund {
		detected.RefundTotal = &refund
	}
	s.state.Detected = detected

	conf := &dto.ParseConfidence{Overall: "low"}
	if highs == len(details) {
		conf.Overall = "high"
	} else if highs > 0 || mediums > 0 {
		conf.Overall = "medium"
	}
	if cardConfN > 0 {
		conf.CardTotal = cardConfSum / float64(cardConfN)
	}
	if txConfN > 0 {
		conf.TxCount = txConfSum / float64(txConfN)
	}
	s.state.Confidence = conf
}

func (s *ZReportService) applyDetectedLocked() {
	d := s.state.Detected
	if d == nil {
		return
	}
	if d.CardTotal != nil {
		s.state.Overrides.CardTotal = d.CardTotal.StringFixed(2)
	}
	if d.TxCount != nil {
		s.state.Overrides.TxCount = strconv.Itoa(*d.TxCount)
	}
	if d.RefundTotal != nil {
		s.state.Overrides.RefundTotal = d.RefundTotal.StringFixed(2)
	}
	if d.CashTotal != nil {
		s.state.Overrides.CashTotal = d.CashTotal.StringFixed(2)
	}
	if d.GrandTotal != nil {
		s.state.Overrides.GrandTotal = d.GrandTotal.StringFixed(2)
	}
}

func (s *ZReportService) snapshotLocked() dto.ZReportState {
	out := s.state
	out.Details = append([]dto.TerminalReceiptDetail(nil), s.state.Details...)
	out.ReportURLs = append([]string(nil), s.state.ReportURLs...)
	return out
}

func (s *ZReportService) writePreview(f infra.UploadFile) (string, error) {
	if err := os.MkdirAll(s.previewDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("preview_%s%s", uuid.NewString(), sanitizeExt(f.FileName))
	path := filepath.Join(s.previewDir, name)
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return "", err
	}
	s.previewMu.Lock()
	s.previews[path] = true
	s.previewMu.Unlock()
	return path, nil
}

// removePreview deletes a preview artifact at most once, no matter how many
// cleanup paths reach it.
func (s *ZReportService) removePreview(path string) {
	if path == "" {
		return
	}
	s.previewMu.Lock()
	tracked := s.previews[path]
	delete(s.previews, path)
	s.previewMu.Unlock()
	if !tracked {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("zreport: preview remove failed")
	}
}

func (s *ZReportService) persistAudit(detail dto.TerminalReceiptDetail, openTime string) {
	if s.receipts == nil {
		return
	}
	row := &model.TerminalReceipt{
		FileName:          detail.FileName,
		ReportURL:         detail.ReportURL,
		ReceiptGroup:      detail.ReceiptGroup,
		CardTotal:         detail.Extracted.CardTotal,
		CashTotal:         detail.Extracted.CashTotal,
		GrandTotal:        detail.Extracted.GrandTotal,
		TxCount:           detail.Extracted.TxCount,
		RefundTotal:       detail.Extracted.RefundTotal,
		ConfidenceOverall: detail.Confidence.Overall,
		BankName:          detail.BankName,
		SessionOpenAt:     openTime,
	}
	if err := s.receipts.Create(context.Background(), row); err != nil {
		log.Warn().Err(err).Str("file", detail.FileName).Msg("zreport: audit row not persisted")
	}
}

func sanitizeExt(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif", ".pdf":
		return ext
	}
	return ""
}
