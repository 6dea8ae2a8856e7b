package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/dto"
	"github.com/beyproweb/beypro-pos-sub005/internal/infra"
	"github.com/beyproweb/beypro-pos-sub005/internal/model"
	"github.com/beyproweb/beypro-pos-sub005/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ConfirmationRequiredError rejects a close whose discrepancy crosses the
// materiality thresholds and was not explicitly confirmed.
type ConfirmationRequiredError struct {
	CashDifference decimal.Decimal
	CardDifference decimal.Decimal
	RiskScore      int
}

func (e *ConfirmationRequiredError) Error() string {
	return "discrepancy confirmation required"
}

// OpenOrdersError carries the recovery context for a close the POS backend
// rejected because orders are still open: a human label for the first
// blocking order and the tab the operator should be routed to.
type OpenOrdersError struct {
	Message string
	Label   string
	TabHint string
}

func (e *OpenOrdersError) Error() string { return e.Message }

// RegisterAPI is the register log slice of the POS backend.
type RegisterAPI interface {
	PostLogEvent(ctx context.Context, req dto.LogEventRequest) (*dto.LogEventResponse, error)
	FetchLastCloses(ctx context.Context, limit int) ([]dto.LastCloseRow, error)
	FetchOrders(ctx context.Context) ([]dto.Order, error)
}

// CloseOutEnqueuer hands the post-close report job to the background worker
// pool.
type CloseOutEnqueuer interface {
	EnqueueCloseOut(ctx context.Context, report infra.CloseOutReport) error
}

// RegisterService orchestrates the register lifecycle: open, manual
// movements, and the close transaction. No local session state is mutated
// until the collaborator write succeeds; a failed close leaves everything
// exactly as it was.
type RegisterService struct {
	api         RegisterAPI
	status      *StatusService
	recon       *ReconciliationService
	timeline    *TimelineService
	stock       *StockService
	zreport     *ZReportService
	closes      repository.CloseReceiptRepository
	broadcaster *infra.Broadcaster
	jobs        CloseOutEnqueuer
}

func NewRegisterService(api RegisterAPI, status *StatusService, recon *ReconciliationService,
	timeline *TimelineService, stock *StockService, zreport *ZReportService,
	closes repository.CloseReceiptRepository, broadcaster *infra.Broadcaster,
	jobs CloseOutEnqueuer) *RegisterService {
	return &RegisterService{
		api:         api,
		status:      status,
		recon:       recon,
		timeline:    timeline,
		stock:       stock,
		zreport:     zreport,
		closes:      closes,
		broadcaster: broadcaster,
		jobs:        jobs,
	}
}

// Open records the opening float and transitions the session to open. The
// stale open timestamp is cleared before the new one arrives so a concurrent
// status read never attributes the new float to the previous window.
func (s *RegisterService) Open(ctx context.Context, req dto.OpenRegisterRequest) (*dto.OpenRegisterResponse, error) {
	if req.OpeningCash.IsNegative() {
		return nil, fmt.Errorf("opening cash cannot be negative")
	}

	if _, err := s.api.PostLogEvent(ctx, dto.LogEventRequest{
		Type:   "open",
		Amount: req.OpeningCash,
	}); err != nil {
		return nil, err
	}

	s.status.ClearLastOpenAt()
	s.status.MarkOpened(req.OpeningCash)
	s.status.InvalidateCaches()
	s.broadcast("register:refresh", "reports:refresh")
	go s.refreshStatus()

	return &dto.OpenRegisterResponse{Status: "open", RedirectTab: "tables"}, nil
}

// Close runs the close-out transaction: derive the discrepancy figures, gate
// on materiality, submit the close log, then commit local state. Terminal
// fields absent from the request fall back to the accumulated Z-report
// override values.
func (s *RegisterService) Close(ctx context.Context, req dto.CloseRegisterRequest) (*dto.CloseRegisterResponse, error) {
	if req.CountedCashTotal.IsNegative() {
		return nil, fmt.Errorf("counted cash cannot be negative")
	}

	session := s.status.Session()
	if !session.Open() {
		return nil, fmt.Errorf("register is not open")
	}
	openTime := session.LastOpenAt
	day := localDay(time.Now())

	zstate := s.zreport.State()
	terminal := resolveTerminalFields(req, zstate.Overrides)

	// Snapshot failures degrade to the session mirror's expected cash; the
	// operator can still close on manually entered figures.
	snapshot, err := s.recon.Fetch(ctx, openTime, false)
	if err != nil {
		log.Warn().Err(err).Msg("register: closing without reconciliation snapshot")
		snapshot = nil
	}
	refund := s.timeline.CashRefundTotal(ctx, day)
	view := s.recon.Derived(snapshot, req.CountedCashTotal, terminal.CardTotal, refund)

	if view.Material && !req.ConfirmDiscrepancy {
		return nil, &ConfirmationRequiredError{
			CashDifference: view.CashDifference,
			CardDifference: view.CardDifference,
			RiskScore:      view.RiskScore,
		}
	}

	counted := req.CountedCashTotal
	logReq := dto.LogEventRequest{
		Type:                "close",
		Amount:              counted,
		CountedCashTotal:    &counted,
		TerminalCardTotal:   terminal.CardTotal,
		TerminalTxCount:     terminal.TxCount,
		TerminalRefundTotal: terminal.RefundTotal,
		TerminalCashTotal:   terminal.CashTotal,
		TerminalGrandTotal:  terminal.GrandTotal,
	}
	if zstate.ReportURL != "" {
		url := zstate.ReportURL
		logReq.TerminalReportURL = &url
	}
	if zstate.Confidence != nil {
		conf := *zstate.Confidence
		used := zstate.UseDetectedValues
		conf.UsedDetected = &used
		logReq.TerminalParseConfidence = &conf
	}

	resp, err := s.api.PostLogEvent(ctx, logReq)
	if err != nil {
		if recovered := s.recoverOpenOrders(ctx, err); recovered != nil {
			return nil, recovered
		}
		return nil, err
	}

	s.persistCloseReceipt(view, counted, zstate, resp)
	s.zreport.Reset()
	s.status.MarkClosed(counted)
	s.status.InvalidateCaches()
	s.recon.Invalidate(openTime)
	s.stock.Invalidate(openTime)
	s.timeline.InvalidateDay(day)
	s.broadcast("register:refresh", "reports:refresh")
	go s.refreshStatus()
	s.enqueueCloseOut(view, counted, resp)

	out := &dto.CloseRegisterResponse{Status: "closed"}
	if resp != nil {
		out.TerminalReportURL = resp.Log.TerminalReportURL
		out.ClosedAt = resp.Log.CreatedAt
	}
	return out, nil
}

// Movement writes a manual register log row (entry, expense, change given).
func (s *RegisterService) Movement(ctx context.Context, req dto.MovementRequest) (*dto.RegisterLogRecord, error) {
	resp, err := s.api.PostLogEvent(ctx, dto.LogEventRequest{
		Type:   req.Type,
		Amount: req.Amount,
		Note:   req.Note,
	})
	if err != nil {
		return nil, err
	}
	s.status.InvalidateCaches()
	s.timeline.InvalidateDay(localDay(time.Now()))
	s.broadcast("reports:refresh")
	return &resp.Log, nil
}

// LastClose returns the most recent close row, falling back to the local
// audit table when the collaborator is unavailable.
func (s *RegisterService) LastClose(ctx context.Context) (*dto.LastCloseRow, error) {
	rows, err := s.api.FetchLastCloses(ctx, 1)
	if err == nil && len(rows) > 0 {
		return &rows[0], nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("register: last-close report unavailable, using local audit")
	}

	receipt, repoErr := s.closes.Latest(ctx)
	if repoErr != nil || receipt == nil {
		if err != nil {
			return nil, err
		}
		return nil, repoErr
	}
	row := dto.LastCloseRow{
		CountedCashTotal: receipt.CountedCashTotal,
		CreatedAt:        receipt.ClosedAt.Format(time.RFC3339),
	}
	if receipt.TerminalReportURL != nil {
		row.TerminalReportURL = *receipt.TerminalReportURL
	}
	return &row, nil
}

// ─── close internals ─────────────────────────────────────────────────────────

type terminalFields struct {
	CardTotal   *decimal.Decimal
	TxCount     *int
	RefundTotal *decimal.Decimal
	CashTotal   *decimal.Decimal
	GrandTotal  *decimal.Decimal
}

// resolveTerminalFields merges the request's terminal figures over the
// Z-report override values. Request wins per field; a field empty in both
// stays nil and is omitted from the close log.
func resolveTerminalFields(req dto.CloseRegisterRequest, overrides dto.TerminalOverrides) terminalFields {
	out := terminalFields{
		CardTotal:   req.TerminalCardTotal,
		TxCount:     req.TerminalTxCount,
		RefundTotal: req.TerminalRefundTotal,
		CashTotal:   req.TerminalCashTotal,
		GrandTotal:  req.TerminalGrandTotal,
	}
	if out.CardTotal == nil {
		out.CardTotal = parseOverrideDecimal(overrides.CardTotal)
	}
	if out.TxCount == nil {
		out.TxCount = parseOverrideInt(overrides.TxCount)
	}
	if out.RefundTotal == nil {
		out.RefundTotal = parseOverrideDecimal(overrides.RefundTotal)
	}
	if out.CashTotal == nil {
		out.CashTotal = parseOverrideDecimal(overrides.CashTotal)
	}
	if out.GrandTotal == nil {
		out.GrandTotal = parseOverrideDecimal(overrides.GrandTotal)
	}
	return out
}

func parseOverrideDecimal(s string) *decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func parseOverrideInt(s string) *int {
	d := parseOverrideDecimal(s)
	if d == nil {
		return nil
	}
	n := int(d.IntPart())
	return &n
}

func (s *RegisterService) persistCloseReceipt(view dto.ReconciliationView, counted decimal.Decimal,
	zstate dto.ZReportState, resp *dto.LogEventResponse) {

	expected := view.ExpectedCashComputed
	cashDiff := view.CashDifference
	cardDiff := view.CardDifference
	receipt := &model.CloseReceipt{
		CountedCashTotal:  counted,
		ExpectedCashTotal: &expected,
		CashDifference:    &cashDiff,
		CardDifference:    &cardDiff,
		RiskScore:         view.RiskScore,
		UsedDetected:      zstate.UseDetectedValues,
		ClosedAt:          time.Now(),
	}
	if zstate.ReportURL != "" {
		url := zstate.ReportURL
		receipt.TerminalReportURL = &url
	} else if resp != nil && resp.Log.TerminalReportURL != "" {
		url := resp.Log.TerminalReportURL
		receipt.TerminalReportURL = &url
	}
	if zstate.Confidence != nil {
		if raw, err := json.Marshal(zstate.Confidence); err == nil {
			receipt.ParseConfidence = raw
		}
	}
	if err := s.closes.Create(context.Background(), receipt); err != nil {
		log.Warn().Err(err).Msg("register: close audit row not persisted")
	}
}

func (s *RegisterService) enqueueCloseOut(view dto.ReconciliationView, counted decimal.Decimal, resp *dto.LogEventResponse) {
	if s.jobs == nil {
		return
	}
	report := infra.CloseOutReport{
		CountedCashTotal:  counted,
		ExpectedCashTotal: view.ExpectedCashComputed,
		CashDifference:    view.CashDifference,
		CardDifference:    view.CardDifference,
		RiskScore:         view.RiskScore,
		ClosedAt:          time.Now(),
	}
	if view.Snapshot != nil {
		report.POSCardTotal = view.Snapshot.POSTotals.CardTotal
	}
	if resp != nil {
		report.TerminalReportURL = resp.Log.TerminalReportURL
	}
	if err := s.jobs.EnqueueCloseOut(context.Background(), report); err != nil {
		log.Warn().Err(err).Msg("register: close-out report job not enqueued")
	}
}

// recoverOpenOrders inspects a rejected close. When the POS backend refused
// because orders are still open, the orders list is consulted to name the
// first blocking order and where to find it; on any lookup failure the
// original rejection is kept.
func (s *RegisterService) recoverOpenOrders(ctx context.Context, cause error) error {
	msg := strings.ToLower(cause.Error())
	if !strings.Contains(msg, "order") || !strings.Contains(msg, "open") {
		return nil
	}

	orders, err := s.api.FetchOrders(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("register: open-order lookup failed")
		return &OpenOrdersError{Message: cause.Error()}
	}
	for _, o := range orders {
		if isOrderClosed(o) || isOrderCancelled(o) {
			continue
		}
		return &OpenOrdersError{
			Message: cause.Error(),
			Label:   formatOpenOrderLabel(o),
			TabHint: getOrderTabHint(o),
		}
	}
	return &OpenOrdersError{Message: cause.Error()}
}

func (s *RegisterService) broadcast(events ...string) {
	if s.broadcaster == nil {
		return
	}
	for _, ev := range events {
		s.broadcaster.Publish(context.Background(), ev)
	}
}

func (s *RegisterService) refreshStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := s.status.RefreshStatus(ctx, true); err != nil {
		log.Debug().Err(err).Msg("register: post-transition status refresh failed")
	}
}

// ─── order triage helpers ────────────────────────────────────────────────────

// normalizeOrderStatus maps legacy floor statuses onto the canonical set.
func normalizeOrderStatus(status string) string {
	st := strings.ToLower(strings.TrimSpace(status))
	if st == "occupied" {
		return "confirmed"
	}
	return st
}

func isOrderCancelled(o dto.Order) bool {
	st := normalizeOrderStatus(o.Status)
	return st == "cancelled" || st == "canceled"
}

func isOrderClosed(o dto.Order) bool {
	return normalizeOrderStatus(o.Status) == "closed"
}

func orderItemPaid(it dto.OrderItem) bool {
	return it.Paid || it.PaidAt != nil
}

// hasUnpaidAnywhere scans top-level items and every suborder; an order with
// no item data at all reports false here and is judged on its flags instead.
func hasUnpaidAnywhere(o dto.Order) bool {
	for _, it := range o.Items {
		if !orderItemPaid(it) {
			return true
		}
	}
	for _, sub := range o.Suborders {
		for _, it := range sub.Items {
			if !orderItemPaid(it) {
				return true
			}
		}
	}
	return false
}

func isOrderPaid(o dto.Order) bool {
	return o.IsPaid || strings.EqualFold(o.PaymentStatus, "paid")
}

func isOrderFullyPaid(o dto.Order) bool {
	if isOrderClosed(o) {
		return true
	}
	if hasUnpaidAnywhere(o) {
		return false
	}
	return isOrderPaid(o)
}

// getOrderTabHint maps an order to the POS tab where the operator can settle
// it.
func getOrderTabHint(o dto.Order) string {
	switch strings.ToLower(o.OrderType) {
	case "takeaway":
		return "takeaway"
	case "packet":
		return "packet"
	case "phone":
		return "phone"
	}
	if o.TableNumber != nil {
		return "tables"
	}
	if isOrderFullyPaid(o) {
		return "history"
	}
	return "kitchen"
}

func formatOpenOrderLabel(o dto.Order) string {
	where := "order"
	if o.TableNumber != nil {
		where = fmt.Sprintf("table %d", *o.TableNumber)
	} else if t := strings.ToLower(o.OrderType); t != "" {
		where = t
	}
	status := normalizeOrderStatus(o.Status)
	if status == "" {
		status = "unknown"
	}
	return fmt.Sprintf("#%d (%s, %s)", o.ID, where, status)
}
