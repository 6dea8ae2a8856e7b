package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/cache"
	"github.com/beyproweb/beypro-pos-sub005/internal/dto"
	"github.com/beyproweb/beypro-pos-sub005/internal/infra"
	"github.com/beyproweb/beypro-pos-sub005/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── In-memory RegisterAPI stub ───────────────────────────────────────────────

type stubRegisterAPI struct {
	mu         sync.Mutex
	posted     []dto.LogEventRequest
	postErr    error
	logResp    dto.LogEventResponse
	lastCloses []dto.LastCloseRow
	closesErr  error
	orders     []dto.Order
	ordersErr  error
}

func (s *stubRegisterAPI) PostLogEvent(_ context.Context, req dto.LogEventRequest) (*dto.LogEventResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.postErr != nil {
		return nil, s.postErr
	}
	s.posted = append(s.posted, req)
	resp := s.logResp
	return &resp, nil
}

func (s *stubRegisterAPI) FetchLastCloses(_ context.Context, _ int) ([]dto.LastCloseRow, error) {
	return s.lastCloses, s.closesErr
}

func (s *stubRegisterAPI) FetchOrders(_ context.Context) ([]dto.Order, error) {
	return s.orders, s.ordersErr
}

func (s *stubRegisterAPI) lastPosted() dto.LogEventRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posted[len(s.posted)-1]
}

func (s *stubRegisterAPI) postedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posted)
}

// ── In-memory CloseReceiptRepository stub ────────────────────────────────────

type stubCloseRepo struct {
	mu       sync.Mutex
	receipts []*model.CloseReceipt
}

func (r *stubCloseRepo) Create(_ context.Context, receipt *model.CloseReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cloned := *receipt
	r.receipts = append(r.receipts, &cloned)
	return nil
}

func (r *stubCloseRepo) Latest(_ context.Context) (*model.CloseReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.receipts) == 0 {
		return nil, nil
	}
	return r.receipts[len(r.receipts)-1], nil
}

type stubStockAPI struct{}

func (stubStockAPI) FetchStockDiscrepancy(_ context.Context, _ string) (*dto.StockVarianceReport, error) {
	return &dto.StockVarianceReport{}, nil
}

type recordingEnqueuer struct {
	mu      sync.Mutex
	reports []infra.CloseOutReport
}

func (e *recordingEnqueuer) EnqueueCloseOut(_ context.Context, report infra.CloseOutReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = append(e.reports, report)
	return nil
}

// ── Fixture ──────────────────────────────────────────────────────────────────

type registerFixture struct {
	api       *stubRegisterAPI
	statusAPI *stubStatusAPI
	status    *StatusService
	recon     *ReconciliationService
	zreport   *ZReportService
	closes    *stubCloseRepo
	jobs      *recordingEnqueuer
	svc       *RegisterService
}

// newRegisterFixture builds a register service over an open session with
// expected cash 500, POS card 198 and risk 10 from the reconciliation stub.
func newRegisterFixture(t *testing.T) *registerFixture {
	t.Helper()

	statusAPI := &stubStatusAPI{status: &dto.RegisterStatusResponse{
		Status:      "open",
		OpeningCash: decPtr("100.00"),
		LastOpenAt:  "2026-08-31T08:00:00Z",
	}}
	status := NewStatusService(statusAPI, cache.New())
	_, err := status.RefreshStatus(context.Background(), false)
	require.NoError(t, err)

	reconAPI := &stubReconAPI{mode: "full", expected: "500.00", posCard: "198.00", risk: 10}
	recon := NewReconciliationService(reconAPI, cache.New(), status, 50, 50, 70,
		time.Millisecond, time.Hour)

	timeline := NewTimelineService(&stubTimelineAPI{}, cache.New())
	stock := NewStockService(stubStockAPI{}, cache.New())
	zreport := NewZReportService(okParser("low"), nil, t.TempDir())
	api := &stubRegisterAPI{}
	closes := &stubCloseRepo{}
	jobs := &recordingEnqueuer{}

	svc := NewRegisterService(api, status, recon, timeline, stock, zreport, closes, nil, jobs)
	return &registerFixture{
		api: api, statusAPI: statusAPI, status: status, recon: recon, zreport: zreport,
		closes: closes, jobs: jobs, svc: svc,
	}
}

// expectUpstreamTransition points the status stub at the state the backend
// will report after the transition, so the post-transition background refresh
// agrees with the local mirror.
func (f *registerFixture) expectUpstreamTransition(status *dto.RegisterStatusResponse) {
	f.statusAPI.status = status
}

// ─────────────────────────────────────────────────────────────────────────────

func TestOpenRegister(t *testing.T) {
	f := newRegisterFixture(t)
	f.expectUpstreamTransition(&dto.RegisterStatusResponse{
		Status: "open", OpeningCash: decPtr("150.00"), LastOpenAt: "2026-08-31T09:00:00Z",
	})

	resp, err := f.svc.Open(context.Background(), dto.OpenRegisterRequest{OpeningCash: dec("150.00")})
	require.NoError(t, err)
	assert.Equal(t, "open", resp.Status)
	assert.Equal(t, "tables", resp.RedirectTab)

	posted := f.api.lastPosted()
	assert.Equal(t, "open", posted.Type)
	assert.True(t, posted.Amount.Equal(dec("150.00")))

	session := f.status.Session()
	assert.True(t, session.Open())
	require.NotNil(t, session.OpeningCash)
	assert.True(t, session.OpeningCash.Equal(dec("150.00")))
}

func TestOpenRejectsNegativeFloatBeforeNetwork(t *testing.T) {
	f := newRegisterFixture(t)

	_, err := f.svc.Open(context.Background(), dto.OpenRegisterRequest{OpeningCash: dec("-5.00")})
	require.Error(t, err)
	assert.Zero(t, f.api.postedCount(), "validation failures must not reach the backend")
}

func TestCloseWithinThresholds(t *testing.T) {
	f := newRegisterFixture(t)
	f.expectUpstreamTransition(&dto.RegisterStatusResponse{
		Status: "closed", YesterdayClose: decPtr("500.00"),
	})

	resp, err := f.svc.Close(context.Background(), dto.CloseRegisterRequest{
		CountedCashTotal:  dec("500.00"),
		TerminalCardTotal: decPtr("200.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "closed", resp.Status)

	posted := f.api.lastPosted()
	assert.Equal(t, "close", posted.Type)
	require.NotNil(t, posted.CountedCashTotal)
	assert.True(t, posted.CountedCashTotal.Equal(dec("500.00")))

	session := f.status.Session()
	assert.Equal(t, "closed", session.State)
	require.NotNil(t, session.YesterdayCloseCash)
	assert.True(t, session.YesterdayCloseCash.Equal(dec("500.00")))
}

func TestCloseMaterialDiscrepancyRequiresConfirmation(t *testing.T) {
	f := newRegisterFixture(t)

	_, err := f.svc.Close(context.Background(), dto.CloseRegisterRequest{
		CountedCashTotal:  dec("560.00"),
		TerminalCardTotal: decPtr("200.00"),
	})
	var confirm *ConfirmationRequiredError
	require.ErrorAs(t, err, &confirm)
	assert.True(t, confirm.CashDifference.Equal(dec("60.00")))
	assert.Zero(t, f.api.postedCount(), "the close log must not be written before confirmation")
	assert.True(t, f.status.Session().Open(), "a rejected close changes nothing")

	// Same declaration, explicitly confirmed.
	f.expectUpstreamTransition(&dto.RegisterStatusResponse{
		Status: "closed", YesterdayClose: decPtr("560.00"),
	})
	resp, err := f.svc.Close(context.Background(), dto.CloseRegisterRequest{
		CountedCashTotal:   dec("560.00"),
		TerminalCardTotal:  decPtr("200.00"),
		ConfirmDiscrepancy: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "closed", resp.Status)
}

func TestCloseFailureLeavesStateUntouched(t *testing.T) {
	f := newRegisterFixture(t)

	_, err := f.zreport.Upload(context.Background(), []infra.UploadFile{slipFile("a.png")}, "table", "")
	require.NoError(t, err)

	f.api.postErr = errors.New("backend unavailable")
	_, err = f.svc.Close(context.Background(), dto.CloseRegisterRequest{
		CountedCashTotal:  dec("500.00"),
		TerminalCardTotal: decPtr("200.00"),
	})
	require.Error(t, err)

	assert.True(t, f.status.Session().Open(), "session mirror stays open after a failed close")
	assert.Len(t, f.zreport.State().Details, 1, "accumulated slips survive a failed close")
	assert.Empty(t, f.closes.receipts)
	assert.Empty(t, f.jobs.reports)
}

func TestCloseFallsBackToZReportOverrides(t *testing.T) {
	f := newRegisterFixture(t)

	_, err := f.zreport.Upload(context.Background(), []infra.UploadFile{slipFile("a.png")}, "table", "")
	require.NoError(t, err)
	f.zreport.SetUseDetected(true)
	f.expectUpstreamTransition(&dto.RegisterStatusResponse{
		Status: "closed", YesterdayClose: decPtr("500.00"),
	})

	// The single slip covers only part of the POS card total, so the card
	// difference is material and the close needs explicit confirmation.
	_, err = f.svc.Close(context.Background(), dto.CloseRegisterRequest{
		CountedCashTotal:   dec("500.00"),
		ConfirmDiscrepancy: true,
	})
	require.NoError(t, err)

	posted := f.api.lastPosted()
	require.NotNil(t, posted.TerminalCardTotal)
	assert.True(t, posted.TerminalCardTotal.Equal(dec("100.00")),
		"terminal fields fall back to the accumulated override values")
	require.NotNil(t, posted.TerminalReportURL)
	require.NotNil(t, posted.TerminalParseConfidence)
	require.NotNil(t, posted.TerminalParseConfidence.UsedDetected)
	assert.True(t, *posted.TerminalParseConfidence.UsedDetected)
}

func TestCloseRequestFieldsWinOverOverrides(t *testing.T) {
	f := newRegisterFixture(t)

	_, err := f.zreport.Upload(context.Background(), []infra.UploadFile{slipFile("a.png")}, "table", "")
	require.NoError(t, err)
	f.zreport.SetUseDetected(true)
	f.expectUpstreamTransition(&dto.RegisterStatusResponse{
		Status: "closed", YesterdayClose: decPtr("500.00"),
	})

	_, err = f.svc.Close(context.Background(), dto.CloseRegisterRequest{
		CountedCashTotal:  dec("500.00"),
		TerminalCardTotal: decPtr("205.00"),
	})
	require.NoError(t, err)

	posted := f.api.lastPosted()
	require.NotNil(t, posted.TerminalCardTotal)
	assert.True(t, posted.TerminalCardTotal.Equal(dec("205.00")))
}

func TestCloseResetsZReportAndPersistsReceipt(t *testing.T) {
	f := newRegisterFixture(t)

	_, err := f.zreport.Upload(context.Background(), []infra.UploadFile{slipFile("a.png")}, "table", "")
	require.NoError(t, err)
	f.expectUpstreamTransition(&dto.RegisterStatusResponse{
		Status: "closed", YesterdayClose: decPtr("500.00"),
	})

	_, err = f.svc.Close(context.Background(), dto.CloseRegisterRequest{
		CountedCashTotal:  dec("500.00"),
		TerminalCardTotal: decPtr("200.00"),
	})
	require.NoError(t, err)

	assert.Empty(t, f.zreport.State().Details, "accumulated slips are discarded after a committed close")

	require.Len(t, f.closes.receipts, 1)
	receipt := f.closes.receipts[0]
	assert.True(t, receipt.CountedCashTotal.Equal(dec("500.00")))
	require.NotNil(t, receipt.CashDifference)
	assert.True(t, receipt.CashDifference.IsZero())

	require.Len(t, f.jobs.reports, 1)
	assert.True(t, f.jobs.reports[0].CountedCashTotal.Equal(dec("500.00")))
}

func TestCloseOpenOrdersRecovery(t *testing.T) {
	f := newRegisterFixture(t)
	f.api.postErr = errors.New("register cannot close: orders still open")
	three := 3
	f.api.orders = []dto.Order{
		{ID: 2, Status: "cancelled", OrderType: "table"},
		{ID: 4, Status: "closed", OrderType: "table", IsPaid: true},
		{ID: 5, Status: "occupied", OrderType: "table", TableNumber: &three,
			Items: []dto.OrderItem{{Paid: false}}},
	}

	_, err := f.svc.Close(context.Background(), dto.CloseRegisterRequest{
		CountedCashTotal:  dec("500.00"),
		TerminalCardTotal: decPtr("200.00"),
	})
	var openOrders *OpenOrdersError
	require.ErrorAs(t, err, &openOrders)
	assert.Equal(t, "#5 (table 3, confirmed)", openOrders.Label)
	assert.Equal(t, "tables", openOrders.TabHint)
	assert.True(t, f.status.Session().Open())
}

func TestCloseRecoverySurfacesPaidButUnclosedOrder(t *testing.T) {
	f := newRegisterFixture(t)
	f.api.postErr = errors.New("register cannot close: orders still open")
	f.api.orders = []dto.Order{
		{ID: 2, Status: "cancelled", OrderType: "table"},
		{ID: 4, Status: "closed", OrderType: "table", IsPaid: true},
		{ID: 6, Status: "confirmed", OrderType: "takeaway", IsPaid: true},
	}

	_, err := f.svc.Close(context.Background(), dto.CloseRegisterRequest{
		CountedCashTotal:  dec("500.00"),
		TerminalCardTotal: decPtr("200.00"),
	})
	var openOrders *OpenOrdersError
	require.ErrorAs(t, err, &openOrders)
	assert.Equal(t, "#6 (takeaway, confirmed)", openOrders.Label,
		"paid orders still block the close until they are closed out")
	assert.Equal(t, "takeaway", openOrders.TabHint)
}

func TestCloseOpenOrdersRecoveryWithoutOrderData(t *testing.T) {
	f := newRegisterFixture(t)
	f.api.postErr = errors.New("register cannot close: orders still open")
	f.api.ordersErr = errors.New("orders service down")

	_, err := f.svc.Close(context.Background(), dto.CloseRegisterRequest{
		CountedCashTotal:  dec("500.00"),
		TerminalCardTotal: decPtr("200.00"),
	})
	var openOrders *OpenOrdersError
	require.ErrorAs(t, err, &openOrders)
	assert.Empty(t, openOrders.Label, "lookup failures keep the plain rejection")
}

func TestCloseWhenRegisterNotOpen(t *testing.T) {
	f := newRegisterFixture(t)
	f.status.MarkClosed(dec("100.00"))

	_, err := f.svc.Close(context.Background(), dto.CloseRegisterRequest{
		CountedCashTotal: dec("500.00"),
	})
	require.Error(t, err)
	assert.Zero(t, f.api.postedCount())
}

func TestMovementWritesLogAndInvalidates(t *testing.T) {
	f := newRegisterFixture(t)
	f.api.logResp = dto.LogEventResponse{Log: dto.RegisterLogRecord{ID: 77, Type: "expense"}}

	note := "window cleaner"
	record, err := f.svc.Movement(context.Background(), dto.MovementRequest{
		Type: "expense", Amount: dec("12.00"), Note: &note,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), record.ID)

	posted := f.api.lastPosted()
	assert.Equal(t, "expense", posted.Type)
	require.NotNil(t, posted.Note)
	assert.Equal(t, "window cleaner", *posted.Note)
}

func TestLastCloseFallsBackToLocalAudit(t *testing.T) {
	f := newRegisterFixture(t)
	f.api.closesErr = errors.New("reports down")
	url := "https://reports.example/z1.png"
	f.closes.receipts = append(f.closes.receipts, &model.CloseReceipt{
		CountedCashTotal:  dec("800.00"),
		TerminalReportURL: &url,
		ClosedAt:          time.Date(2026, 8, 30, 23, 50, 0, 0, time.UTC),
	})

	row, err := f.svc.LastClose(context.Background())
	require.NoError(t, err)
	assert.True(t, row.CountedCashTotal.Equal(dec("800.00")))
	assert.Equal(t, url, row.TerminalReportURL)
}

// ── Order triage helpers ─────────────────────────────────────────────────────

func TestNormalizeOrderStatus(t *testing.T) {
	assert.Equal(t, "confirmed", normalizeOrderStatus("occupied"))
	assert.Equal(t, "confirmed", normalizeOrderStatus(" Occupied "))
	assert.Equal(t, "closed", normalizeOrderStatus("CLOSED"))
}

func TestIsOrderFullyPaid(t *testing.T) {
	assert.True(t, isOrderFullyPaid(dto.Order{Status: "closed"}))
	assert.True(t, isOrderFullyPaid(dto.Order{Status: "confirmed", IsPaid: true}))
	assert.False(t, isOrderFullyPaid(dto.Order{Status: "confirmed", IsPaid: true,
		Items: []dto.OrderItem{{Paid: false}}}))
	assert.True(t, isOrderFullyPaid(dto.Order{Status: "confirmed", PaymentStatus: "PAID",
		Suborders: []dto.Suborder{{Items: []dto.OrderItem{{Paid: true}}}}}))
}

func TestGetOrderTabHint(t *testing.T) {
	seven := 7
	assert.Equal(t, "takeaway", getOrderTabHint(dto.Order{OrderType: "takeaway"}))
	assert.Equal(t, "packet", getOrderTabHint(dto.Order{OrderType: "packet"}))
	assert.Equal(t, "phone", getOrderTabHint(dto.Order{OrderType: "phone"}))
	assert.Equal(t, "tables", getOrderTabHint(dto.Order{OrderType: "table", TableNumber: &seven}))
	assert.Equal(t, "tables", getOrderTabHint(dto.Order{TableNumber: &seven}),
		"a table number routes to the floor even without an order type")
	assert.Equal(t, "history", getOrderTabHint(dto.Order{OrderType: "web", Status: "closed"}))
	assert.Equal(t, "kitchen", getOrderTabHint(dto.Order{OrderType: "web",
		Items: []dto.OrderItem{{Paid: false}}}))
	assert.Equal(t, "kitchen", getOrderTabHint(dto.Order{OrderType: "table"}),
		"a table order without a table number has nowhere on the floor to point at")
}
