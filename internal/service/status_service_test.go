package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/beyproweb/beypro-pos-sub005/internal/cache"
	"github.com/beyproweb/beypro-pos-sub005/internal/dto"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── In-memory StatusAPI stub ─────────────────────────────────────────────────

type stubStatusAPI struct {
	status      *dto.RegisterStatusResponse
	statusErr   error
	statusCalls int32

	cashTotal    decimal.Decimal
	cashExpenses decimal.Decimal
	extra        []dto.ExpenseRow
	aggregateErr error
}

func (s *stubStatusAPI) FetchStatus(_ context.Context) (*dto.RegisterStatusResponse, error) {
	atomic.AddInt32(&s.statusCalls, 1)
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.status, nil
}

func (s *stubStatusAPI) FetchDailyCashTotal(_ context.Context, _ string) (decimal.Decimal, error) {
	return s.cashTotal, s.aggregateErr
}

func (s *stubStatusAPI) FetchDailyCashExpenses(_ context.Context, _ string) (decimal.Decimal, error) {
	return s.cashExpenses, s.aggregateErr
}

func (s *stubStatusAPI) FetchExtraExpenses(_ context.Context, _ string) ([]dto.ExpenseRow, error) {
	return s.extra, s.aggregateErr
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// ─────────────────────────────────────────────────────────────────────────────

func TestRefreshStatusMirrorsOpenSession(t *testing.T) {
	api := &stubStatusAPI{status: &dto.RegisterStatusResponse{
		Status:         "open",
		OpeningCash:    decPtr("150.00"),
		YesterdayClose: decPtr("980.50"),
		LastOpenAt:     "2026-08-31T08:00:00Z",
	}}
	svc := NewStatusService(api, cache.New())

	resp, err := svc.RefreshStatus(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "open", resp.Status)

	session := svc.Session()
	assert.True(t, session.Open())
	require.NotNil(t, session.OpeningCash)
	assert.True(t, session.OpeningCash.Equal(dec("150.00")))
	assert.Equal(t, "2026-08-31T08:00:00Z", session.LastOpenAt)
}

func TestRefreshStatusIsIdempotent(t *testing.T) {
	api := &stubStatusAPI{status: &dto.RegisterStatusResponse{
		Status:      "open",
		OpeningCash: decPtr("150.00"),
		LastOpenAt:  "2026-08-31T08:00:00Z",
	}}
	svc := NewStatusService(api, cache.New())

	_, err := svc.RefreshStatus(context.Background(), false)
	require.NoError(t, err)
	first := svc.Session()

	// Re-applying the same upstream status must not change the mirror.
	_, err = svc.RefreshStatus(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, first, svc.Session())
}

func TestRefreshStatusClearsOpeningCashWhenClosed(t *testing.T) {
	api := &stubStatusAPI{status: &dto.RegisterStatusResponse{
		Status:      "open",
		OpeningCash: decPtr("150.00"),
	}}
	svc := NewStatusService(api, cache.New())
	_, err := svc.RefreshStatus(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, svc.Session().OpeningCash)

	api.status = &dto.RegisterStatusResponse{Status: "closed", OpeningCash: decPtr("150.00")}
	_, err = svc.RefreshStatus(context.Background(), true)
	require.NoError(t, err)

	// Opening cash is only meaningful while open.
	assert.Nil(t, svc.Session().OpeningCash)
	assert.False(t, svc.Session().Open())
}

func TestRefreshStatusFailureLeavesMirrorUntouched(t *testing.T) {
	api := &stubStatusAPI{status: &dto.RegisterStatusResponse{
		Status:      "open",
		OpeningCash: decPtr("200.00"),
		LastOpenAt:  "2026-08-31T08:00:00Z",
	}}
	svc := NewStatusService(api, cache.New())
	_, err := svc.RefreshStatus(context.Background(), false)
	require.NoError(t, err)
	before := svc.Session()

	api.statusErr = errors.New("backend down")
	_, err = svc.RefreshStatus(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, before, svc.Session(), "a failed refresh must not blank the session")
}

func TestRefreshStatusUsesSubCache(t *testing.T) {
	api := &stubStatusAPI{status: &dto.RegisterStatusResponse{Status: "closed"}}
	svc := NewStatusService(api, cache.New())

	for i := 0; i < 5; i++ {
		_, err := svc.RefreshStatus(context.Background(), false)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&api.statusCalls))

	_, err := svc.RefreshStatus(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&api.statusCalls), "force fresh bypasses the cache")
}

func TestInitializeSummaryAggregatesOpenWindow(t *testing.T) {
	api := &stubStatusAPI{
		status: &dto.RegisterStatusResponse{
			Status:      "open",
			OpeningCash: decPtr("100.00"),
			LastOpenAt:  "2026-08-31T08:00:00Z",
		},
		cashTotal:    dec("750.00"),
		cashExpenses: dec("40.00"),
		extra:        []dto.ExpenseRow{{Amount: dec("12.50")}, {Amount: dec("7.50")}},
	}
	svc := NewStatusService(api, cache.New())

	summary, err := svc.InitializeSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "open", summary.RegisterState)
	assert.True(t, summary.ExpectedCash.Equal(dec("750.00")))
	assert.True(t, summary.DailyCashExpense.Equal(dec("60.00")))
}

func TestInitializeSummaryAggregateFailuresFailOpen(t *testing.T) {
	api := &stubStatusAPI{
		status: &dto.RegisterStatusResponse{
			Status:      "open",
			OpeningCash: decPtr("100.00"),
			LastOpenAt:  "2026-08-31T08:00:00Z",
		},
		aggregateErr: errors.New("reports down"),
	}
	svc := NewStatusService(api, cache.New())

	summary, err := svc.InitializeSummary(context.Background())
	require.NoError(t, err, "aggregate failures must not fail the summary")
	assert.True(t, summary.ExpectedCash.IsZero())
	assert.True(t, summary.DailyCashExpense.IsZero())
}

func TestMarkClosedSeedsYesterdayClose(t *testing.T) {
	api := &stubStatusAPI{status: &dto.RegisterStatusResponse{
		Status:      "open",
		OpeningCash: decPtr("100.00"),
	}}
	svc := NewStatusService(api, cache.New())
	_, err := svc.RefreshStatus(context.Background(), false)
	require.NoError(t, err)

	svc.MarkClosed(dec("1234.56"))

	session := svc.Session()
	assert.Equal(t, "closed", session.State)
	assert.Nil(t, session.OpeningCash)
	assert.True(t, session.ExpectedCash.IsZero())
	require.NotNil(t, session.YesterdayCloseCash)
	assert.True(t, session.YesterdayCloseCash.Equal(dec("1234.56")),
		"an immediate reopen must compare against the just-counted cash")
}
