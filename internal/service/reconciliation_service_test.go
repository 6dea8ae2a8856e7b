package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/cache"
	"github.com/beyproweb/beypro-pos-sub005/internal/dto"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── In-memory ReconciliationAPI stub ─────────────────────────────────────────

type stubReconAPI struct {
	calls     int32
	fullCalls int32
	mode      string // snapshot_mode returned for unforced fetches
	expected  string
	posCard   string
	risk      int
	delay     time.Duration
}

func (s *stubReconAPI) FetchReconciliation(ctx context.Context, _, mode string, _ bool) (*dto.ReconciliationSnapshot, error) {
	atomic.AddInt32(&s.calls, 1)
	if mode == "full" {
		atomic.AddInt32(&s.fullCalls, 1)
	}
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	snapshotMode := s.mode
	if mode == "full" {
		snapshotMode = "full"
	}
	snap := &dto.ReconciliationSnapshot{SnapshotMode: snapshotMode}
	if s.expected != "" {
		snap.CashReconciliation.ExpectedCashTotal = decPtr(s.expected)
	}
	if s.posCard != "" {
		snap.POSTotals.CardTotal = dec(s.posCard)
	}
	snap.Risk.RiskScore = s.risk
	return snap, nil
}

func newReconService(api ReconciliationAPI, store cache.Store) (*ReconciliationService, *StatusService) {
	status := NewStatusService(&stubStatusAPI{status: &dto.RegisterStatusResponse{Status: "open"}}, cache.New())
	svc := NewReconciliationService(api, store, status, 50, 50, 70,
		5*time.Millisecond, time.Hour)
	return svc, status
}

// ─────────────────────────────────────────────────────────────────────────────

func TestFetchCachesSnapshotWithinTTL(t *testing.T) {
	api := &stubReconAPI{mode: "full", expected: "500.00"}
	svc, _ := newReconService(api, cache.New())

	first, err := svc.Fetch(context.Background(), "2026-08-31T08:00:00Z", false)
	require.NoError(t, err)
	second, err := svc.Fetch(context.Background(), "2026-08-31T08:00:00Z", false)
	require.NoError(t, err)

	assert.Same(t, first, second, "a cache hit returns the same snapshot object")
	assert.Equal(t, int32(1), atomic.LoadInt32(&api.calls))
}

func TestFetchForceFreshBypassesCache(t *testing.T) {
	api := &stubReconAPI{mode: "full", expected: "500.00"}
	svc, _ := newReconService(api, cache.New())

	_, err := svc.Fetch(context.Background(), "2026-08-31T08:00:00Z", false)
	require.NoError(t, err)
	_, err = svc.Fetch(context.Background(), "2026-08-31T08:00:00Z", true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&api.calls))
}

func TestFetchTimeoutConvertsToUniformError(t *testing.T) {
	api := &stubReconAPI{mode: "full", delay: time.Second}
	svc, _ := newReconService(api, cache.New())
	svc.timeout = 20 * time.Millisecond

	_, err := svc.Fetch(context.Background(), "2026-08-31T08:00:00Z", false)
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.ErrorIs(t, svc.LastError(), ErrRequestTimeout)
}

func TestFetchAppliesExpectedCashToSessionMirror(t *testing.T) {
	api := &stubReconAPI{mode: "full", expected: "730.25"}
	svc, status := newReconService(api, cache.New())

	_, err := svc.Fetch(context.Background(), "2026-08-31T08:00:00Z", false)
	require.NoError(t, err)
	assert.True(t, status.Session().ExpectedCash.Equal(dec("730.25")))
}

func TestEssentialSnapshotRefinedToFull(t *testing.T) {
	api := &stubReconAPI{mode: "essential", expected: "500.00"}
	store := cache.New()
	svc, _ := newReconService(api, store)

	snap, err := svc.Fetch(context.Background(), "2026-08-31T08:00:00Z", false)
	require.NoError(t, err)
	assert.Equal(t, "essential", snap.SnapshotMode)

	// The deferred full-mode refetch replaces the cached snapshot.
	require.Eventually(t, func() bool {
		v, ok := store.Get("recon:2026-08-31T08:00:00Z")
		if !ok {
			return false
		}
		return v.(*dto.ReconciliationSnapshot).SnapshotMode == "full"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&api.fullCalls))
}

func TestStaleRefinementDiscarded(t *testing.T) {
	api := &stubReconAPI{mode: "essential", expected: "500.00"}
	store := cache.New()
	svc, _ := newReconService(api, store)
	svc.refineDelay = 50 * time.Millisecond

	_, err := svc.Fetch(context.Background(), "2026-08-31T08:00:00Z", false)
	require.NoError(t, err)

	// A newer session window supersedes the first before its refine fires.
	_, err = svc.Fetch(context.Background(), "2026-08-31T12:00:00Z", false)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	v, ok := store.Get("recon:2026-08-31T08:00:00Z")
	require.True(t, ok)
	assert.Equal(t, "essential", v.(*dto.ReconciliationSnapshot).SnapshotMode,
		"a refine result for a superseded window must be discarded")
}

func TestDerivedFigures(t *testing.T) {
	api := &stubReconAPI{}
	svc, _ := newReconService(api, cache.New())

	snap := &dto.ReconciliationSnapshot{}
	snap.CashReconciliation.ExpectedCashTotal = decPtr("500.00")
	snap.POSTotals.CardTotal = dec("198.00")
	snap.Risk.RiskScore = 10

	terminal := decPtr("200.00")
	view := svc.Derived(snap, dec("480.00"), terminal, dec("20.00"))

	assert.True(t, view.ExpectedCashComputed.Equal(dec("480.00")), "expected = base - refunds")
	assert.True(t, view.CashDifference.IsZero())
	assert.True(t, view.CardDifference.Equal(dec("2.00")))
	assert.Equal(t, 10, view.RiskScore)
	assert.False(t, view.Material)
}

func TestDerivedMaterialityGate(t *testing.T) {
	api := &stubReconAPI{}
	svc, _ := newReconService(api, cache.New())

	base := func() *dto.ReconciliationSnapshot {
		snap := &dto.ReconciliationSnapshot{}
		snap.CashReconciliation.ExpectedCashTotal = decPtr("500.00")
		snap.POSTotals.CardTotal = dec("198.00")
		snap.Risk.RiskScore = 10
		return snap
	}

	t.Run("within thresholds", func(t *testing.T) {
		view := svc.Derived(base(), dec("500.00"), decPtr("200.00"), decimal.Zero)
		assert.False(t, view.Material)
	})

	t.Run("cash difference over threshold", func(t *testing.T) {
		view := svc.Derived(base(), dec("560.00"), decPtr("200.00"), decimal.Zero)
		assert.True(t, view.Material)
	})

	t.Run("card difference over threshold", func(t *testing.T) {
		view := svc.Derived(base(), dec("500.00"), decPtr("260.00"), decimal.Zero)
		assert.True(t, view.Material)
	})

	t.Run("no terminal entry diffs against full POS card total", func(t *testing.T) {
		view := svc.Derived(base(), dec("500.00"), nil, decimal.Zero)
		assert.True(t, view.CardDifference.Equal(dec("-198.00")))
		assert.True(t, view.Material)
	})

	t.Run("risk score at limit", func(t *testing.T) {
		snap := base()
		snap.Risk.RiskScore = 70
		view := svc.Derived(snap, dec("500.00"), decPtr("200.00"), decimal.Zero)
		assert.True(t, view.Material)
	})

	t.Run("nil snapshot falls back to session mirror", func(t *testing.T) {
		view := svc.Derived(nil, dec("0.00"), decPtr("0.00"), decimal.Zero)
		assert.True(t, view.ExpectedCashComputed.IsZero())
		assert.False(t, view.Material)
	})
}
