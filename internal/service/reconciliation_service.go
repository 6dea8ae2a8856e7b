package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/cache"
	"github.com/beyproweb/beypro-pos-sub005/internal/dto"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	reconTTL     = 5 * time.Second
	reconTimeout = 25 * time.Second
)

// ErrRequestTimeout is the uniform error every aborted-by-deadline
// collaborator fetch converts to. Timeouts are the only cancellation path —
// there is no user-triggered cancel.
var ErrRequestTimeout = errors.New("request timeout")

// ReconciliationAPI is the slice of the POS backend the reconciliation
// engine consumes.
type ReconciliationAPI interface {
	FetchReconciliation(ctx context.Context, openTime, mode string, bustCache bool) (*dto.ReconciliationSnapshot, error)
}

// ReconciliationService fetches and caches the per-window reconciliation
// snapshot. An "essential" snapshot is displayed immediately and refined by
// one deferred full-mode refetch; while the register stays open the snapshot
// is re-polled force-fresh to keep the cash/card diffs near-real-time.
type ReconciliationService struct {
	api    ReconciliationAPI
	cache  cache.Store
	status *StatusService

	cashThreshold decimal.Decimal
	cardThreshold decimal.Decimal
	riskLimit     int

	refineDelay  time.Duration
	pollInterval time.Duration
	timeout      time.Duration

	mu          sync.Mutex
	currentOpen string
	lastErr     error
}

func NewReconciliationService(api ReconciliationAPI, store cache.Store, status *StatusService,
	cashThreshold, cardThreshold float64, riskLimit int,
	refineDelay, pollInterval time.Duration) *ReconciliationService {
	return &ReconciliationService{
		api:           api,
		cache:         store,
		status:        status,
		cashThreshold: decimal.NewFromFloat(cashThreshold),
		cardThreshold: decimal.NewFromFloat(cardThreshold),
		riskLimit:     riskLimit,
		refineDelay:   refineDelay,
		pollInterval:  pollInterval,
		timeout:       reconTimeout,
	}
}

// Fetch returns the reconciliation snapshot for openTime. Without forceFresh
// a 5-second cache is consulted first, and concurrent callers share one
// collaborator request. Past the 25-second deadline the request aborts with
// ErrRequestTimeout.
func (s *ReconciliationService) Fetch(ctx context.Context, openTime string, forceFresh bool) (*dto.ReconciliationSnapshot, error) {
	if openTime == "" {
		return nil, nil
	}
	s.mu.Lock()
	s.currentOpen = openTime
	s.mu.Unlock()

	key := "recon:" + openTime
	if forceFresh {
		s.cache.Invalidate(key)
	}
	v, err := s.cache.Do(key, reconTTL, func() (interface{}, error) {
		return s.fetchRemote(ctx, openTime, "", forceFresh)
	})
	if err != nil {
		s.setLastErr(err)
		return nil, err
	}
	s.setLastErr(nil)
	snapshot := v.(*dto.ReconciliationSnapshot)
	s.applySnapshot(snapshot)

	if snapshot.SnapshotMode == "essential" {
		go s.refineLater(openTime)
	}
	return snapshot, nil
}

func (s *ReconciliationService) fetchRemote(ctx context.Context, openTime, mode string, bustCache bool) (*dto.ReconciliationSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	snapshot, err := s.api.FetchReconciliation(ctx, openTime, mode, bustCache)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrRequestTimeout
		}
		return nil, err
	}
	return snapshot, nil
}

func (s *ReconciliationService) applySnapshot(snapshot *dto.ReconciliationSnapshot) {
	if snapshot.CashReconciliation.ExpectedCashTotal != nil {
		s.status.SetExpectedCash(*snapshot.CashReconciliation.ExpectedCashTotal)
	}
}

// refineLater runs the deferred full-mode refetch. It is best-effort: a
// failure leaves the already-displayed essential snapshot valid, and a result
// arriving after a newer session window superseded this one is discarded.
func (s *ReconciliationService) refineLater(openTime string) {
	time.Sleep(s.refineDelay)
	if !s.stillCurrent(openTime) {
		return
	}
	snapshot, err := s.fetchRemote(context.Background(), openTime, "full", true)
	if err != nil {
		log.Debug().Err(err).Str("open_time", openTime).Msg("reconciliation: full refine skipped")
		return
	}
	if !s.stillCurrent(openTime) {
		return
	}
	s.cache.Set("recon:"+openTime, snapshot, reconTTL)
	s.applySnapshot(snapshot)
}

func (s *ReconciliationService) stillCurrent(openTime string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentOpen == openTime
}

func (s *ReconciliationService) setLastErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

// LastError returns the most recent fetch error, or nil. The reconciliation
// panel renders it as an inline "could not load" state; manual entry stays
// available regardless.
func (s *ReconciliationService) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Invalidate drops the snapshot cache for one session window.
func (s *ReconciliationService) Invalidate(openTime string) {
	s.cache.Invalidate("recon:" + openTime)
}

// RunPolling re-fetches force-fresh every poll interval while the register is
// open. Poll failures are logged, never surfaced — the cached snapshot stays
// on display.
func (s *ReconciliationService) RunPolling(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			session := s.status.Session()
			if !session.Open() || session.LastOpenAt == "" {
				continue
			}
			if _, err := s.Fetch(ctx, session.LastOpenAt, true); err != nil {
				log.Warn().Err(err).Msg("reconciliation: poll failed")
			}
		}
	}
}

// Derived computes the close-out figures from a snapshot. countedCash is the
// operator's drawer count; terminalCard is the terminal card override (nil
// means not entered, which diffs against the full POS card total). A nil
// snapshot falls back to the session mirror's expected cash.
func (s *ReconciliationService) Derived(snapshot *dto.ReconciliationSnapshot,
	countedCash decimal.Decimal, terminalCard *decimal.Decimal,
	cashRefundTotal decimal.Decimal) dto.ReconciliationView {

	base := s.status.Session().ExpectedCash
	riskScore := 0
	posCardTotal := decimal.Zero
	if snapshot != nil {
		if snapshot.CashReconciliation.ExpectedCashTotal != nil {
			base = *snapshot.CashReconciliation.ExpectedCashTotal
		}
		riskScore = snapshot.Risk.RiskScore
		posCardTotal = snapshot.POSTotals.CardTotal
	}

	computed := base.Sub(cashRefundTotal)
	cashDiff := countedCash.Sub(computed)

	terminal := decimal.Zero
	if terminalCard != nil {
		terminal = *terminalCard
	}
	cardDiff := terminal.Sub(posCardTotal)

	material := cashDiff.Abs().GreaterThan(s.cashThreshold) ||
		cardDiff.Abs().GreaterThan(s.cardThreshold) ||
		riskScore >= s.riskLimit

	return dto.ReconciliationView{
		Snapshot:                 snapshot,
		ExpectedCashComputedBase: base,
		ExpectedCashComputed:     computed,
		CashRefundTotal:          cashRefundTotal,
		CashDifference:           cashDiff,
		CardDifference:           cardDiff,
		RiskScore:                riskScore,
		Material:                 material,
	}
}
