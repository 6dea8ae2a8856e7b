package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/cache"
	"github.com/beyproweb/beypro-pos-sub005/internal/dto"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Cache keys and TTLs for the register data caches. The status call has its
// own short sub-cache so a quickly reopened close-out screen coalesces on one
// request instead of refetching.
const (
	statusCacheKey  = "register:status"
	summaryCacheKey = "register:summary"

	statusTTL  = 5 * time.Second
	summaryTTL = 30 * time.Second
)

// StatusAPI is the slice of the POS backend the status store consumes.
type StatusAPI interface {
	FetchStatus(ctx context.Context) (*dto.RegisterStatusResponse, error)
	FetchDailyCashTotal(ctx context.Context, openTime string) (decimal.Decimal, error)
	FetchDailyCashExpenses(ctx context.Context, openTime string) (decimal.Decimal, error)
	FetchExtraExpenses(ctx context.Context, day string) ([]dto.ExpenseRow, error)
}

// Session is the in-memory mirror of the register session. It is rebuilt from
// server truth on every status refresh — client memory is never trusted
// across restarts.
// State: "loading" | "unopened" | "closed" | "open".
type Session struct {
	State              string
	OpeningCash        *decimal.Decimal
	ExpectedCash       decimal.Decimal
	DailyCashExpense   decimal.Decimal
	YesterdayCloseCash *decimal.Decimal
	LastOpenAt         string
}

// Open reports whether the session currently has an open window.
func (s Session) Open() bool { return s.State == "open" }

// StatusService owns the session mirror and the status/summary caches.
type StatusService struct {
	api   StatusAPI
	cache cache.Store

	mu      sync.RWMutex
	session Session
}

func NewStatusService(api StatusAPI, store cache.Store) *StatusService {
	return &StatusService{
		api:   api,
		cache: store,
		session: Session{
			State: "loading",
		},
	}
}

// Session returns a copy of the current session mirror.
func (s *StatusService) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// RefreshStatus fetches the register status through the 5-second sub-cache
// and applies it to the session mirror. On failure the mirror is left
// untouched: the caller surfaces the error, nothing else changes.
func (s *StatusService) RefreshStatus(ctx context.Context, forceFresh bool) (*dto.RegisterStatusResponse, error) {
	if forceFresh {
		s.cache.Invalidate(statusCacheKey)
	}
	v, err := s.cache.Do(statusCacheKey, statusTTL, func() (interface{}, error) {
		return s.api.FetchStatus(ctx)
	})
	if err != nil {
		return nil, err
	}
	status := v.(*dto.RegisterStatusResponse)
	s.applyStatus(status)
	return status, nil
}

func (s *StatusService) applyStatus(status *dto.RegisterStatusResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.State = strings.ToLower(status.Status)
	s.session.YesterdayCloseCash = status.YesterdayClose
	s.session.LastOpenAt = status.LastOpenAt
	// Opening cash is meaningful only while the register is open.
	if s.session.State == "open" {
		s.session.OpeningCash = status.OpeningCash
	} else {
		s.session.OpeningCash = nil
	}
}

// InitializeSummary loads the cached-or-fresh first-paint bundle: register
// state plus opening/expected cash and yesterday's close. The bundle has its
// own 30-second cache with in-flight coalescing; the status call underneath
// still goes through the 5-second sub-cache.
func (s *StatusService) InitializeSummary(ctx context.Context) (*dto.RegisterSummaryResponse, error) {
	v, err := s.cache.Do(summaryCacheKey, summaryTTL, func() (interface{}, error) {
		return s.buildSummary(ctx)
	})
	if err != nil {
		return nil, err
	}
	summary := v.(*dto.RegisterSummaryResponse)

	s.mu.Lock()
	s.session.State = summary.RegisterState
	s.session.OpeningCash = summary.OpeningCash
	s.session.ExpectedCash = summary.ExpectedCash
	s.session.DailyCashExpense = summary.DailyCashExpense
	s.session.YesterdayCloseCash = summary.YesterdayCloseCash
	s.session.LastOpenAt = summary.LastOpenAt
	s.mu.Unlock()

	return summary, nil
}

// buildSummary composes the summary from the status plus, for an open window,
// three cash aggregates fetched concurrently. Each aggregate fails open to
// zero — the summary is an opportunistic first paint, not an audit figure.
func (s *StatusService) buildSummary(ctx context.Context) (*dto.RegisterSummaryResponse, error) {
	status, err := s.RefreshStatus(ctx, false)
	if err != nil {
		return nil, err
	}

	summary := &dto.RegisterSummaryResponse{
		RegisterState:      strings.ToLower(status.Status),
		YesterdayCloseCash: status.YesterdayClose,
		LastOpenAt:         status.LastOpenAt,
		ExpectedCash:       decimal.Zero,
		DailyCashExpense:   decimal.Zero,
	}
	if summary.RegisterState == "open" {
		summary.OpeningCash = status.OpeningCash
	}

	if summary.RegisterState != "open" || summary.LastOpenAt == "" {
		return summary, nil
	}

	var (
		wg            sync.WaitGroup
		cashSales     decimal.Decimal
		dailyExpenses decimal.Decimal
		extraExpenses decimal.Decimal
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		total, err := s.api.FetchDailyCashTotal(ctx, summary.LastOpenAt)
		if err != nil {
			log.Warn().Err(err).Msg("status: daily cash total unavailable")
			return
		}
		cashSales = total
	}()
	go func() {
		defer wg.Done()
		total, err := s.api.FetchDailyCashExpenses(ctx, summary.LastOpenAt)
		if err != nil {
			log.Warn().Err(err).Msg("status: daily cash expenses unavailable")
			return
		}
		dailyExpenses = total
	}()
	go func() {
		defer wg.Done()
		rows, err := s.api.FetchExtraExpenses(ctx, localDay(time.Now()))
		if err != nil {
			log.Warn().Err(err).Msg("status: extra expenses unavailable")
			return
		}
		for _, row := range rows {
			extraExpenses = extraExpenses.Add(row.Amount)
		}
	}()
	wg.Wait()

	summary.ExpectedCash = cashSales
	summary.DailyCashExpense = dailyExpenses.Add(extraExpenses)
	return summary, nil
}

// SetExpectedCash lets the reconciliation engine push the authoritative
// expected-cash figure into the mirror.
func (s *StatusService) SetExpectedCash(expected decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.ExpectedCash = expected
}

// ClearLastOpenAt drops the session window key. Called before an open
// transition resolves so no engine queries with the prior session's window.
func (s *StatusService) ClearLastOpenAt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.LastOpenAt = ""
}

// MarkOpened applies a confirmed open transition to the mirror.
func (s *StatusService) MarkOpened(openingCash decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.State = "open"
	s.session.OpeningCash = &openingCash
}

// MarkClosed applies a confirmed close transition: state flips, working
// fields clear, and yesterday's close is seeded from the just-counted cash so
// an immediate reopen shows the correct comparison baseline without a refetch.
func (s *StatusService) MarkClosed(countedCash decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.State = "closed"
	s.session.OpeningCash = nil
	s.session.ExpectedCash = decimal.Zero
	s.session.DailyCashExpense = decimal.Zero
	s.session.YesterdayCloseCash = &countedCash
}

// InvalidateCaches drops the status and summary caches so the next read hits
// the backend.
func (s *StatusService) InvalidateCaches() {
	s.cache.Invalidate(statusCacheKey)
	s.cache.Invalidate(summaryCacheKey)
}

// localDay renders a time as the local YYYY-MM-DD key used by the per-day
// caches and the expense reports.
func localDay(t time.Time) string {
	return t.Format("2006-01-02")
}
