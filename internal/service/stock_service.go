package service

import (
	"context"
	"errors"
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/cache"
	"github.com/beyproweb/beypro-pos-sub005/internal/dto"

	"github.com/rs/zerolog/log"
)

const (
	stockTTL     = 60 * time.Second
	stockTimeout = 12 * time.Second
)

// StockAPI is the slice of the POS backend the stock variance panel consumes.
type StockAPI interface {
	FetchStockDiscrepancy(ctx context.Context, openTime string) (*dto.StockVarianceReport, error)
}

// StockService loads the per-window stock variance report. The report is
// advisory at close time, so every failure degrades to "no report" rather
// than blocking: the timeout here is tighter than the reconciliation one.
type StockService struct {
	api   StockAPI
	cache cache.Store
}

func NewStockService(api StockAPI, store cache.Store) *StockService {
	return &StockService{api: api, cache: store}
}

// Fetch returns the stock variance report for openTime, or nil when the
// collaborator fails or the deadline passes. Results are cached for a minute
// per session window.
func (s *StockService) Fetch(ctx context.Context, openTime string) *dto.StockVarianceReport {
	if openTime == "" {
		return nil
	}
	v, err := s.cache.Do("stock:"+openTime, stockTTL, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, stockTimeout)
		defer cancel()
		report, err := s.api.FetchStockDiscrepancy(ctx, openTime)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrRequestTimeout
			}
			return nil, err
		}
		return report, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("open_time", openTime).Msg("stock: variance report unavailable")
		return nil
	}
	return v.(*dto.StockVarianceReport)
}

// Invalidate drops the cached report for one session window.
func (s *StockService) Invalidate(openTime string) {
	s.cache.Invalidate("stock:" + openTime)
}
