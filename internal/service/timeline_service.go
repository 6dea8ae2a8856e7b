package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/cache"
	"github.com/beyproweb/beypro-pos-sub005/internal/dto"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const timelineTTL = 30 * time.Second

// TimelineAPI is the slice of the POS backend the timeline aggregator
// consumes.
type TimelineAPI interface {
	FetchRegisterEvents(ctx context.Context, from, to string) ([]dto.RegisterLogEvent, error)
	FetchExpenses(ctx context.Context, from, to string) ([]dto.ExpenseRow, error)
	FetchSupplierCashPayments(ctx context.Context, from, to string) ([]dto.CashPayment, error)
	FetchStaffCashPayments(ctx context.Context, from, to string) ([]dto.CashPayment, error)
	FetchRegisterHistory(ctx context.Context, from, to string) ([]dto.RegisterHistoryRow, error)
}

// registerLogs is the cached pair of register events and expense rows for one
// calendar day.
type registerLogs struct {
	Events   []dto.RegisterLogEvent
	Expenses []dto.ExpenseRow
}

type cashPayments struct {
	Supplier []dto.CashPayment
	Staff    []dto.CashPayment
}

// TimelineService collects register-log events, expenses and supplier/staff
// cash payments into one chronologically sorted feed. Each source is cached
// per calendar day and wrapped independently: a timeline with partial data is
// acceptable, so one failed source never blanks the others.
type TimelineService struct {
	api   TimelineAPI
	cache cache.Store
}

func NewTimelineService(api TimelineAPI, store cache.Store) *TimelineService {
	return &TimelineService{api: api, cache: store}
}

// Logs returns the day's register events and expense rows. Each of the two
// fetches fails soft to an empty slice.
func (s *TimelineService) Logs(ctx context.Context, day string) registerLogs {
	v, err := s.cache.Do("timeline:logs:"+day, timelineTTL, func() (interface{}, error) {
		logs := registerLogs{}
		if events, err := s.api.FetchRegisterEvents(ctx, day, day); err != nil {
			log.Error().Err(err).Str("day", day).Msg("timeline: register events unavailable")
		} else {
			logs.Events = events
		}
		if expenses, err := s.api.FetchExpenses(ctx, day, day); err != nil {
			log.Error().Err(err).Str("day", day).Msg("timeline: expenses unavailable")
		} else {
			logs.Expenses = expenses
		}
		return logs, nil
	})
	if err != nil {
		return registerLogs{}
	}
	return v.(registerLogs)
}

// Payments returns the day's supplier and staff cash payments, each fetch
// failing soft to an empty slice.
func (s *TimelineService) Payments(ctx context.Context, day string) cashPayments {
	v, err := s.cache.Do("timeline:payments:"+day, timelineTTL, func() (interface{}, error) {
		payments := cashPayments{}
		if supplier, err := s.api.FetchSupplierCashPayments(ctx, day, day); err != nil {
			log.Error().Err(err).Str("day", day).Msg("timeline: supplier payments unavailable")
		} else {
			payments.Supplier = supplier
		}
		if staff, err := s.api.FetchStaffCashPayments(ctx, day, day); err != nil {
			log.Error().Err(err).Str("day", day).Msg("timeline: staff payments unavailable")
		} else {
			payments.Staff = staff
		}
		return payments, nil
	})
	if err != nil {
		return cashPayments{}
	}
	return v.(cashPayments)
}

// Entries returns the day's manual register-entry count from the history
// report, failing soft to zero.
func (s *TimelineService) Entries(ctx context.Context, day string) int {
	v, err := s.cache.Do("timeline:entries:"+day, timelineTTL, func() (interface{}, error) {
		rows, err := s.api.FetchRegisterHistory(ctx, day, day)
		if err != nil {
			log.Error().Err(err).Str("day", day).Msg("timeline: register history unavailable")
			return 0, nil
		}
		for _, row := range rows {
			if row.Date == day {
				return row.RegisterEntries, nil
			}
		}
		return 0, nil
	})
	if err != nil {
		return 0
	}
	return v.(int)
}

// CombinedEvents merges all sources into the common projection, sorted
// ascending by created_at. Cash-tagged expenses are excluded — they belong to
// the cash reconciliation math, not the manual log.
func (s *TimelineService) CombinedEvents(ctx context.Context, day string) []dto.TimelineEvent {
	logs := s.Logs(ctx, day)
	payments := s.Payments(ctx, day)

	events := make([]dto.TimelineEvent, 0,
		len(logs.Events)+len(logs.Expenses)+len(payments.Supplier)+len(payments.Staff))

	for _, ev := range logs.Events {
		events = append(events, normalizeRegisterEvent(ev))
	}
	for _, exp := range logs.Expenses {
		if strings.EqualFold(exp.PaymentMethod, "cash") {
			continue
		}
		events = append(events, normalizeExpense(exp))
	}
	for _, p := range payments.Supplier {
		events = append(events, normalizePayment(p, dto.SourceSupplierPayment))
	}
	for _, p := range payments.Staff {
		events = append(events, normalizePayment(p, dto.SourceStaffPayment))
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events
}

// CashRefundTotal sums the day's cash-refund register events. The figure is
// subtracted from the base expected cash so refunded cash is not double
// counted as still in the drawer.
func (s *TimelineService) CashRefundTotal(ctx context.Context, day string) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range s.Logs(ctx, day).Events {
		if IsRefundEvent(ev) {
			total = total.Add(ev.Amount)
		}
	}
	return total
}

// Timeline assembles the full per-day response.
func (s *TimelineService) Timeline(ctx context.Context, day string) dto.TimelineResponse {
	return dto.TimelineResponse{
		Events:          s.CombinedEvents(ctx, day),
		CashRefundTotal: s.CashRefundTotal(ctx, day),
		RegisterEntries: s.Entries(ctx, day),
	}
}

// InvalidateDay drops the day's timeline caches after a manual log write.
func (s *TimelineService) InvalidateDay(day string) {
	s.cache.Invalidate("timeline:logs:" + day)
	s.cache.Invalidate("timeline:payments:" + day)
	s.cache.Invalidate("timeline:entries:" + day)
}

// IsRefundEvent classifies a register event as a cash refund: an expense
// whose note mentions "refund" or "iade" (Turkish), case-insensitive.
func IsRefundEvent(ev dto.RegisterLogEvent) bool {
	if !strings.EqualFold(strings.TrimSpace(ev.Type), "expense") {
		return false
	}
	if ev.Note == nil {
		return false
	}
	note := strings.ToLower(strings.TrimSpace(*ev.Note))
	return strings.Contains(note, "refund") || strings.Contains(note, "iade")
}

// ─── Normalization (one projection per source variant) ───────────────────────

func normalizeRegisterEvent(ev dto.RegisterLogEvent) dto.TimelineEvent {
	return dto.TimelineEvent{
		Source:    dto.SourceRegisterLog,
		Type:      ev.Type,
		Amount:    ev.Amount,
		Note:      ev.Note,
		CreatedAt: ev.CreatedAt,
	}
}

func normalizeExpense(exp dto.ExpenseRow) dto.TimelineEvent {
	note := exp.Note
	if note == nil && exp.Type != "" {
		t := exp.Type
		note = &t
	}
	return dto.TimelineEvent{
		Source:    dto.SourceExpense,
		Type:      "expense",
		Amount:    exp.Amount,
		Note:      note,
		CreatedAt: exp.CreatedAt,
	}
}

func normalizePayment(p dto.CashPayment, source string) dto.TimelineEvent {
	typ := p.Type
	if typ == "" {
		typ = source
	}
	return dto.TimelineEvent{
		Source:    source,
		Type:      typ,
		Amount:    p.Amount,
		Note:      p.Note,
		CreatedAt: p.CreatedAt,
	}
}
