package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Timeline sources (heterogeneous collaborator rows) ──────────────────────

// RegisterLogEvent is a raw register log row.
// Type: "entry" | "expense" | "change" | "sale" | "open" | "close".
type RegisterLogEvent struct {
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Note      *string         `json:"note"`
	CreatedAt time.Time       `json:"created_at"`
}

// ExpenseRow is a bookkeeping expense. Cash-tagged rows belong to the cash
// reconciliation math and are excluded from the manual timeline feed.
type ExpenseRow struct {
	Amount        decimal.Decimal `json:"amount"`
	Note          *string         `json:"note"`
	Type          string          `json:"type"`
	PaymentMethod string          `json:"payment_method"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CashPayment is a supplier or staff cash payment row.
type CashPayment struct {
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Note      *string         `json:"note"`
	CreatedAt time.Time       `json:"created_at"`
}

// RegisterHistoryRow is one day of the cash-register-history report.
type RegisterHistoryRow struct {
	Date            string `json:"date"`
	RegisterEntries int    `json:"register_entries"`
}

// ─── Normalized feed ─────────────────────────────────────────────────────────

// Timeline event sources.
const (
	SourceRegisterLog     = "register_log"
	SourceExpense         = "expense"
	SourceSupplierPayment = "supplier_payment"
	SourceStaffPayment    = "staff_payment"
)

// TimelineEvent is the common projection every source normalizes to before
// the chronological merge.
type TimelineEvent struct {
	Source    string          `json:"source"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Note      *string         `json:"note"`
	CreatedAt time.Time       `json:"created_at"`
}

// TimelineResponse is the combined register timeline for one calendar day.
type TimelineResponse struct {
	Events          []TimelineEvent `json:"events"`
	CashRefundTotal decimal.Decimal `json:"cash_refund_total"`
	RegisterEntries int             `json:"register_entries"`
}
