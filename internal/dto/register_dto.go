package dto

import "github.com/shopspring/decimal"

// ─── Session status ──────────────────────────────────────────────────────────

// RegisterStatusResponse mirrors the session status collaborator.
// Status: "unopened" | "closed" | "open".
type RegisterStatusResponse struct {
	Status         string           `json:"status"`
	OpeningCash    *decimal.Decimal `json:"opening_cash"`
	YesterdayClose *decimal.Decimal `json:"yesterday_close"`
	LastOpenAt     string           `json:"last_open_at"`
}

// RegisterSummaryResponse is the first-paint bundle served from the 30-second
// summary cache. ExpectedCash and DailyCashExpense are populated only while
// the register is open.
type RegisterSummaryResponse struct {
	RegisterState      string           `json:"register_state"`
	OpeningCash        *decimal.Decimal `json:"opening_cash"`
	ExpectedCash       decimal.Decimal  `json:"expected_cash"`
	DailyCashExpense   decimal.Decimal  `json:"daily_cash_expense"`
	YesterdayCloseCash *decimal.Decimal `json:"yesterday_close_cash"`
	LastOpenAt         string           `json:"last_open_at"`
}

// ─── Open / close requests ───────────────────────────────────────────────────

type OpenRegisterRequest struct {
	OpeningCash decimal.Decimal `json:"opening_cash" validate:"min=0"`
}

type OpenRegisterResponse struct {
	Status      string `json:"status"`
	RedirectTab string `json:"redirect_tab"`
}

// CloseRegisterRequest carries the counted drawer plus the optional terminal
// reconciliation fields. A nil terminal field means the operator did not
// reconcile that value; it is omitted from the close log entirely.
type CloseRegisterRequest struct {
	CountedCashTotal    decimal.Decimal  `json:"counted_cash_total" validate:"min=0"`
	ConfirmDiscrepancy  bool             `json:"confirm_discrepancy"`
	TerminalCardTotal   *decimal.Decimal `json:"terminal_card_total"`
	TerminalTxCount     *int             `json:"terminal_tx_count"`
	TerminalRefundTotal *decimal.Decimal `json:"terminal_refund_total"`
	TerminalCashTotal   *decimal.Decimal `json:"terminal_cash_total"`
	TerminalGrandTotal  *decimal.Decimal `json:"terminal_grand_total"`
}

type CloseRegisterResponse struct {
	Status            string `json:"status"`
	TerminalReportURL string `json:"terminal_report_url,omitempty"`
	ClosedAt          string `json:"closed_at,omitempty"`
}

// MovementRequest is a manual register log write (cash entry, expense, change
// given). All register-affecting actions share the single log write path.
type MovementRequest struct {
	Type   string          `json:"type"   validate:"required,oneof=entry expense change"`
	Amount decimal.Decimal `json:"amount" validate:"required"`
	Note   *string         `json:"note"`
}

// ─── Register log collaborator wire types ────────────────────────────────────

// LogEventRequest is the single write payload of the register log service.
// Type: "open" | "close" | "entry" | "expense" | "change" | "sale".
// Optional fields are sent only when present — absence means the operator did
// not reconcile that field.
type LogEventRequest struct {
	Type                    string           `json:"type"`
	Amount                  decimal.Decimal  `json:"amount"`
	Note                    *string          `json:"note,omitempty"`
	CountedCashTotal        *decimal.Decimal `json:"counted_cash_total,omitempty"`
	TerminalCardTotal       *decimal.Decimal `json:"terminal_card_total,omitempty"`
	TerminalTxCount         *int             `json:"terminal_tx_count,omitempty"`
	TerminalRefundTotal     *decimal.Decimal `json:"terminal_refund_total,omitempty"`
	TerminalCashTotal       *decimal.Decimal `json:"terminal_cash_total,omitempty"`
	TerminalGrandTotal      *decimal.Decimal `json:"terminal_grand_total,omitempty"`
	TerminalReportURL       *string          `json:"terminal_report_url,omitempty"`
	TerminalParseConfidence *ParseConfidence `json:"terminal_parse_confidence,omitempty"`
}

type LogEventResponse struct {
	Log RegisterLogRecord `json:"log"`
}

type RegisterLogRecord struct {
	ID                int64           `json:"id"`
	Type              string          `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	TerminalReportURL string          `json:"terminal_report_url,omitempty"`
	CreatedAt         string          `json:"created_at"`
}

// LastCloseRow is one row of the last-register-closes report.
type LastCloseRow struct {
	TerminalReportURL string          `json:"terminal_report_url"`
	CountedCashTotal  decimal.Decimal `json:"counted_cash_total"`
	CreatedAt         string          `json:"created_at"`
}

// ─── Orders (close-failure recovery only) ────────────────────────────────────

// Order is the subset of the orders service row needed to route the operator
// to the blocking order after a rejected close.
type Order struct {
	ID            int64       `json:"id"`
	Status        string      `json:"status"`
	OrderType     string      `json:"order_type"`
	PaymentStatus string      `json:"payment_status"`
	IsPaid        bool        `json:"is_paid"`
	TableNumber   *int        `json:"table_number"`
	Items         []OrderItem `json:"items"`
	Suborders     []Suborder  `json:"suborders"`
}

type OrderItem struct {
	PaidAt *string `json:"paid_at"`
	Paid   bool    `json:"paid"`
}

type Suborder struct {
	Items []OrderItem `json:"items"`
}
