package dto

import "github.com/shopspring/decimal"

// ─── Reconciliation snapshot (collaborator contract) ─────────────────────────

// ReconciliationSnapshot is the reconciliation service response for one
// session window. SnapshotMode: "essential" (fast, immediately displayable)
// or "full" (accurate; replaces the essential snapshot when it arrives).
type ReconciliationSnapshot struct {
	CashReconciliation CashReconciliation `json:"cashReconciliation"`
	POSTotals          POSTotals          `json:"posTotals"`
	CardByOrderType    CardBreakdown      `json:"cardByOrderType"`
	Risk               RiskAssessment     `json:"risk"`
	OpsSignals         OpsSignals         `json:"opsSignals"`
	SnapshotMode       string             `json:"snapshot_mode"`
}

type CashReconciliation struct {
	ExpectedCashTotal *decimal.Decimal `json:"expected_cash_total"`
	OpeningFloat      *decimal.Decimal `json:"opening_float"`
}

type POSTotals struct {
	CardTotal  decimal.Decimal `json:"card_total"`
	CashTotal  decimal.Decimal `json:"cash_total"`
	OtherTotal decimal.Decimal `json:"other_total"`
}

// CardBreakdown splits POS card totals per order channel. Receipts for table
// orders and for delivery-style orders are batched separately at close time,
// so the channels reconcile independently.
type CardBreakdown struct {
	Table      CardChannel     `json:"table"`
	Delivery   CardChannel     `json:"delivery"`
	Phone      CardChannel     `json:"phone"`
	Takeaway   CardChannel     `json:"takeaway"`
	Unknown    CardChannel     `json:"unknown"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

type CardChannel struct {
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// RiskAssessment is an opaque upstream contract: the scoring formula lives in
// the reconciliation collaborator. Only RiskScore (0–100) is thresholded here.
type RiskAssessment struct {
	RiskScore int        `json:"risk_score"`
	Flags     []RiskFlag `json:"flags"`
}

type RiskFlag struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Label    string `json:"label"`
	Detail   string `json:"detail"`
}

type OpsSignals struct {
	VoidCount                int             `json:"void_count"`
	VoidTotal                decimal.Decimal `json:"void_total"`
	DiscountTotal            decimal.Decimal `json:"discount_total"`
	CancelledCount           int             `json:"cancelled_count"`
	PaymentMethodChangeCount int             `json:"payment_method_change_count"`
}

// ─── Derived view (computed, never stored) ───────────────────────────────────

// ReconciliationView is the snapshot plus the client-side derived figures the
// close-out screen needs.
type ReconciliationView struct {
	Snapshot                 *ReconciliationSnapshot `json:"snapshot"`
	ExpectedCashComputedBase decimal.Decimal         `json:"expected_cash_computed_base"`
	ExpectedCashComputed     decimal.Decimal         `json:"expected_cash_computed"`
	CashRefundTotal          decimal.Decimal         `json:"cash_refund_total"`
	CashDifference           decimal.Decimal         `json:"cash_difference"`
	CardDifference           decimal.Decimal         `json:"card_difference"`
	RiskScore                int                     `json:"risk_score"`
	Material                 bool                    `json:"material"`
}
