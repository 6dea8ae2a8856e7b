package dto

import "github.com/shopspring/decimal"

// ─── Terminal Z-report (OCR collaborator contract) ───────────────────────────

// ExtractedTotals are the figures parsed out of one terminal slip, or the
// aggregate over all accumulated slips. A nil field was not detected.
type ExtractedTotals struct {
	CardTotal   *decimal.Decimal `json:"card_total"`
	CashTotal   *decimal.Decimal `json:"cash_total"`
	GrandTotal  *decimal.Decimal `json:"grand_total"`
	TxCount     *int             `json:"tx_count"`
	RefundTotal *decimal.Decimal `json:"refund_total"`
	Currency    string           `json:"currency"`
}

// ParseConfidence qualifies the extraction. Overall: "low" | "medium" | "high".
// UsedDetected is set only on the close payload, recording whether the
// detected values were actually applied to the submitted fields.
type ParseConfidence struct {
	Overall      string  `json:"overall"`
	CardTotal    float64 `json:"card_total"`
	TxCount      float64 `json:"tx_count"`
	UsedDetected *bool   `json:"used_detected,omitempty"`
}

// ParsedReport is one file's extraction result from the OCR service.
type ParsedReport struct {
	FileName   string                 `json:"file_name"`
	ReportURL  string                 `json:"report_url"`
	Extracted  ExtractedTotals        `json:"extracted"`
	Confidence ParseConfidence        `json:"confidence"`
	Raw        map[string]interface{} `json:"raw"`
}

// ParseResponse is the OCR service response for one upload batch.
type ParseResponse struct {
	Reports    []ParsedReport   `json:"reports"`
	ReportURLs []string         `json:"report_urls"`
	Confidence *ParseConfidence `json:"confidence"`
}

// ─── Accumulated engine state ────────────────────────────────────────────────

// TerminalReceiptDetail is one accumulated uploaded receipt. IDs are
// client-assigned, sequential, continuing from the current maximum.
// ReceiptGroup: "table" | "delivery".
type TerminalReceiptDetail struct {
	ID           int             `json:"id"`
	FileName     string          `json:"file_name"`
	ReportURL    string          `json:"report_url"`
	PreviewPath  string          `json:"preview_path,omitempty"`
	ReceiptGroup string          `json:"receipt_group"`
	Extracted    ExtractedTotals `json:"extracted"`
	Confidence   ParseConfidence `json:"confidence"`
	BankName     string          `json:"bank_name,omitempty"`
}

// TerminalOverrides are the editable close-out fields. Monetary values are
// kept as 2-decimal strings; empty means "operator did not reconcile this".
type TerminalOverrides struct {
	CardTotal   string `json:"card_total"`
	TxCount     string `json:"tx_count"`
	RefundTotal string `json:"refund_total"`
	CashTotal   string `json:"cash_total"`
	GrandTotal  string `json:"grand_total"`
}

// SplitCardDiff is the per-channel card difference: detected terminal totals
// minus POS totals, table vs delivery(+phone+takeaway+unknown).
type SplitCardDiff struct {
	Table    decimal.Decimal `json:"table"`
	Delivery decimal.Decimal `json:"delivery"`
}

// ZReportState is the full accumulated Z-report engine state.
type ZReportState struct {
	Details           []TerminalReceiptDetail `json:"details"`
	ReportURL         string                  `json:"report_url"`
	ReportURLs        []string                `json:"report_urls"`
	Detected          *ExtractedTotals        `json:"detected"`
	Confidence        *ParseConfidence        `json:"confidence"`
	UseDetectedValues bool                    `json:"use_detected_values"`
	Overrides         TerminalOverrides       `json:"overrides"`
	TableReceipts     int                     `json:"table_receipts"`
	DeliveryReceipts  int                     `json:"delivery_receipts"`
}

type UseDetectedRequest struct {
	Enabled bool `json:"enabled"`
}

// OverrideRequest edits one operator-editable close-out field. Value is kept
// as entered; parsing happens at close time.
type OverrideRequest struct {
	Field string `json:"field" validate:"required,oneof=card_total tx_count refund_total cash_total grand_total"`
	Value string `json:"value"`
}
