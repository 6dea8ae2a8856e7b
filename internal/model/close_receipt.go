package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CloseReceipt is the local audit row persisted after every successful close.
// The POS backend remains the source of truth; this row only lets the
// "last close" panel survive a restart without a collaborator round-trip.
type CloseReceipt struct {
	ID                uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CountedCashTotal  decimal.Decimal  `gorm:"type:decimal(12,2);not null"`
	ExpectedCashTotal *decimal.Decimal `gorm:"type:decimal(12,2)"`
	CashDifference    *decimal.Decimal `gorm:"type:decimal(12,2)"`
	CardDifference    *decimal.Decimal `gorm:"type:decimal(12,2)"`
	RiskScore         int              `gorm:"not null;default:0"`
	TerminalReportURL *string
	// ParseConfidence is the JSON-encoded confidence object as submitted,
	// including the used_detected annotation.
	ParseConfidence []byte `gorm:"type:jsonb"`
	UsedDetected    bool   `gorm:"not null;default:false"`
	ClosedAt        time.Time
	CreatedAt       time.Time
}

// TerminalReceipt is the audit row for one uploaded terminal slip.
// ReceiptGroup: "table" | "delivery".
type TerminalReceipt struct {
	ID                uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	FileName          string           `gorm:"not null"`
	ReportURL         string           `gorm:"not null"`
	ReceiptGroup      string           `gorm:"type:varchar(20);not null;default:'table'"`
	CardTotal         *decimal.Decimal `gorm:"type:decimal(12,2)"`
	CashTotal         *decimal.Decimal `gorm:"type:decimal(12,2)"`
	GrandTotal        *decimal.Decimal `gorm:"type:decimal(12,2)"`
	TxCount           *int
	RefundTotal       *decimal.Decimal `gorm:"type:decimal(12,2)"`
	ConfidenceOverall string           `gorm:"type:varchar(10)"`
	BankName          string
	SessionOpenAt     string `gorm:"index"`
	CreatedAt         time.Time
}
