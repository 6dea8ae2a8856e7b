package infra

// pdf.go — Close-out summary PDF generation using go-pdf/fpdf.
// Produces an A7-size receipt-style close-out slip with:
//   - Venue header and close timestamp
//   - Expected vs counted cash with the difference
//   - POS vs terminal card totals with the difference
//   - Risk score line
//   - Terminal report reference, if a slip was uploaded
//
// The output file is saved to storagePath/closeout_{timestamp}.pdf.

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// CloseOutReport is the figure set printed on the close-out slip.
type CloseOutReport struct {
	CountedCashTotal  decimal.Decimal
	ExpectedCashTotal decimal.Decimal
	CashDifference    decimal.Decimal
	POSCardTotal      decimal.Decimal
	TerminalCardTotal *decimal.Decimal
	CardDifference    decimal.Decimal
	RiskScore         int
	TerminalReportURL string
	ClosedAt          time.Time
}

// GenerateCloseOutPDF renders the close-out slip and returns the absolute
// path to the generated file.
func GenerateCloseOutPDF(report CloseOutReport, storagePath string) (string, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return "", fmt.Errorf("pdf: create storage dir: %w", err)
	}

	fileName := fmt.Sprintf("closeout_%d.pdf", report.ClosedAt.Unix())
	filePath := filepath.Join(storagePath, fileName)

	// A7 ≈ 74mm × 105mm — close to thermal receipt paper
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: 74, Ht: 105},
	})
	pdf.SetMargins(4, 4, 4)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 8 // total margins = 8mm

	// ── Header ───────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(contentW, 7, "Beypro POS", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(contentW, 5, "Register Close-Out", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 7)
	pdf.CellFormat(contentW, 4, report.ClosedAt.Format("02/01/2006  15:04"), "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(2)

	col1 := contentW * 0.62
	col2 := contentW * 0.38

	row := func(label, value string, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 8)
		pdf.CellFormat(col1, 5, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(col2, 5, value, "", 1, "R", false, 0, "")
	}

	// ── Cash ─────────────────────────────────────────────────────────────────
	row("Expected cash:", report.ExpectedCashTotal.StringFixed(2), false)
	row("Counted cash:", report.CountedCashTotal.StringFixed(2), false)
	row("Cash difference:", report.CashDifference.StringFixed(2), true)
	pdf.Ln(1)

	// ── Card ─────────────────────────────────────────────────────────────────
	row("POS card total:", report.POSCardTotal.StringFixed(2), false)
	if report.TerminalCardTotal != nil {
		row("Terminal card total:", report.TerminalCardTotal.StringFixed(2), false)
		row("Card difference:", report.CardDifference.StringFixed(2), true)
	} else {
		row("Terminal card total:", "not reconciled", false)
	}
	pdf.Ln(1)

	row("Risk score:", fmt.Sprintf("%d / 100", report.RiskScore), false)

	if report.TerminalReportURL != "" {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "I", 6)
		pdf.MultiCell(contentW, 3.5, "Terminal slip: "+report.TerminalReportURL, "", "L", false)
	}

	pdf.Ln(3)
	pdf.SetFont("Helvetica", "I", 7)
	pdf.CellFormat(contentW, 4, "Keep with the day's paperwork.", "", 1, "C", false, 0, "")

	if err := pdf.OutputFileAndClose(filePath); err != nil {
		return "", fmt.Errorf("pdf: write file: %w", err)
	}

	return filePath, nil
}
