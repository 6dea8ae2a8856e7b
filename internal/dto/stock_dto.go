package dto

import "github.com/shopspring/decimal"

// StockVarianceReport is the expected-vs-actual stock variance for the open
// session window. A missing report is rendered as "no discrepancies".
type StockVarianceReport struct {
	Items   []StockVarianceItem  `json:"items"`
	Summary StockVarianceSummary `json:"summary"`
}

type StockVarianceItem struct {
	IngredientID   int64           `json:"ingredient_id"`
	IngredientName string          `json:"ingredient_name"`
	VarianceQty    decimal.Decimal `json:"variance_qty"`
	Unit           string          `json:"unit"`
	VarianceValue  decimal.Decimal `json:"variance_value"`
}

type StockVarianceSummary struct {
	VarianceValueTotal         decimal.Decimal `json:"variance_value_total"`
	NegativeVarianceValueTotal decimal.Decimal `json:"negative_variance_value_total"`
	PositiveVarianceValueTotal decimal.Decimal `json:"positive_variance_value_total"`
}
