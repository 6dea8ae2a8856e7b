package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/dto"

	"github.com/shopspring/decimal"
)

// UpstreamError carries the POS backend's rejection message so callers can
// branch on business-rule rejections (e.g. "cannot close with open orders").
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("pos backend returned %d", e.Status)
}

// ReportsClient talks to the POS backend's report, register-log and orders
// services. Per-call deadlines come from the caller's context; the transport
// timeout is only a safety net.
type ReportsClient struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

func NewReportsClient(baseURL, serviceToken string) *ReportsClient {
	return &ReportsClient{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
	}
}

// ─── Session status ──────────────────────────────────────────────────────────

func (c *ReportsClient) FetchStatus(ctx context.Context) (*dto.RegisterStatusResponse, error) {
	var out dto.RegisterStatusResponse
	if err := c.getJSON(ctx, "/reports/cash-register-status", nil, &out); err != nil {
		return nil, fmt.Errorf("reports: status: %w", err)
	}
	return &out, nil
}

// ─── Summary sub-fetches ─────────────────────────────────────────────────────

func (c *ReportsClient) FetchDailyCashTotal(ctx context.Context, openTime string) (decimal.Decimal, error) {
	var out struct {
		CashTotal decimal.Decimal `json:"cash_total"`
	}
	q := url.Values{"openTime": {openTime}}
	if err := c.getJSON(ctx, "/reports/daily-cash-total", q, &out); err != nil {
		return decimal.Zero, fmt.Errorf("reports: daily cash total: %w", err)
	}
	return out.CashTotal, nil
}

func (c *ReportsClient) FetchDailyCashExpenses(ctx context.Context, openTime string) (decimal.Decimal, error) {
	var out []struct {
		TotalExpense decimal.Decimal `json:"total_expense"`
	}
	q := url.Values{"openTime": {openTime}}
	if err := c.getJSON(ctx, "/reports/daily-cash-expenses", q, &out); err != nil {
		return decimal.Zero, fmt.Errorf("reports: daily cash expenses: %w", err)
	}
	if len(out) == 0 {
		return decimal.Zero, nil
	}
	return out[0].TotalExpense, nil
}

// FetchExtraExpenses lists bookkeeping expenses for one day (the summary's
// out-of-register expense component).
func (c *ReportsClient) FetchExtraExpenses(ctx context.Context, day string) ([]dto.ExpenseRow, error) {
	var out []dto.ExpenseRow
	q := url.Values{"from": {day}, "to": {day}}
	if err := c.getJSON(ctx, "/expenses", q, &out); err != nil {
		return nil, fmt.Errorf("reports: extra expenses: %w", err)
	}
	return out, nil
}

// ─── Timeline sources ────────────────────────────────────────────────────────

func (c *ReportsClient) FetchRegisterEvents(ctx context.Context, from, to string) ([]dto.RegisterLogEvent, error) {
	var out []dto.RegisterLogEvent
	q := url.Values{"from": {from}, "to": {to}}
	if err := c.getJSON(ctx, "/reports/cash-register-events", q, &out); err != nil {
		return nil, fmt.Errorf("reports: register events: %w", err)
	}
	return out, nil
}

func (c *ReportsClient) FetchExpenses(ctx context.Context, from, to string) ([]dto.ExpenseRow, error) {
	var out []dto.ExpenseRow
	q := url.Values{"from": {from}, "to": {to}}
	if err := c.getJSON(ctx, "/reports/expenses", q, &out); err != nil {
		return nil, fmt.Errorf("reports: expenses: %w", err)
	}
	return out, nil
}

func (c *ReportsClient) FetchSupplierCashPayments(ctx context.Context, from, to string) ([]dto.CashPayment, error) {
	var out []dto.CashPayment
	q := url.Values{"from": {from}, "to": {to}}
	if err := c.getJSON(ctx, "/reports/supplier-cash-payments", q, &out); err != nil {
		return nil, fmt.Errorf("reports: supplier cash payments: %w", err)
	}
	return out, nil
}

func (c *ReportsClient) FetchStaffCashPayments(ctx context.Context, from, to string) ([]dto.CashPayment, error) {
	var out []dto.CashPayment
	q := url.Values{"from": {from}, "to": {to}}
	if err := c.getJSON(ctx, "/reports/staff-cash-payments", q, &out); err != nil {
		return nil, fmt.Errorf("reports: staff cash payments: %w", err)
	}
	return out, nil
}

func (c *ReportsClient) FetchRegisterHistory(ctx context.Context, from, to string) ([]dto.RegisterHistoryRow, error) {
	var out []dto.RegisterHistoryRow
	q := url.Values{"from": {from}, "to": {to}}
	if err := c.getJSON(ctx, "/reports/cash-register-history", q, &out); err != nil {
		return nil, fmt.Errorf("reports: register history: %w", err)
	}
	return out, nil
}

// ─── Reconciliation / stock ──────────────────────────────────────────────────

// FetchReconciliation queries the reconciliation collaborator for the session
// window starting at openTime. mode is "" (collaborator default) or "full".
// bustCache appends a timestamp the way force-fresh callers do, so any
// intermediate HTTP cache is skipped.
func (c *ReportsClient) FetchReconciliation(ctx context.Context, openTime, mode string, bustCache bool) (*dto.ReconciliationSnapshot, error) {
	q := url.Values{"openTime": {openTime}}
	if mode != "" {
		q.Set("mode", mode)
	}
	if bustCache {
		q.Set("_t", strconv.FormatInt(time.Now().UnixMilli(), 10))
	}
	var out dto.ReconciliationSnapshot
	if err := c.getJSON(ctx, "/reports/register-reconciliation", q, &out); err != nil {
		return nil, fmt.Errorf("reports: reconciliation: %w", err)
	}
	return &out, nil
}

func (c *ReportsClient) FetchStockDiscrepancy(ctx context.Context, openTime string) (*dto.StockVarianceReport, error) {
	q := url.Values{"openTime": {openTime}}
	var out dto.StockVarianceReport
	if err := c.getJSON(ctx, "/reports/stock-discrepancy", q, &out); err != nil {
		return nil, fmt.Errorf("reports: stock discrepancy: %w", err)
	}
	return &out, nil
}

// ─── Register log (single write path) ────────────────────────────────────────

func (c *ReportsClient) PostLogEvent(ctx context.Context, req dto.LogEventRequest) (*dto.LogEventResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("reports: marshal log event: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reports/cash-register-log", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("reports: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("reports: log event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.upstreamError(resp)
	}
	var out dto.LogEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("reports: decode log event response: %w", err)
	}
	return &out, nil
}

func (c *ReportsClient) FetchLastCloses(ctx context.Context, limit int) ([]dto.LastCloseRow, error) {
	var out []dto.LastCloseRow
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.getJSON(ctx, "/reports/last-register-closes", q, &out); err != nil {
		return nil, fmt.Errorf("reports: last closes: %w", err)
	}
	return out, nil
}

// ─── Orders (close-failure recovery only) ────────────────────────────────────

func (c *ReportsClient) FetchOrders(ctx context.Context) ([]dto.Order, error) {
	var out []dto.Order
	if err := c.getJSON(ctx, "/orders", nil, &out); err != nil {
		return nil, fmt.Errorf("reports: orders: %w", err)
	}
	return out, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (c *ReportsClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.upstreamError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *ReportsClient) authorize(req *http.Request) {
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}
}

// upstreamError extracts the backend's message from the common envelopes
// ({detail}, {error}, {message}) without leaking the raw body upward.
func (c *ReportsClient) upstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope struct {
		Detail  string `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if json.Unmarshal(body, &envelope) == nil {
		switch {
		case envelope.Detail != "":
			msg = envelope.Detail
		case envelope.Error != "":
			msg = envelope.Error
		case envelope.Message != "":
			msg = envelope.Message
		}
	}
	return &UpstreamError{Status: resp.StatusCode, Message: msg}
}
