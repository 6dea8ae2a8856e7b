package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/apierror"
	"github.com/beyproweb/beypro-pos-sub005/internal/dto"
	"github.com/beyproweb/beypro-pos-sub005/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type RegisterHandler struct {
	register *service.RegisterService
	status   *service.StatusService
	timeline *service.TimelineService
	recon    *service.ReconciliationService
	stock    *service.StockService
	zreport  *service.ZReportService
}

func NewRegisterHandler(register *service.RegisterService, status *service.StatusService,
	timeline *service.TimelineService, recon *service.ReconciliationService,
	stock *service.StockService, zreport *service.ZReportService) *RegisterHandler {
	return &RegisterHandler{
		register: register,
		status:   status,
		timeline: timeline,
		recon:    recon,
		stock:    stock,
		zreport:  zreport,
	}
}

// Status godoc
// @Summary Register session status
// @Tags register
// @Produce json
// @Security BearerAuth
// @Param force_fresh query bool false "Bypass the status cache"
// @Success 200 {object} dto.RegisterStatusResponse
// @Failure 502 {object} apierror.APIError
// @Router /v1/register/status [get]
func (h *RegisterHandler) Status(c *gin.Context) {
	forceFresh := c.Query("force_fresh") == "true"
	resp, err := h.status.RefreshStatus(c.Request.Context(), forceFresh)
	if err != nil {
		c.JSON(http.StatusBadGateway, apierror.New("Could not load register status"))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Summary godoc
// @Summary First-paint register summary
// @Tags register
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.RegisterSummaryResponse
// @Failure 502 {object} apierror.APIError
// @Router /v1/register/summary [get]
func (h *RegisterHandler) Summary(c *gin.Context) {
	resp, err := h.status.InitializeSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, apierror.New("Could not load register summary"))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Timeline godoc
// @Summary Chronological register activity for one business day
// @Tags register
// @Produce json
// @Security BearerAuth
// @Param day query string false "Business day YYYY-MM-DD, defaults to today"
// @Success 200 {object} dto.TimelineResponse
// @Router /v1/register/timeline [get]
func (h *RegisterHandler) Timeline(c *gin.Context) {
	day := c.Query("day")
	if day == "" {
		day = time.Now().Format("2006-01-02")
	}
	resp := h.timeline.Timeline(c.Request.Context(), day)
	c.JSON(http.StatusOK, resp)
}

// Reconciliation godoc
// @Summary Reconciliation snapshot with derived close-out figures
// @Tags register
// @Produce json
// @Security BearerAuth
// @Param force_fresh query bool false "Bypass the snapshot cache"
// @Param counted query string false "Operator drawer count"
// @Param terminal_card query string false "Terminal card total override"
// @Success 200 {object} dto.ReconciliationView
// @Failure 409 {object} apierror.APIError
// @Failure 504 {object} apierror.APIError
// @Router /v1/register/reconciliation [get]
func (h *RegisterHandler) Reconciliation(c *gin.Context) {
	session := h.status.Session()
	if !session.Open() || session.LastOpenAt == "" {
		c.JSON(http.StatusConflict, apierror.New("Register is not open"))
		return
	}

	forceFresh := c.Query("force_fresh") == "true"
	snapshot, err := h.recon.Fetch(c.Request.Context(), session.LastOpenAt, forceFresh)
	if err != nil {
		if errors.Is(err, service.ErrRequestTimeout) {
			c.JSON(http.StatusGatewayTimeout, apierror.New("Reconciliation request timed out"))
			return
		}
		c.JSON(http.StatusBadGateway, apierror.New("Could not load reconciliation"))
		return
	}

	counted := decimal.Zero
	if raw := c.Query("counted"); raw != "" {
		if d, perr := decimal.NewFromString(raw); perr == nil {
			counted = d
		}
	}
	var terminalCard *decimal.Decimal
	if raw := c.Query("terminal_card"); raw != "" {
		if d, perr := decimal.NewFromString(raw); perr == nil {
			terminalCard = &d
		}
	}

	day := time.Now().Format("2006-01-02")
	refund := h.timeline.CashRefundTotal(c.Request.Context(), day)
	view := h.recon.Derived(snapshot, counted, terminalCard, refund)
	c.JSON(http.StatusOK, view)
}

// StockDiscrepancy godoc
// @Summary Stock variance report for the current session window
// @Tags register
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.StockVarianceReport
// @Failure 409 {object} apierror.APIError
// @Router /v1/register/stock-discrepancy [get]
func (h *RegisterHandler) StockDiscrepancy(c *gin.Context) {
	session := h.status.Session()
	if !session.Open() || session.LastOpenAt == "" {
		c.JSON(http.StatusConflict, apierror.New("Register is not open"))
		return
	}
	report := h.stock.Fetch(c.Request.Context(), session.LastOpenAt)
	if report == nil {
		// Advisory panel: absence is a valid state, not an error.
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Open godoc
// @Summary Open the register with an opening float
// @Tags register
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.OpenRegisterRequest true "Opening float"
// @Success 200 {object} dto.OpenRegisterResponse
// @Failure 400 {object} apierror.APIError
// @Router /v1/register/open [post]
func (h *RegisterHandler) Open(c *gin.Context) {
	var req dto.OpenRegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.register.Open(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New(err.Error()))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Close godoc
// @Summary Close the register with a counted drawer total
// @Tags register
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.CloseRegisterRequest true "Close declaration"
// @Success 200 {object} dto.CloseRegisterResponse
// @Failure 400 {object} apierror.APIError
// @Failure 409 {object} apierror.APIError
// @Router /v1/register/close [post]
func (h *RegisterHandler) Close(c *gin.Context) {
	var req dto.CloseRegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}

	resp, err := h.register.Close(c.Request.Context(), req)
	if err != nil {
		var confirm *service.ConfirmationRequiredError
		if errors.As(err, &confirm) {
			c.JSON(http.StatusConflict, gin.H{
				"detail":          "Discrepancy confirmation required",
				"cash_difference": confirm.CashDifference,
				"card_difference": confirm.CardDifference,
				"risk_score":      confirm.RiskScore,
			})
			return
		}
		var openOrders *service.OpenOrdersError
		if errors.As(err, &openOrders) {
			c.JSON(http.StatusConflict, gin.H{
				"detail":      "Register cannot close while orders are open",
				"order_label": openOrders.Label,
				"tab_hint":    openOrders.TabHint,
			})
			return
		}
		c.JSON(http.StatusBadRequest, apierror.New(err.Error()))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Movement godoc
// @Summary Record a manual register movement
// @Tags register
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.MovementRequest true "Movement"
// @Success 201 {object} dto.RegisterLogRecord
// @Failure 400 {object} apierror.APIError
// @Router /v1/register/movement [post]
func (h *RegisterHandler) Movement(c *gin.Context) {
	var req dto.MovementRequest
	if !bindAndValidate(c, &req) {
		return
	}
	record, err := h.register.Movement(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, record)
}

// LastClose godoc
// @Summary Most recent register close
// @Tags register
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.LastCloseRow
// @Failure 404 {object} apierror.APIError
// @Router /v1/register/last-close [get]
func (h *RegisterHandler) LastClose(c *gin.Context) {
	row, err := h.register.LastClose(c.Request.Context())
	if err != nil || row == nil {
		c.JSON(http.StatusNotFound, apierror.New("No register close found"))
		return
	}
	c.JSON(http.StatusOK, row)
}
