package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/beyproweb/beypro-pos-sub005/internal/apierror"
	"github.com/beyproweb/beypro-pos-sub005/internal/dto"
	"github.com/beyproweb/beypro-pos-sub005/internal/infra"
	"github.com/beyproweb/beypro-pos-sub005/internal/service"

	"github.com/gin-gonic/gin"
)

// maxUploadBytes caps one terminal slip at 10 MB.
const maxUploadBytes = 10 << 20

type ZReportHandler struct {
	zreport *service.ZReportService
	status  *service.StatusService
	recon   *service.ReconciliationService
}

func NewZReportHandler(zreport *service.ZReportService, status *service.StatusService,
	recon *service.ReconciliationService) *ZReportHandler {
	return &ZReportHandler{zreport: zreport, status: status, recon: recon}
}

// Upload godoc
// @Summary Upload terminal Z-report slips for OCR extraction
// @Tags zreport
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param files formData file true "Slip images or PDFs"
// @Param group formData string false "Receipt group: table | delivery"
// @Success 200 {object} dto.ZReportState
// @Failure 400 {object} apierror.APIError
// @Failure 502 {object} apierror.APIError
// @Router /v1/register/zreport/upload [post]
func (h *ZReportHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Invalid multipart form"))
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, apierror.New("No files uploaded"))
		return
	}

	files := make([]infra.UploadFile, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		if fh.Size > maxUploadBytes {
			c.JSON(http.StatusBadRequest, apierror.New("File too large: "+fh.Filename))
			return
		}
		f, openErr := fh.Open()
		if openErr != nil {
			c.JSON(http.StatusBadRequest, apierror.New("Could not read file: "+fh.Filename))
			return
		}
		data, readErr := io.ReadAll(f)
		f.Close()
		if readErr != nil {
			c.JSON(http.StatusBadRequest, apierror.New("Could not read file: "+fh.Filename))
			return
		}
		files = append(files, infra.UploadFile{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	group := c.PostForm("group")
	openTime := h.status.Session().LastOpenAt

	state, err := h.zreport.Upload(c.Request.Context(), files, group, openTime)
	if err != nil {
		c.JSON(http.StatusBadGateway, apierror.New("Receipt parsing failed"))
		return
	}
	c.JSON(http.StatusOK, state)
}

// Delete godoc
// @Summary Remove one accumulated terminal slip
// @Tags zreport
// @Produce json
// @Security BearerAuth
// @Param id path int true "Receipt id"
// @Success 200 {object} dto.ZReportState
// @Failure 404 {object} apierror.APIError
// @Router /v1/register/zreport/{id} [delete]
func (h *ZReportHandler) Delete(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Invalid receipt id"))
		return
	}
	state, err := h.zreport.DeleteReceipt(id)
	if err != nil {
		c.JSON(http.StatusNotFound, apierror.New(err.Error()))
		return
	}
	c.JSON(http.StatusOK, state)
}

// UseDetected godoc
// @Summary Toggle detected terminal values into the close-out fields
// @Tags zreport
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.UseDetectedRequest true "Toggle"
// @Success 200 {object} dto.ZReportState
// @Router /v1/register/zreport/use-detected [post]
func (h *ZReportHandler) UseDetected(c *gin.Context) {
	var req dto.UseDetectedRequest
	if !bindAndValidate(c, &req) {
		return
	}
	state := h.zreport.SetUseDetected(req.Enabled)
	c.JSON(http.StatusOK, state)
}

// Audit godoc
// @Summary Persisted slip audit rows for a session window
// @Tags zreport
// @Produce json
// @Security BearerAuth
// @Param open_at query string false "Session open time (defaults to the current session)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apierror.APIError
// @Router /v1/register/zreport/audit [get]
func (h *ZReportHandler) Audit(c *gin.Context) {
	openAt := c.Query("open_at")
	if openAt == "" {
		openAt = h.status.Session().LastOpenAt
	}
	if openAt == "" {
		c.JSON(http.StatusBadRequest, apierror.New("No session window: pass open_at or open the register"))
		return
	}
	rows, err := h.zreport.SessionAudit(c.Request.Context(), openAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, apierror.New("Could not load receipt audit"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"open_at": openAt, "receipts": rows})
}

// Override godoc
// @Summary Edit one close-out override field
// @Tags zreport
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.OverrideRequest true "Field edit"
// @Success 200 {object} dto.ZReportState
// @Router /v1/register/zreport/override [post]
func (h *ZReportHandler) Override(c *gin.Context) {
	var req dto.OverrideRequest
	if !bindAndValidate(c, &req) {
		return
	}
	state := h.zreport.SetOverride(req.Field, req.Value)
	c.JSON(http.StatusOK, state)
}

// State godoc
// @Summary Accumulated Z-report state with per-channel card differences
// @Tags zreport
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.ZReportState
// @Router /v1/register/zreport [get]
func (h *ZReportHandler) State(c *gin.Context) {
	state := h.zreport.State()

	var split *dto.SplitCardDiff
	session := h.status.Session()
	if session.Open() && session.LastOpenAt != "" {
		if snapshot, err := h.recon.Fetch(c.Request.Context(), session.LastOpenAt, false); err == nil {
			split = h.zreport.SplitCardDiff(snapshot)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"state":           state,
		"split_card_diff": split,
	})
}
