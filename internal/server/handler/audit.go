// Package handler exposes the audit ledger over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tracevault/tracevault/internal/audit"
	"github.com/tracevault/tracevault/internal/ledger"
)

// resetConfirmPhrase must be sent verbatim in the reset request body.
// A destructive call that requires typing the phrase cannot happen by
// accident or by replaying an unrelated request.
const resetConfirmPhrase = "RESET"

// maxPageSize caps per_page so a single listing request cannot drag the
// whole table through one query.
const maxPageSize = 500

// AuditHandler exposes HTTP endpoints for recording, reading, and verifying
// the audit chain.
type AuditHandler struct {
	svc    *audit.Service
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(svc *audit.Service, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, logger: logger}
}

// Register mounts the audit routes on the given router group. Routes that
// mutate or verify-with-record require the operator middleware; reads and
// event recording do not.
func (h *AuditHandler) Register(rg *gin.RouterGroup, requireOperator gin.HandlerFunc) {
	a := rg.Group("/audit")
	{
		a.GET("", h.Overview)
		a.GET("/entries", h.ListEntries)
		a.POST("/entries", h.RecordEntry)
		a.GET("/entries/:seq", h.GetEntry)
		a.GET("/verify", h.Verify)
		a.POST("/verify", requireOperator, h.VerifyAndRecord)
		a.POST("/reset", requireOperator, h.Reset)
	}
}

type recordRequest struct {
	Actor   string         `json:"actor"`
	Action  string         `json:"action" binding:"required"`
	Target  string         `json:"target"`
	Details map[string]any `json:"details"`
}

type resetRequest struct {
	Confirm string `json:"confirm" binding:"required"`
}

// Overview handles GET /audit — returns the chain length and tail hash.
func (h *AuditHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, tail, err := h.svc.Overview(ctx)
	if err != nil {
		h.logger.Error("audit overview", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"tail":    tail,
	})
}

// RecordEntry handles POST /audit/entries — appends a new audit event.
func (h *AuditHandler) RecordEntry(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.svc.Record(c.Request.Context(), req.Actor, req.Action, req.Target, req.Details)
	if err != nil {
		var verr *ledger.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error(), "field": verr.Field})
			return
		}
		h.logger.Error("record audit entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record audit entry"})
		return
	}
	if entry == nil {
		// Fail-open policy dropped the write after a storage fault. The
		// caller's operation proceeds; the gap is logged server-side.
		c.JSON(http.StatusAccepted, gin.H{"recorded": false, "degraded": true})
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// ListEntries handles GET /audit/entries — returns a page, newest first.
func (h *AuditHandler) ListEntries(c *gin.Context) {
	opts := ledger.ListOptions{
		Actor:  c.Query("actor"),
		Action: c.Query("action"),
		Target: c.Query("target"),
	}
	opts.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	opts.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "0"))
	if opts.Page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}
	if opts.PerPage > maxPageSize {
		opts.PerPage = maxPageSize
	}

	entries, total, err := h.svc.Entries(c.Request.Context(), opts)
	if err != nil {
		h.logger.Error("list audit entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit entries"})
		return
	}

	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = ledger.DefaultPageSize
	}
	c.JSON(http.StatusOK, gin.H{
		"entries":  entries,
		"total":    total,
		"page":     opts.Page,
		"per_page": perPage,
	})
}

// GetEntry handles GET /audit/entries/:seq — returns a single entry.
func (h *AuditHandler) GetEntry(c *gin.Context) {
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a positive integer"})
		return
	}

	entry, err := h.svc.Entry(c.Request.Context(), seq)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}
		h.logger.Error("get audit entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit entry"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// Verify handles GET /audit/verify — replays the chain and reports every
// inconsistency. Optional from/to query parameters bound the range; zero
// means the whole chain. The response is 200 even when the chain is
// invalid; "valid" carries the verdict.
func (h *AuditHandler) Verify(c *gin.Context) {
	from, err := boundParam(c, "from")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, err := boundParam(c, "to")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.svc.Verify(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Error("verify audit chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification could not run"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// VerifyAndRecord handles POST /audit/verify — runs a full verification and
// records its outcome in the chain. Operator only.
func (h *AuditHandler) VerifyAndRecord(c *gin.Context) {
	report, err := h.svc.VerifyAndRecord(c.Request.Context(), operatorActor(c))
	if err != nil {
		h.logger.Error("verify and record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification could not run"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// Reset handles POST /audit/reset — discards the whole chain. Operator only,
// and refused unless resets are enabled in the deployment configuration.
func (h *AuditHandler) Reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Confirm != resetConfirmPhrase {
		c.JSON(http.StatusBadRequest, gin.H{"error": `confirmation required: send {"confirm":"RESET"}`})
		return
	}

	if err := h.svc.Reset(c.Request.Context(), operatorActor(c)); err != nil {
		if errors.Is(err, audit.ErrResetDisabled) {
			// Deployments without resets do not advertise the endpoint.
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.logger.Error("reset audit ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "audit ledger reset; a fresh chain has been seeded"})
}

// boundParam parses an optional non-negative range bound query parameter.
func boundParam(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}
