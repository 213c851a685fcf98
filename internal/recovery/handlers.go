package recovery

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keyward/keyward/internal/pagination"
	"github.com/keyward/keyward/internal/validation"
)

// Handler provides HTTP endpoints for the recovery lifecycle.
type Handler struct {
	service *Service
}

// NewHandler creates a new recovery handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up recovery routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/recovery", h.Initiate)
	r.POST("/recovery/test", h.Test)
	r.GET("/recovery", h.ListRequests)
	r.GET("/recovery/statistics", h.GetStatistics)
	r.GET("/recovery/:id", h.GetRequest)
	r.GET("/recovery/:id/audit", h.GetAudit)
	r.POST("/recovery/:id/approvals", h.Approve)
	r.POST("/recovery/:id/cancel", h.Cancel)
	r.POST("/recovery/:id/complete", h.Complete)
}

// InitiateRequest contains the parameters for starting a recovery.
type InitiateRequest struct {
	WalletIdentity   string `json:"walletIdentity" binding:"required"`
	ProposedNewOwner string `json:"proposedNewOwner" binding:"required"`
	TestMode         bool   `json:"testMode"`
}

// ApproveRequest contains a guardian's signed approval.
type ApproveRequest struct {
	GuardianIdentity string `json:"guardianIdentity" binding:"required"`
	Proof            string `json:"proof" binding:"required"`
}

// CancelRequest identifies who is cancelling.
type CancelRequest struct {
	CancelledBy string `json:"cancelledBy" binding:"required"`
}

// CompleteRequest carries the owner's authorization for execution.
type CompleteRequest struct {
	OwnerAuthorization string `json:"ownerAuthorization"`
}

// Initiate handles POST /v1/recovery
func (h *Handler) Initiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidIdentity("walletIdentity", req.WalletIdentity),
		validation.ValidIdentity("proposedNewOwner", req.ProposedNewOwner),
	); len(errs) > 0 {
		respondValidationErrors(c, errs)
		return
	}

	r, err := h.service.Initiate(c.Request.Context(), req.WalletIdentity, req.ProposedNewOwner, req.TestMode)
	if err != nil {
		respondRecoveryError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"request": r})
}

// Test handles POST /v1/recovery/test
func (h *Handler) Test(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	result, err := h.service.Test(c.Request.Context(), req.WalletIdentity, req.ProposedNewOwner)
	if err != nil {
		respondRecoveryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

// DefaultListLimit bounds unpaginated list responses.
const DefaultListLimit = 20

// MaxListLimit is the largest page size a client may request.
const MaxListLimit = 100

// ListRequests handles GET /v1/recovery?wallet=&limit=&cursor=
func (h *Handler) ListRequests(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Invalid pagination cursor",
		})
		return
	}

	var list []*Request
	if wallet := c.Query("wallet"); wallet != "" {
		list, err = h.service.ListByWallet(c.Request.Context(), wallet, 0)
	} else {
		list, err = h.service.List(c.Request.Context(), 0)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list recovery requests",
		})
		return
	}

	// Results are newest-first; the cursor marks the last item of the
	// previous page.
	if cur != nil {
		idx := -1
		for i, r := range list {
			if r.ID == cur.ID {
				idx = i
				break
			}
		}
		if idx >= 0 {
			list = list[idx+1:]
		} else {
			// Cursor item no longer listed; resume by timestamp.
			rest := []*Request{}
			for _, r := range list {
				if r.InitiatedAt.Before(cur.CreatedAt) {
					rest = append(rest, r)
				}
			}
			list = rest
		}
	}

	page, next, hasMore := pagination.ComputePage(list, limit, func(r *Request) (time.Time, string) {
		return r.InitiatedAt, r.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"requests":   page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// GetRequest handles GET /v1/recovery/:id
func (h *Handler) GetRequest(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondRecoveryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": r})
}

// GetAudit handles GET /v1/recovery/:id/audit
func (h *Handler) GetAudit(c *gin.Context) {
	trail, err := h.service.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondRecoveryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": trail, "count": len(trail)})
}

// Approve handles POST /v1/recovery/:id/approvals
func (h *Handler) Approve(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidIdentity("guardianIdentity", req.GuardianIdentity),
		validation.ValidHex("proof", req.Proof),
	); len(errs) > 0 {
		respondValidationErrors(c, errs)
		return
	}

	approval, err := h.service.Approve(c.Request.Context(), c.Param("id"), req.GuardianIdentity, req.Proof)
	if err != nil {
		respondRecoveryError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"approval": approval})
}

// Cancel handles POST /v1/recovery/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.NonEmpty("cancelledBy", req.CancelledBy),
	); len(errs) > 0 {
		respondValidationErrors(c, errs)
		return
	}

	if err := h.service.Cancel(c.Request.Context(), c.Param("id"), req.CancelledBy); err != nil {
		respondRecoveryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// Complete handles POST /v1/recovery/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	var req CompleteRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.service.Complete(c.Request.Context(), c.Param("id"), req.OwnerAuthorization)
	if err != nil {
		respondRecoveryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// GetStatistics handles GET /v1/recovery/statistics
func (h *Handler) GetStatistics(c *gin.Context) {
	stats, err := h.service.Statistics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "statistics_failed",
			"message": "Failed to compute statistics",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"statistics": stats})
}

func respondValidationErrors(c *gin.Context, errs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_failed",
		"message": errs.Error(),
		"fields":  errs,
	})
}

func respondRecoveryError(c *gin.Context, err error) {
	var verification *VerificationFailedError
	switch {
	case errors.As(err, &verification):
		c.JSON(http.StatusForbidden, gin.H{
			"error":      "verification_failed",
			"message":    verification.Error(),
			"riskScore":  verification.RiskScore,
			"indicators": verification.Indicators,
		})
	case errors.Is(err, ErrInvalidIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_identity", "message": err.Error()})
	case errors.Is(err, ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Recovery request not found"})
	case errors.Is(err, ErrTestingDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "testing_disabled", "message": err.Error()})
	case errors.Is(err, ErrActiveRequestExists):
		c.JSON(http.StatusConflict, gin.H{"error": "active_request_exists", "message": err.Error()})
	case errors.Is(err, ErrUnknownOrInactiveGuardian):
		c.JSON(http.StatusForbidden, gin.H{"error": "unknown_guardian", "message": err.Error()})
	case errors.Is(err, ErrDuplicateApproval):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_approval", "message": err.Error()})
	case errors.Is(err, ErrInvalidProof):
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid_proof", "message": err.Error()})
	case errors.Is(err, ErrAlreadyExecuted):
		c.JSON(http.StatusConflict, gin.H{"error": "already_executed", "message": err.Error()})
	case errors.Is(err, ErrAlreadyCancelled):
		c.JSON(http.StatusConflict, gin.H{"error": "already_cancelled", "message": err.Error()})
	case errors.Is(err, ErrTimeLockNotExpired):
		c.JSON(http.StatusConflict, gin.H{"error": "time_lock_not_expired", "message": err.Error()})
	case errors.Is(err, ErrInsufficientApprovals):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient_approvals", "message": err.Error()})
	case errors.Is(err, ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Operation failed"})
	}
}
