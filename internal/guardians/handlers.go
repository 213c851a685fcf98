package guardians

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keyward/keyward/internal/validation"
)

// Handler provides HTTP endpoints for guardian management.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new guardian handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes sets up guardian routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/guardians", h.ListGuardians)
	r.POST("/guardians", h.AddGuardian)
	r.DELETE("/guardians/:identity", h.RemoveGuardian)
	r.POST("/guardians/:identity/verify", h.VerifyGuardian)
	r.POST("/guardians/:identity/suspend", h.SuspendGuardian)
	r.POST("/guardians/:identity/reinstate", h.ReinstateGuardian)
	r.PUT("/guardians/threshold", h.SetThreshold)
}

// AddRequest contains the parameters for registering a guardian.
type AddRequest struct {
	Identity    string `json:"identity" binding:"required"`
	DisplayName string `json:"displayName"`
	Contact     string `json:"contact"`
}

// ThresholdRequest updates the approval threshold.
type ThresholdRequest struct {
	Threshold int `json:"threshold" binding:"required"`
}

// AddGuardian handles POST /v1/guardians
func (h *Handler) AddGuardian(c *gin.Context) {
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidIdentity("identity", req.Identity),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"fields":  errs,
		})
		return
	}

	g, err := h.registry.AddGuardian(c.Request.Context(), req.Identity, req.DisplayName, req.Contact)
	if err != nil {
		respondRegistryError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"guardian": g})
}

// ListGuardians handles GET /v1/guardians
func (h *Handler) ListGuardians(c *gin.Context) {
	list, err := h.registry.ListGuardians(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list guardians",
		})
		return
	}

	active := 0
	for _, g := range list {
		if g.IsActive() {
			active++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"guardians":   list,
		"activeCount": active,
		"threshold":   h.registry.Threshold(),
	})
}

// RemoveGuardian handles DELETE /v1/guardians/:identity
func (h *Handler) RemoveGuardian(c *gin.Context) {
	if err := h.registry.RemoveGuardian(c.Request.Context(), c.Param("identity")); err != nil {
		respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true, "threshold": h.registry.Threshold()})
}

// VerifyGuardian handles POST /v1/guardians/:identity/verify
func (h *Handler) VerifyGuardian(c *gin.Context) {
	if err := h.registry.VerifyGuardian(c.Request.Context(), c.Param("identity")); err != nil {
		respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

// SuspendGuardian handles POST /v1/guardians/:identity/suspend
func (h *Handler) SuspendGuardian(c *gin.Context) {
	if err := h.registry.SuspendGuardian(c.Request.Context(), c.Param("identity")); err != nil {
		respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suspended": true, "threshold": h.registry.Threshold()})
}

// ReinstateGuardian handles POST /v1/guardians/:identity/reinstate
func (h *Handler) ReinstateGuardian(c *gin.Context) {
	if err := h.registry.ReinstateGuardian(c.Request.Context(), c.Param("identity")); err != nil {
		respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reinstated": true})
}

// SetThreshold handles PUT /v1/guardians/threshold
func (h *Handler) SetThreshold(c *gin.Context) {
	var req ThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if err := h.registry.SetThreshold(c.Request.Context(), req.Threshold); err != nil {
		respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threshold": req.Threshold})
}

func respondRegistryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_identity", "message": err.Error()})
	case errors.Is(err, ErrInvalidThreshold):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_threshold", "message": err.Error()})
	case errors.Is(err, ErrGuardianNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Guardian not found"})
	case errors.Is(err, ErrDuplicateGuardian):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_guardian", "message": err.Error()})
	case errors.Is(err, ErrCapacityExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": "capacity_exceeded", "message": err.Error()})
	case errors.Is(err, ErrBelowMinimum):
		c.JSON(http.StatusConflict, gin.H{"error": "below_minimum", "message": err.Error()})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_status", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Operation failed"})
	}
}
