package contacts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for emergency contacts.
type Handler struct {
	service *Service
}

// NewHandler creates a new emergency contact handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up emergency contact routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/emergency-contacts", h.List)
	r.POST("/emergency-contacts", h.Add)
}

// AddRequest contains the parameters for registering an emergency contact.
type AddRequest struct {
	Name         string `json:"name" binding:"required"`
	Contact      string `json:"contact" binding:"required"`
	Relationship string `json:"relationship"`
}

// Add handles POST /v1/emergency-contacts
func (h *Handler) Add(c *gin.Context) {
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	ec, err := h.service.Add(c.Request.Context(), req.Name, req.Contact, req.Relationship)
	if err != nil {
		if errors.Is(err, ErrEmptyContact) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_contact", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add_failed", "message": "Failed to add emergency contact"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"contact": ec})
}

// List handles GET /v1/emergency-contacts
func (h *Handler) List(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": "Failed to list emergency contacts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": list})
}
