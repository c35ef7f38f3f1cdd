package sessions

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/giftguard/internal/logging"
)

// Handler provides HTTP endpoints for analysis sessions
type Handler struct {
	service *Service
}

// NewHandler creates a new session handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes sets up admin-only session routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/analysis/sessions", h.CreateSession)
}

// CreateSessionRequest is the body of POST /admin/analysis/sessions.
type CreateSessionRequest struct {
	Owner string `json:"owner"`
}

// CreateSessionResponse carries the token exactly once.
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	Expires   int64  `json:"expires"` // ms since epoch
}

// CreateSession handles POST /admin/analysis/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "body must be {\"owner\": \"...\"}",
		})
		return
	}

	sess, err := h.service.Create(c.Request.Context(), req.Owner)
	if errors.Is(err, ErrInvalidOwner) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "owner is required"})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to create analysis session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create session"})
		return
	}

	logging.L(c.Request.Context()).Info("analysis session created", "session_id", sess.ID, "owner", sess.Owner)
	c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID: sess.ID,
		Token:     sess.Token,
		Expires:   sess.ExpiresAt.UnixMilli(),
	})
}
