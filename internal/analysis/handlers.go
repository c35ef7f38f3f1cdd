package analysis

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/giftguard/internal/amount"
	"github.com/mbd888/giftguard/internal/fraud"
	"github.com/mbd888/giftguard/internal/logging"
	"github.com/mbd888/giftguard/internal/sessions"
)

// TokenHeader carries the analysis token when it is not in the query string.
const TokenHeader = "X-Analysis-Token"

// Handler provides HTTP endpoints for fraud analysis
type Handler struct {
	service *Service
}

// NewHandler creates a new analysis handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up token-scoped analysis routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/analysis", h.RunForToken)
}

// RegisterAdminRoutes sets up admin-only analysis routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/analysis", h.RunSnapshot)
}

// RunForToken handles GET /analysis?token=
func (h *Handler) RunForToken(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader(TokenHeader)
	}
	if strings.TrimSpace(token) == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "missing_token",
			"message": "analysis token required in ?token= or " + TokenHeader,
		})
		return
	}

	data, err := h.service.RunForToken(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

// RunSnapshot handles POST /admin/analysis with a JSON array of records.
func (h *Handler) RunSnapshot(c *gin.Context) {
	var txs []fraud.RawTransaction
	if err := c.ShouldBindJSON(&txs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "body must be a JSON array of transactions",
		})
		return
	}

	data, err := h.service.RunSnapshot(c.Request.Context(), txs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "message": "unknown analysis token"})
	case errors.Is(err, sessions.ErrSessionExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session_expired", "message": "analysis session has expired"})
	case errors.Is(err, ErrTooManyTransactions):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too_many_transactions", "message": err.Error()})
	case errors.Is(err, amount.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("fraud analysis failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "analysis failed"})
	}
}
