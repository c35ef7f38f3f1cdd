package ledger

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/giftguard/internal/fraud"
	"github.com/mbd888/giftguard/internal/logging"
	"github.com/mbd888/giftguard/internal/pagination"
	"github.com/mbd888/giftguard/internal/validation"
)

// Handler provides HTTP endpoints for ledger records
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterAdminRoutes sets up admin-only ledger routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/transactions", h.RecordTransaction)
	r.GET("/admin/transactions", h.ListTransactions)
	r.GET("/admin/transactions/:id", h.GetTransaction)
}

// RecordTransaction handles POST /admin/transactions
func (h *Handler) RecordTransaction(c *gin.Context) {
	var req fraud.RawTransaction
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "body must be a transaction record",
		})
		return
	}

	rec, err := h.ledger.Record(c.Request.Context(), req)
	if err != nil {
		var verrs validation.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			validation.Abort(c, verrs)
		case errors.Is(err, ErrDuplicateRecord):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_transaction",
				"message": "a transaction with this id already exists",
			})
		default:
			logging.L(c.Request.Context()).Error("failed to record transaction", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "failed to record transaction",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": rec})
}

// ListTransactions handles GET /admin/transactions?limit=&cursor=
func (h *Handler) ListTransactions(c *gin.Context) {
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"))

	recs, err := h.ledger.List(c.Request.Context(), cursor, limit+1)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list transactions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list transactions",
		})
		return
	}

	page, next, more := pagination.ComputePage(recs, limit, func(r *fraud.RawTransaction) (int64, string) {
		return r.CreatedAt, r.ID
	})
	if page == nil {
		page = []*fraud.RawTransaction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": page,
		"nextCursor":   next,
		"hasMore":      more,
	})
}

// GetTransaction handles GET /admin/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	rec, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "transaction not found"})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to get transaction", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to get transaction"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": rec})
}
