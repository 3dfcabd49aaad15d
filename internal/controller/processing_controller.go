package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"processing-api/internal/compliance"
	"processing-api/internal/ledger"
	"processing-api/internal/models"
	"processing-api/internal/processor"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ProcessingController exposes the transaction pipeline over HTTP.
type ProcessingController struct {
	processor *processor.Processor
	engine    *compliance.Engine
	gateway   ledger.Gateway
}

func NewProcessingController(proc *processor.Processor, engine *compliance.Engine, gateway ledger.Gateway) *ProcessingController {
	return &ProcessingController{
		processor: proc,
		engine:    engine,
		gateway:   gateway,
	}
}

// SubmitTransaction accepts a transaction for processing. The synchronous
// response carries the routing outcome; settlement happens on the queue
// drains. A repeated Idempotency-Key replays the original response.
func (c *ProcessingController) SubmitTransaction(ctx *gin.Context) {
	var req processor.SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	idempotencyKey := ctx.GetHeader("Idempotency-Key")

	result := c.processor.ProcessTransaction(ctx.Request.Context(), &req, idempotencyKey)

	switch result.Status {
	case models.StatusRejected:
		ctx.JSON(http.StatusUnprocessableEntity, result)
	case models.StatusFailed:
		ctx.JSON(http.StatusInternalServerError, result)
	default:
		ctx.JSON(http.StatusAccepted, result)
	}
}

// GetTransactionStatus reports where a transaction currently sits: one of the
// in-memory queues or its persisted terminal record.
func (c *ProcessingController) GetTransactionStatus(ctx *gin.Context) {
	transactionID := ctx.Param("id")
	if transactionID == "" {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Transaction ID is required",
		})
		return
	}

	view, err := c.processor.GetStatus(ctx.Request.Context(), transactionID)
	if err != nil {
		if err == ledger.ErrRecordNotFound {
			ctx.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Transaction not found",
				Message: "No transaction with id " + transactionID,
			})
			return
		}
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to get transaction status",
			Message: err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusOK, view)
}

// CancelTransaction removes a still-queued transaction. Transactions that
// already reached a terminal state cannot be cancelled.
func (c *ProcessingController) CancelTransaction(ctx *gin.Context) {
	transactionID := ctx.Param("id")
	if transactionID == "" {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Transaction ID is required",
		})
		return
	}

	cancelled, err := c.processor.Cancel(ctx.Request.Context(), transactionID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to cancel transaction",
			Message: err.Error(),
		})
		return
	}

	if !cancelled {
		ctx.JSON(http.StatusConflict, ErrorResponse{
			Error:   "Transaction not cancellable",
			Message: "Transaction is not waiting in a queue",
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"transaction_id": transactionID,
		"status":         models.StatusCancelled,
	})
}

// GetProcessingStats returns queue depths and throughput for dashboards.
func (c *ProcessingController) GetProcessingStats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.processor.GetProcessingStats())
}

// ValidateKYC runs a verification-state check for a customer.
func (c *ProcessingController) ValidateKYC(ctx *gin.Context) {
	user, ok := c.userFromPath(ctx)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, c.engine.ValidateKYC(ctx.Request.Context(), user))
}

// ValidateGDPR runs a consent-state check for a customer.
func (c *ProcessingController) ValidateGDPR(ctx *gin.Context) {
	user, ok := c.userFromPath(ctx)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, c.engine.ValidateGDPR(ctx.Request.Context(), user))
}

func (c *ProcessingController) userFromPath(ctx *gin.Context) (*models.User, bool) {
	userID, err := strconv.ParseInt(ctx.Param("userId"), 10, 64)
	if err != nil || userID <= 0 {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid user ID",
			Message: "User ID must be a positive integer",
		})
		return nil, false
	}

	user, err := c.gateway.GetUser(ctx.Request.Context(), userID)
	if err != nil {
		if err == ledger.ErrUserNotFound {
			ctx.JSON(http.StatusNotFound, ErrorResponse{
				Error: "User not found",
			})
			return nil, false
		}
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to load user",
			Message: err.Error(),
		})
		return nil, false
	}

	return user, true
}
