package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"payments-api/internal/engine"
	"payments-api/internal/middleware"
	"payments-api/internal/models"
	"payments-api/internal/reversal"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PaymentController exposes the user-facing transaction endpoints.
type PaymentController struct {
	orchestrator *engine.Orchestrator
	reversals    *reversal.Service
}

func NewPaymentController(orchestrator *engine.Orchestrator, reversals *reversal.Service) *PaymentController {
	return &PaymentController{
		orchestrator: orchestrator,
		reversals:    reversals,
	}
}

type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Description string          `json:"description"`
}

type TransferRequest struct {
	ReceiverEmail string          `json:"receiver_email" binding:"required,email"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	Description   string          `json:"description"`
}

type PaymentRequest struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Description string          `json:"description"`
	MerchantID  int64           `json:"merchant_id"`
}

type ReversalRequest struct {
	TransactionNumber string          `json:"transaction_number" binding:"required"`
	Type              string          `json:"type" binding:"required"`
	Amount            decimal.Decimal `json:"amount" binding:"required"`
	Reason            string          `json:"reason" binding:"required"`
}

func (c *PaymentController) Deposit(ctx *gin.Context) {
	var req DepositRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	txn, err := c.orchestrator.Deposit(ctx.Request.Context(), engine.DepositRequest{
		UserID:      middleware.UserID(ctx),
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		respondTransactionError(ctx, txn, err)
		return
	}
	ctx.JSON(http.StatusCreated, txn)
}

func (c *PaymentController) Transfer(ctx *gin.Context) {
	var req TransferRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	txn, err := c.orchestrator.Transfer(ctx.Request.Context(), engine.TransferRequest{
		SenderID:       middleware.UserID(ctx),
		ReceiverEmail:  req.ReceiverEmail,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: ctx.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		respondTransactionError(ctx, txn, err)
		return
	}
	ctx.JSON(http.StatusCreated, txn)
}

func (c *PaymentController) Pay(ctx *gin.Context) {
	var req PaymentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	txn, err := c.orchestrator.PayFromWallet(ctx.Request.Context(), engine.PaymentRequest{
		UserID:         middleware.UserID(ctx),
		Amount:         req.Amount,
		Description:    req.Description,
		MerchantID:     req.MerchantID,
		IdempotencyKey: ctx.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		respondTransactionError(ctx, txn, err)
		return
	}
	ctx.JSON(http.StatusCreated, txn)
}

func (c *PaymentController) GetTransaction(ctx *gin.Context) {
	txn, err := c.orchestrator.GetTransaction(ctx.Request.Context(), ctx.Param("number"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			ctx.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Transaction not found",
				Message: err.Error(),
			})
			return
		}
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to get transaction",
			Message: err.Error(),
		})
		return
	}

	userID := middleware.UserID(ctx)
	if txn.SenderUserID != userID && txn.ReceiverUserID != userID {
		ctx.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "Forbidden",
			Message: "Transaction belongs to another user",
		})
		return
	}
	ctx.JSON(http.StatusOK, txn)
}

func (c *PaymentController) ListTransactions(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(ctx.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	transactions, err := c.orchestrator.ListUserTransactions(ctx.Request.Context(), middleware.UserID(ctx), limit, offset)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list transactions",
			Message: err.Error(),
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"limit":        limit,
		"offset":       offset,
	})
}

func (c *PaymentController) GetBalance(ctx *gin.Context) {
	account, err := c.orchestrator.GetBalance(ctx.Request.Context(), middleware.UserID(ctx))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			ctx.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Account not found",
				Message: err.Error(),
			})
			return
		}
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to get balance",
			Message: err.Error(),
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"account_number": account.AccountNumber,
		"balance":        account.Balance,
		"currency":       account.Currency,
		"status":         account.Status,
	})
}

// RequestReversal files a reversal request for one of the caller's
// transactions.
func (c *PaymentController) RequestReversal(ctx *gin.Context) {
	var req ReversalRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	userID := middleware.UserID(ctx)
	txn, err := c.orchestrator.GetTransaction(ctx.Request.Context(), req.TransactionNumber)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			ctx.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Transaction not found",
				Message: err.Error(),
			})
			return
		}
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to load transaction",
			Message: err.Error(),
		})
		return
	}
	if txn.SenderUserID != userID {
		ctx.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "Forbidden",
			Message: "Only the sender can request a reversal",
		})
		return
	}

	rev, err := c.reversals.Request(ctx.Request.Context(), reversal.Request{
		OriginalNumber: req.TransactionNumber,
		RequestedBy:    userID,
		Type:           models.ReversalType(req.Type),
		Amount:         req.Amount,
		Reason:         req.Reason,
	})
	if err != nil {
		respondReversalError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, rev)
}

// respondTransactionError maps engine failures to HTTP codes. A non-nil txn
// means the attempt was recorded as FAILED and is returned alongside.
func respondTransactionError(ctx *gin.Context, txn *models.Transaction, err error) {
	status := http.StatusInternalServerError
	label := "Transaction failed"

	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
		label = "Insufficient funds"
	case errors.Is(err, models.ErrLimitExceeded):
		status = http.StatusUnprocessableEntity
		label = "Limit exceeded"
	case errors.Is(err, models.ErrFraudBlocked):
		status = http.StatusUnprocessableEntity
		label = "Transaction blocked"
	case errors.Is(err, models.ErrComplianceRejected):
		status = http.StatusUnprocessableEntity
		label = "Compliance rejection"
	case errors.Is(err, models.ErrAccountNotActive):
		status = http.StatusUnprocessableEntity
		label = "Account not active"
	case errors.Is(err, models.ErrConcurrencyConflict):
		status = http.StatusConflict
		label = "Concurrent update, retry"
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
		label = "Validation failed"
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
		label = "Not found"
	}

	body := gin.H{
		"error":   label,
		"message": err.Error(),
	}
	if txn != nil {
		body["transaction"] = txn
	}
	ctx.JSON(status, body)
}

func respondReversalError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrReversalIneligible):
		ctx.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Reversal not eligible",
			Message: err.Error(),
		})
	case errors.Is(err, models.ErrReversalAmountInvalid):
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid reversal amount",
			Message: err.Error(),
		})
	case errors.Is(err, models.ErrNotFound):
		ctx.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Not found",
			Message: err.Error(),
		})
	default:
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Reversal operation failed",
			Message: err.Error(),
		})
	}
}
