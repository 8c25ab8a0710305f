package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"payments-api/internal/models"
	"payments-api/internal/monitoring"
	"payments-api/internal/repository"
	"payments-api/internal/reversal"
)

// AdminController exposes the back-office surface: reversal review, account
// administration and bootstrap.
type AdminController struct {
	reversals *reversal.Service
	accounts  repository.AccountRepository
	metrics   *monitoring.Metrics
}

func NewAdminController(reversals *reversal.Service, accounts repository.AccountRepository, metrics *monitoring.Metrics) *AdminController {
	return &AdminController{
		reversals: reversals,
		accounts:  accounts,
		metrics:   metrics,
	}
}

type ReviewRequest struct {
	Notes string `json:"notes"`
}

type CreateAccountRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	Currency string `json:"currency" binding:"required"`
}

type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (c *AdminController) GetReversal(ctx *gin.Context) {
	rev, err := c.reversals.Get(ctx.Request.Context(), ctx.Param("number"))
	if err != nil {
		respondReversalError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, rev)
}

func (c *AdminController) ApproveReversal(ctx *gin.Context) {
	// Body is optional; a bare approval carries no notes.
	var req ReviewRequest
	_ = ctx.ShouldBindJSON(&req)

	rev, err := c.reversals.Approve(ctx.Request.Context(), ctx.Param("number"), ctx.GetString("admin_id"), req.Notes)
	if err != nil {
		respondReversalError(ctx, err)
		return
	}
	c.recordReversal(string(rev.Status))
	ctx.JSON(http.StatusOK, rev)
}

func (c *AdminController) RejectReversal(ctx *gin.Context) {
	var req ReviewRequest
	_ = ctx.ShouldBindJSON(&req)

	rev, err := c.reversals.Reject(ctx.Request.Context(), ctx.Param("number"), ctx.GetString("admin_id"), req.Notes)
	if err != nil {
		respondReversalError(ctx, err)
		return
	}
	c.recordReversal(string(rev.Status))
	ctx.JSON(http.StatusOK, rev)
}

func (c *AdminController) ProcessReversal(ctx *gin.Context) {
	rev, err := c.reversals.Process(ctx.Request.Context(), ctx.Param("number"), ctx.GetString("admin_id"))
	if err != nil {
		respondReversalError(ctx, err)
		return
	}
	c.recordReversal(string(rev.Status))
	ctx.JSON(http.StatusOK, rev)
}

// CreateAccount provisions a wallet account for a user. Called by the users
// service on registration.
func (c *AdminController) CreateAccount(ctx *gin.Context) {
	var req CreateAccountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	account := models.NewAccount(req.UserID, req.Currency)
	if err := account.Validate(); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Message: err.Error(),
		})
		return
	}
	if err := c.accounts.Create(ctx.Request.Context(), account); err != nil {
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to create account",
			Message: err.Error(),
		})
		return
	}
	ctx.JSON(http.StatusCreated, account)
}

// SetAccountStatus suspends, reactivates or closes an account.
func (c *AdminController) SetAccountStatus(ctx *gin.Context) {
	var req SetStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	status := models.AccountStatus(req.Status)
	switch status {
	case models.AccountActive, models.AccountSuspended, models.AccountClosed:
	default:
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Message: "status must be ACTIVE, SUSPENDED or CLOSED",
		})
		return
	}

	if err := c.accounts.SetStatus(ctx.Request.Context(), ctx.Param("number"), status); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			ctx.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Account not found",
				Message: err.Error(),
			})
			return
		}
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to update account status",
			Message: err.Error(),
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account_number": ctx.Param("number"), "status": status})
}

func (c *AdminController) recordReversal(status string) {
	if c.metrics != nil {
		c.metrics.RecordReversal(status)
	}
}
