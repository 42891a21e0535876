// Package http 交易服务接口
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/response"

	"github.com/wyfcoding/paymentplatform/internal/transaction/application"
	"github.com/wyfcoding/paymentplatform/internal/transaction/domain"
)

// TransactionHandler HTTP 处理器
// 负责处理收款/付款交易与状态流转相关的 HTTP 请求
type TransactionHandler struct {
	payin  *application.PayinService
	payout *application.PayoutService
	status *application.StatusService
}

// NewTransactionHandler 创建 HTTP 处理器实例
func NewTransactionHandler(payin *application.PayinService, payout *application.PayoutService, status *application.StatusService) *TransactionHandler {
	return &TransactionHandler{payin: payin, payout: payout, status: status}
}

// RegisterRoutes 注册路由
func (h *TransactionHandler) RegisterRoutes(router *gin.RouterGroup) {
	payments := router.Group("/api/v1/payments")
	{
		payments.POST("/in", h.CreateInbound)   // 创建收款交易
		payments.POST("/out", h.CreatePayout)   // 创建付款交易
	}
	transactions := router.Group("/api/v1/transactions")
	{
		transactions.GET("/:id", h.GetTransaction)           // 获取交易详情
		transactions.POST("/:id/status", h.UpdateStatus)     // 状态流转
	}
	// 聚合器兜底路径的回调入口
	router.POST("/api/v1/aggregators/callback/:id", h.AggregatorCallback)
}

// statusFor 领域哨兵错误到 HTTP 状态码的映射
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateOrder),
		errors.Is(err, domain.ErrStatusConflict),
		errors.Is(err, domain.ErrDisputeOpen):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoRequisite):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// CreateInboundRequest 创建收款交易请求
type CreateInboundRequest struct {
	MerchantID       string `json:"merchant_id" binding:"required"`
	OrderID          string `json:"order_id" binding:"required"`
	ClientID         string `json:"client_id"`
	MethodID         string `json:"method_id" binding:"required"`
	Amount           string `json:"amount" binding:"required"`
	MerchantRate     string `json:"merchant_rate"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// CreateInbound 创建收款交易
func (h *TransactionHandler) CreateInbound(c *gin.Context) {
	var req CreateInboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid amount", "")
		return
	}
	merchantRate := decimal.Zero
	if req.MerchantRate != "" {
		if merchantRate, err = decimal.NewFromString(req.MerchantRate); err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "invalid merchant_rate", "")
			return
		}
	}

	result, err := h.payin.CreateInbound(c.Request.Context(), application.CreateInboundCommand{
		MerchantID:   req.MerchantID,
		OrderID:      req.OrderID,
		ClientID:     req.ClientID,
		MethodID:     req.MethodID,
		Amount:       amount,
		MerchantRate: merchantRate,
		ExpiresIn:    time.Duration(req.ExpiresInSeconds) * time.Second,
	})
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to create inbound payment",
			"merchant_id", req.MerchantID, "order_id", req.OrderID, "error", err)
		response.ErrorWithStatus(c, statusFor(err), err.Error(), "")
		return
	}

	body := gin.H{
		"transaction": result.Transaction,
		"reused":      result.Reused,
	}
	if result.Requisite != nil {
		body["requisite"] = result.Requisite
	}
	response.Success(c, body)
}

// CreatePayoutRequest 创建付款交易请求
type CreatePayoutRequest struct {
	MerchantID       string `json:"merchant_id" binding:"required"`
	OrderID          string `json:"order_id" binding:"required"`
	MethodID         string `json:"method_id" binding:"required"`
	TraderID         string `json:"trader_id" binding:"required"`
	Amount           string `json:"amount" binding:"required"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// CreatePayout 创建付款交易
func (h *TransactionHandler) CreatePayout(c *gin.Context) {
	var req CreatePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid amount", "")
		return
	}

	txn, err := h.payout.CreatePayout(c.Request.Context(), application.CreatePayoutCommand{
		MerchantID: req.MerchantID,
		OrderID:    req.OrderID,
		MethodID:   req.MethodID,
		TraderID:   req.TraderID,
		Amount:     amount,
		ExpiresIn:  time.Duration(req.ExpiresInSeconds) * time.Second,
	})
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to create payout",
			"merchant_id", req.MerchantID, "order_id", req.OrderID, "error", err)
		response.ErrorWithStatus(c, statusFor(err), err.Error(), "")
		return
	}

	response.Success(c, txn)
}

// GetTransaction 获取交易详情
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	transactionID := c.Param("id")
	if transactionID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "transaction_id is required", "")
		return
	}

	txn, err := h.status.Get(c.Request.Context(), transactionID)
	if err != nil {
		response.ErrorWithStatus(c, statusFor(err), err.Error(), "")
		return
	}
	response.Success(c, txn)
}

// UpdateStatusRequest 状态流转请求
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus 状态流转
func (h *TransactionHandler) UpdateStatus(c *gin.Context) {
	transactionID := c.Param("id")
	if transactionID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "transaction_id is required", "")
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	txn, err := h.status.UpdateStatus(c.Request.Context(), transactionID, domain.Status(req.Status))
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to update transaction status",
			"transaction_id", transactionID, "status", req.Status, "error", err)
		response.ErrorWithStatus(c, statusFor(err), err.Error(), "")
		return
	}

	response.Success(c, txn)
}

// AggregatorCallbackRequest 聚合器回调请求
type AggregatorCallbackRequest struct {
	Status string `json:"status" binding:"required"`
}

// AggregatorCallback 聚合器回调：合作方通知兜底交易的终态
func (h *TransactionHandler) AggregatorCallback(c *gin.Context) {
	transactionID := c.Param("id")

	var req AggregatorCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	target := domain.Status(req.Status)
	switch target {
	case domain.StatusReady, domain.StatusCanceled, domain.StatusExpired:
	default:
		response.ErrorWithStatus(c, http.StatusBadRequest, "unsupported callback status", "")
		return
	}

	txn, err := h.status.UpdateStatus(c.Request.Context(), transactionID, target)
	if err != nil {
		// 重复回调落在已到达的状态上按成功处理
		if errors.Is(err, domain.ErrStatusConflict) {
			response.Success(c, gin.H{"status": "already_processed"})
			return
		}
		logging.Error(c.Request.Context(), "Failed to process aggregator callback",
			"transaction_id", transactionID, "status", req.Status, "error", err)
		response.ErrorWithStatus(c, statusFor(err), err.Error(), "")
		return
	}

	response.Success(c, gin.H{"transaction_id": txn.TransactionID, "status": txn.Status})
}
