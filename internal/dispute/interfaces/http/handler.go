// Package http 争议服务接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/response"

	"github.com/wyfcoding/paymentplatform/internal/dispute/application"
	"github.com/wyfcoding/paymentplatform/internal/dispute/domain"
	txndomain "github.com/wyfcoding/paymentplatform/internal/transaction/domain"
)

// DisputeHandler HTTP 处理器
type DisputeHandler struct {
	service *application.DisputeService
}

// NewDisputeHandler 创建 HTTP 处理器实例
func NewDisputeHandler(service *application.DisputeService) *DisputeHandler {
	return &DisputeHandler{service: service}
}

// RegisterRoutes 注册路由
func (h *DisputeHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/disputes")
	{
		api.POST("", h.OpenDispute)            // 开启争议
		api.POST("/:id/resolve", h.Resolve)    // 裁决争议
		api.GET("/:id", h.GetDispute)          // 争议详情
		api.GET("", h.ListDisputes)            // 争议列表
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrDisputeNotFound),
		errors.Is(err, txndomain.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDisputeExists),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, txndomain.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, txndomain.ErrInvalidTransition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// OpenDisputeRequest 开启争议请求
type OpenDisputeRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	MerchantID    string `json:"merchant_id" binding:"required"`
	Reason        string `json:"reason"`
}

// OpenDispute 开启争议
func (h *DisputeHandler) OpenDispute(c *gin.Context) {
	var req OpenDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	dispute, err := h.service.Open(c.Request.Context(), application.OpenDisputeCommand{
		TransactionID: req.TransactionID,
		MerchantID:    req.MerchantID,
		Reason:        req.Reason,
	})
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to open dispute",
			"transaction_id", req.TransactionID, "error", err)
		response.ErrorWithStatus(c, statusFor(err), err.Error(), "")
		return
	}

	response.Success(c, dispute)
}

// ResolveDisputeRequest 裁决争议请求
type ResolveDisputeRequest struct {
	Accept     *bool  `json:"accept" binding:"required"`
	Resolution string `json:"resolution"`
}

// Resolve 裁决争议
func (h *DisputeHandler) Resolve(c *gin.Context) {
	disputeID := c.Param("id")
	if disputeID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "dispute_id is required", "")
		return
	}

	var req ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	dispute, err := h.service.Resolve(c.Request.Context(), application.ResolveDisputeCommand{
		DisputeID:  disputeID,
		Accept:     *req.Accept,
		Resolution: req.Resolution,
	})
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to resolve dispute",
			"dispute_id", disputeID, "error", err)
		response.ErrorWithStatus(c, statusFor(err), err.Error(), "")
		return
	}

	response.Success(c, dispute)
}

// GetDispute 争议详情
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	disputeID := c.Param("id")

	dispute, err := h.service.Get(c.Request.Context(), disputeID)
	if err != nil {
		response.ErrorWithStatus(c, statusFor(err), err.Error(), "")
		return
	}
	response.Success(c, dispute)
}

// ListDisputes 争议列表
func (h *DisputeHandler) ListDisputes(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	status := domain.Status(c.Query("status"))

	disputes, total, err := h.service.List(c.Request.Context(), status, page, limit)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, gin.H{"disputes": disputes, "total": total})
}
