// Package http 收款方式服务接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/response"

	"github.com/wyfcoding/paymentplatform/internal/requisite/application"
	"github.com/wyfcoding/paymentplatform/internal/requisite/domain"
)

// RequisiteHandler HTTP 处理器
type RequisiteHandler struct {
	service *application.BankDetailService
}

// NewRequisiteHandler 创建 HTTP 处理器实例
func NewRequisiteHandler(service *application.BankDetailService) *RequisiteHandler {
	return &RequisiteHandler{service: service}
}

// RegisterRoutes 注册路由
func (h *RequisiteHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/requisites")
	{
		api.POST("", h.Create)              // 创建收款方式
		api.PUT("/:id", h.Update)           // 更新限额与开关
		api.DELETE("/:id", h.Archive)       // 归档
		api.GET("/:id", h.Get)              // 详情
		api.GET("", h.ListByTrader)         // 按交易员列表
	}
}

func statusFor(err error) int {
	if errors.Is(err, domain.ErrBankDetailNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// CreateRequisiteRequest 创建收款方式请求
type CreateRequisiteRequest struct {
	TraderID             string  `json:"trader_id" binding:"required"`
	MethodType           string  `json:"method_type" binding:"required"`
	BankType             string  `json:"bank_type"`
	CardNumber           string  `json:"card_number"`
	PhoneNumber          string  `json:"phone_number"`
	Owner                string  `json:"owner"`
	MinAmount            string  `json:"min_amount"`
	MaxAmount            string  `json:"max_amount"`
	IntervalMinutes      int     `json:"interval_minutes"`
	OperationLimit       int     `json:"operation_limit"`
	SumLimit             string  `json:"sum_limit"`
	MaxCountTransactions int     `json:"max_count_transactions"`
	DeviceID             *string `json:"device_id"`
}

// Create 创建收款方式
func (h *RequisiteHandler) Create(c *gin.Context) {
	var req CreateRequisiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	minAmount, err := parseAmount(req.MinAmount)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid min_amount", "")
		return
	}
	maxAmount, err := parseAmount(req.MaxAmount)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid max_amount", "")
		return
	}
	sumLimit, err := parseAmount(req.SumLimit)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid sum_limit", "")
		return
	}

	detail, err := h.service.Create(c.Request.Context(), application.CreateBankDetailCommand{
		TraderID:             req.TraderID,
		MethodType:           req.MethodType,
		BankType:             req.BankType,
		CardNumber:           req.CardNumber,
		PhoneNumber:          req.PhoneNumber,
		Owner:                req.Owner,
		MinAmount:            minAmount,
		MaxAmount:            maxAmount,
		IntervalMinutes:      req.IntervalMinutes,
		OperationLimit:       req.OperationLimit,
		SumLimit:             sumLimit,
		MaxCountTransactions: req.MaxCountTransactions,
		DeviceID:             req.DeviceID,
	})
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to create bank detail",
			"trader_id", req.TraderID, "error", err)
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	response.Success(c, detail)
}

// UpdateRequisiteRequest 更新收款方式请求，缺省字段不变更
type UpdateRequisiteRequest struct {
	MinAmount            *string `json:"min_amount"`
	MaxAmount            *string `json:"max_amount"`
	IntervalMinutes      *int    `json:"interval_minutes"`
	OperationLimit       *int    `json:"operation_limit"`
	SumLimit             *string `json:"sum_limit"`
	MaxCountTransactions *int    `json:"max_count_transactions"`
	IsActive             *bool   `json:"is_active"`
}

// Update 更新收款方式
func (h *RequisiteHandler) Update(c *gin.Context) {
	detailID := c.Param("id")
	if detailID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "detail_id is required", "")
		return
	}

	var req UpdateRequisiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	cmd := application.UpdateBankDetailCommand{
		IntervalMinutes:      req.IntervalMinutes,
		OperationLimit:       req.OperationLimit,
		MaxCountTransactions: req.MaxCountTransactions,
		IsActive:             req.IsActive,
	}
	var err error
	if cmd.MinAmount, err = parseOptionalAmount(req.MinAmount); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid min_amount", "")
		return
	}
	if cmd.MaxAmount, err = parseOptionalAmount(req.MaxAmount); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid max_amount", "")
		return
	}
	if cmd.SumLimit, err = parseOptionalAmount(req.SumLimit); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid sum_limit", "")
		return
	}

	detail, err := h.service.Update(c.Request.Context(), detailID, cmd)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to update bank detail",
			"detail_id", detailID, "error", err)
		response.ErrorWithStatus(c, statusFor(err), err.Error(), "")
		return
	}

	response.Success(c, detail)
}

// Archive 归档收款方式
func (h *RequisiteHandler) Archive(c *gin.Context) {
	detailID := c.Param("id")
	if detailID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "detail_id is required", "")
		return
	}

	if err := h.service.Archive(c.Request.Context(), detailID); err != nil {
		response.ErrorWithStatus(c, statusFor(err), err.Error(), "")
		return
	}
	response.Success(c, gin.H{"status": "archived", "detail_id": detailID})
}

// Get 收款方式详情
func (h *RequisiteHandler) Get(c *gin.Context) {
	detailID := c.Param("id")

	detail, err := h.service.Get(c.Request.Context(), detailID)
	if err != nil {
		response.ErrorWithStatus(c, statusFor(err), err.Error(), "")
		return
	}
	response.Success(c, detail)
}

// ListByTrader 按交易员分页列出收款方式
func (h *RequisiteHandler) ListByTrader(c *gin.Context) {
	traderID := c.Query("trader_id")
	if traderID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "trader_id is required", "")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	details, total, err := h.service.ListByTrader(c.Request.Context(), traderID, page, limit)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, gin.H{"requisites": details, "total": total})
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseOptionalAmount(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	amount, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}
