package handler

import (
	"errors"
	"strconv"

	"paymentsledger/internal/config"
	"paymentsledger/internal/infrastructure/lock"
	"paymentsledger/internal/repository"
	"paymentsledger/internal/service"
	"paymentsledger/pkg/money"
	"paymentsledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	settlementService *service.SettlementService
	accountService    *service.AccountService
	rateService       *service.RateService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		settlementService: service.NewSettlementService(db, rdb, cfg),
		accountService:    service.NewAccountService(db),
		rateService:       service.NewRateService(db, rdb, cfg),
	}
}

// settlementError 把结算错误映射为类型化的业务错误码
func settlementError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, service.ErrNotAuthorized):
		response.BusinessError(c, response.CodeNotAuthorized, err.Error())
	case errors.Is(err, repository.ErrInsufficientBalance):
		response.BusinessError(c, response.CodeInsufficientBalance, err.Error())
	case errors.Is(err, repository.ErrTransactionTypeNotFound):
		response.BusinessError(c, response.CodeUnknownTransactionType, err.Error())
	case errors.Is(err, repository.ErrExchangeRateNotFound):
		response.BusinessError(c, response.CodeExchangeRateNotFound, err.Error())
	case errors.Is(err, lock.ErrLockTimeout):
		response.BusinessError(c, response.CodeLockTimeout, err.Error())
	case errors.Is(err, repository.ErrStoreFailed):
		// 持久化失败要和普通业务失败区分开，调用方据此触发人工核对
		response.BusinessError(c, response.CodeStoreFailed, err.Error())
	case errors.Is(err, repository.ErrOptimisticLock):
		response.BusinessError(c, response.CodeConflict, err.Error())
	case errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, service.ErrSelfTransfer),
		errors.Is(err, service.ErrInvalidCurrency),
		errors.Is(err, money.ErrInvalidCommissionRate),
		errors.Is(err, money.ErrInvalidConversionRate):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// ============================================================
// 结算接口
// ============================================================

// SettleRequest 结算请求
type SettleRequest struct {
	RequestID         string `json:"request_id" binding:"required"` // 幂等ID，客户端生成
	SenderAccountID   int64  `json:"sender_account_id" binding:"required"`
	ReceiverAccountID int64  `json:"receiver_account_id" binding:"required"`
	Amount            string `json:"amount" binding:"required"` // 十进制字符串，避免浮点
	TransactionType   string `json:"transaction_type" binding:"required"`
}

// Settle 执行结算
// POST /api/v1/transactions
//
// 【关键点】结算是整个系统最核心的操作：
// 1. 幂等性：相同的 request_id 只会结算一次
// 2. 原子性：双账户余额变更与流水追加同时成功或同时失败
// 3. 并发安全：账户对锁 + 行锁防止丢失更新
func (h *Handler) Settle(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	userID, ok := principalUserID(c)
	if !ok {
		response.Error(c, response.CodeUnauthorized, "未认证")
		return
	}

	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}

	record, err := h.settlementService.Settle(c.Request.Context(), &service.SettleRequest{
		RequestID:         req.RequestID,
		SenderAccountID:   req.SenderAccountID,
		ReceiverAccountID: req.ReceiverAccountID,
		Amount:            amount,
		TransactionType:   req.TransactionType,
		PrincipalUserID:   userID,
	})
	if err != nil {
		settlementError(c, err)
		return
	}

	response.Success(c, record)
}

// GetTransaction 查询单条流水
// GET /api/v1/transactions/:transaction_no
func (h *Handler) GetTransaction(c *gin.Context) {
	transactionNo := c.Param("transaction_no")
	record, err := h.settlementService.GetTransaction(c.Request.Context(), transactionNo)
	if err != nil {
		if errors.Is(err, service.ErrTransactionNotFound) {
			response.Error(c, response.CodeNotFound, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, record)
}

// ListTransactions 查询流水
// GET /api/v1/transactions?account_id=xxx&page=1&page_size=20
// 不带 account_id 时返回当前用户名下所有账户的流水
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := principalUserID(c)
	if !ok {
		response.Error(c, response.CodeUnauthorized, "未认证")
		return
	}
	page, pageSize := pagination(c)

	var (
		records interface{}
		total   int64
		err     error
	)
	if accountIDStr := c.Query("account_id"); accountIDStr != "" {
		accountID, parseErr := strconv.ParseInt(accountIDStr, 10, 64)
		if parseErr != nil {
			response.ParamError(c, "account_id 参数错误")
			return
		}
		records, total, err = h.settlementService.ListAccountTransactions(c.Request.Context(), accountID, page, pageSize)
	} else {
		records, total, err = h.settlementService.ListUserTransactions(c.Request.Context(), userID, page, pageSize)
	}
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 账户接口
// ============================================================

// GetAccount 查询账户
// GET /api/v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	account, err := h.accountService.GetAccount(c.Request.Context(), id)
	if err != nil {
		settlementError(c, err)
		return
	}
	response.Success(c, account)
}

// ListMyAccounts 查询当前用户的账户
// GET /api/v1/accounts
func (h *Handler) ListMyAccounts(c *gin.Context) {
	userID, ok := principalUserID(c)
	if !ok {
		response.Error(c, response.CodeUnauthorized, "未认证")
		return
	}

	accounts, err := h.accountService.ListUserAccounts(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, accounts)
}

// CreateAccountRequest 开户请求
type CreateAccountRequest struct {
	Currency string `json:"currency" binding:"required"`
}

// CreateAccount 为当前用户开立账户
// POST /api/v1/accounts
func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	userID, ok := principalUserID(c)
	if !ok {
		response.Error(c, response.CodeUnauthorized, "未认证")
		return
	}

	account, err := h.accountService.CreateAccount(c.Request.Context(), userID, req.Currency)
	if err != nil {
		settlementError(c, err)
		return
	}
	response.Success(c, account)
}

// DepositRequest 充值请求
type DepositRequest struct {
	AccountID int64  `json:"account_id" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

// Deposit 充值（简化版，实际应该走支付渠道）
// POST /api/v1/accounts/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	userID, ok := principalUserID(c)
	if !ok {
		response.Error(c, response.CodeUnauthorized, "未认证")
		return
	}

	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}

	account, err := h.accountService.Deposit(c.Request.Context(), userID, req.AccountID, amount)
	if err != nil {
		settlementError(c, err)
		return
	}
	response.Success(c, account)
}

// ============================================================
// 参考数据接口
// ============================================================

// ListTransactionTypes 交易类型列表
// GET /api/v1/transaction-types
func (h *Handler) ListTransactionTypes(c *gin.Context) {
	types, err := h.rateService.ListTransactionTypes(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, types)
}

// UpsertTransactionTypeRequest 交易类型维护请求
type UpsertTransactionTypeRequest struct {
	Code           string `json:"code" binding:"required,max=5"`
	CommissionRate string `json:"commission_rate" binding:"required"`
}

// UpsertTransactionType 新增或更新交易类型
// PUT /api/v1/transaction-types
func (h *Handler) UpsertTransactionType(c *gin.Context) {
	var req UpsertTransactionTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	rate, err := money.ParseRate(req.CommissionRate)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}

	tt, err := h.rateService.UpsertTransactionType(c.Request.Context(), req.Code, rate)
	if err != nil {
		settlementError(c, err)
		return
	}
	response.Success(c, tt)
}

// ListExchangeRates 汇率列表
// GET /api/v1/exchange-rates
func (h *Handler) ListExchangeRates(c *gin.Context) {
	rates, err := h.rateService.ListExchangeRates(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, rates)
}

// UpsertExchangeRateRequest 汇率维护请求
type UpsertExchangeRateRequest struct {
	FromCurrency string `json:"from_currency" binding:"required,len=3"`
	ToCurrency   string `json:"to_currency" binding:"required,len=3"`
	Rate         string `json:"rate" binding:"required"`
}

// UpsertExchangeRate 新增或更新汇率
// PUT /api/v1/exchange-rates
func (h *Handler) UpsertExchangeRate(c *gin.Context) {
	var req UpsertExchangeRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	rate, err := money.ParseRate(req.Rate)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}

	er, err := h.rateService.UpsertExchangeRate(c.Request.Context(), req.FromCurrency, req.ToCurrency, rate)
	if err != nil {
		settlementError(c, err)
		return
	}
	response.Success(c, er)
}
