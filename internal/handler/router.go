package handler

import (
	"paymentsledger/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组（全部需要认证：结算要求已认证的发起人）
	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(cfg.Auth.JWTSecret))
	{
		// 结算与流水
		transactions := api.Group("/transactions")
		{
			transactions.POST("", h.Settle)
			transactions.GET("", h.ListTransactions)
			transactions.GET("/:transaction_no", h.GetTransaction)
		}

		// 账户
		accounts := api.Group("/accounts")
		{
			accounts.GET("", h.ListMyAccounts)
			accounts.POST("", h.CreateAccount)
			accounts.POST("/deposit", h.Deposit)
			accounts.GET("/:id", h.GetAccount)
		}

		// 参考数据：交易类型与汇率
		api.GET("/transaction-types", h.ListTransactionTypes)
		api.PUT("/transaction-types", h.UpsertTransactionType)
		api.GET("/exchange-rates", h.ListExchangeRates)
		api.PUT("/exchange-rates", h.UpsertExchangeRate)
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
