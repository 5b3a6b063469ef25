package handler

import (
	"errors"
	"log"
	"strings"
	"time"

	"paymentsledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// 处理请求
		c.Next()

		// 记录日志
		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// ============================================================
// 身份认证
// ============================================================

const contextKeyUserID = "userID"

// principalClaims 令牌里结算引擎关心的唯一信息：发起人的用户ID
// 令牌的签发由外部身份系统负责，这里只做验证
type principalClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// parsePrincipal 验证 Bearer 令牌并取出用户ID
func parsePrincipal(tokenStr, secret string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &principalClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("非预期的签名算法")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, err
	}
	claims, ok := token.Claims.(*principalClaims)
	if !ok || !token.Valid || claims.UserID <= 0 {
		return 0, errors.New("令牌无效")
	}
	return claims.UserID, nil
}

// AuthMiddleware 认证中间件：把已认证的用户ID写入请求上下文
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(401, gin.H{
				"code":    response.CodeUnauthorized,
				"message": "缺少或非法的 Authorization 头",
			})
			return
		}

		userID, err := parsePrincipal(strings.TrimPrefix(authHeader, "Bearer "), secret)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{
				"code":    response.CodeUnauthorized,
				"message": "令牌无效或已过期",
			})
			return
		}

		c.Set(contextKeyUserID, userID)
		c.Next()
	}
}

// principalUserID 从上下文取已认证的用户ID
func principalUserID(c *gin.Context) (int64, bool) {
	v, exists := c.Get(contextKeyUserID)
	if !exists {
		return 0, false
	}
	userID, ok := v.(int64)
	return userID, ok
}
