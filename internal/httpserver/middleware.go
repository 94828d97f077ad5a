package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/pkg/metrics"
	"github.com/seweryn-pilarska/email-reply/pkg/rbac"
	"github.com/seweryn-pilarska/email-reply/pkg/trace"
	"github.com/seweryn-pilarska/email-reply/pkg/util"
)

const (
	subjectKey = "subject"
	roleKey    = "role"
)

// TraceMiddleware 读取或生成 X-Trace-ID，写入 context 并回写到响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(trace.HeaderName())
		if traceID == "" {
			traceID = trace.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName(), traceID)
		c.Next()
	}
}

// MetricsMiddleware 记录 http_request_duration_seconds
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// AuthMiddleware 校验 Bearer JWT。secret 为空时不做鉴权
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSecret == "" {
			c.Next()
			return
		}

		token := util.ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := util.ParseJWTClaims(token, jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// store subject and role in context so handlers can use them
		c.Set(subjectKey, claims.Subject)
		c.Set(roleKey, rbac.NormalizeRole(claims.Role))
		c.Next()
	}
}

// RateLimitMiddleware 按 JWT subject（未鉴权时按客户端 IP）限流。
// 限流后端出错时放行
func RateLimitMiddleware(limiter util.RateLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(subjectKey)
		if key == "" {
			key = c.ClientIP()
		}

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("Rate limiter unavailable, allowing request",
				zap.String("backend", limiter.Backend()),
				zap.Error(err),
			)
			c.Next()
			return
		}
		if !allowed {
			metrics.IncrementRateLimited(limiter.Backend())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// RequirePermission 要求 token 角色具有指定权限，需在 AuthMiddleware 之后使用
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(roleKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "client not authenticated"})
			return
		}

		if err := rbac.CheckPermission(role.(string), permission); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
