// Package loommiddleware file: internal/loommiddleware/limiter.go
package loommiddleware

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// IPRateLimiter 管理控制平面的请求速率：
// 一个进程级的全局限制器，叠加按来源 IP 的独立限制器。
// IP 限制器保存在带 TTL 的缓存里，闲置的条目自动过期回收。
type IPRateLimiter struct {
	globalLimiter *rate.Limiter
	ipLimiters    *gocache.Cache
	ipRate        rate.Limit
	ipBurst       int
}

// NewIPRateLimiter 创建一个速率限制器。
// globalRate/globalBurst 约束整个进程，ipRate/ipBurst 约束单个来源。
func NewIPRateLimiter(globalRate float64, globalBurst int, ipRate float64, ipBurst int) *IPRateLimiter {
	l := &IPRateLimiter{
		globalLimiter: rate.NewLimiter(rate.Limit(globalRate), globalBurst),
		ipLimiters:    gocache.New(10*time.Minute, 15*time.Minute),
		ipRate:        rate.Limit(ipRate),
		ipBurst:       ipBurst,
	}
	log.Printf("信息: [Limiter] 初始化完成。全局限制: %.2f req/s, 峰值: %d。单IP限制: %.2f req/s, 峰值: %d",
		globalRate, globalBurst, ipRate, ipBurst)
	return l
}

func (l *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	if cached, ok := l.ipLimiters.Get(ip); ok {
		return cached.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(l.ipRate, l.ipBurst)
	l.ipLimiters.SetDefault(ip, limiter)
	return limiter
}

// Middleware 返回挂到 gin 上的限流中间件
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.globalLimiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "服务器繁忙，请稍后再试"})
			return
		}
		if !l.limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁，请稍后再试"})
			return
		}
		c.Next()
	}
}
