// file: internal/transport/http/router/router.go
package router

import (
	"database/sql"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"LoomBase/internal/loomobserve"
	"LoomBase/internal/service"
	"LoomBase/internal/service/plugin_manager"
)

// Dependencies 结构体用于将所有依赖项注入到路由器中
type Dependencies struct {
	PluginManager      *plugin_manager.Manager
	AuthDB             *sql.DB
	RateLimiter        gin.HandlerFunc
	SetupToken         string
	SetupTokenDeadline time.Time
}

var pluginNamePattern = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._-]*/)?[a-z0-9][a-z0-9._-]*$`)

// New 创建并配置一个全新的、基于 Gin 的 HTTP 路由器
func New(deps Dependencies) http.Handler {
	router := gin.Default()

	// --- 配置全局中间件 ---
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(loomobserve.PrometheusMiddleware())
	if deps.RateLimiter != nil {
		router.Use(deps.RateLimiter)
	}

	// 插件名校验器，add 接口的 binding 标签会引用它
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("pluginname", func(fl validator.FieldLevel) bool {
			return pluginNamePattern.MatchString(fl.Field().String())
		})
	}

	router.GET("/metrics", gin.WrapH(loomobserve.Handler()))

	v1 := router.Group("/api/v1")
	{
		// --- 系统/认证平面 (System/Auth Plane) ---
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", loginHandler(deps.AuthDB))
		}
		systemGroup := v1.Group("/system")
		{
			systemGroup.Any("/setup", setupHandler(deps.AuthDB, deps.SetupToken, deps.SetupTokenDeadline))
			systemGroup.GET("/status", statusHandler(deps.AuthDB))
		}

		// --- 控制平面 (Control Plane): 插件生命周期 ---
		pmGroup := v1.Group("/pm")
		pmGroup.Use(authMiddleware(), requireAdmin())
		{
			pmGroup.GET("/list", listPluginsHandler(deps.PluginManager))
			pmGroup.POST("/add", addPluginHandler(deps.PluginManager))
			pmGroup.POST("/:name/enable", lifecycleHandler(deps.PluginManager, "enable"))
			pmGroup.POST("/:name/disable", lifecycleHandler(deps.PluginManager, "disable"))
			pmGroup.POST("/:name/remove", lifecycleHandler(deps.PluginManager, "remove"))
			pmGroup.POST("/:name/upgrade", lifecycleHandler(deps.PluginManager, "upgrade"))
		}
	}

	return router
}

// =============================================================================
//  Gin 中间件 (Middleware)
// =============================================================================

const claimsKey = "claims"

// authMiddleware 解析 Bearer 令牌并把 Claim 挂到请求上下文
func authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		const prefix = "Bearer "
		header := c.GetHeader("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "需要认证"})
			return
		}
		claims, err := service.ParseToken(header[len(prefix):])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "令牌无效或已过期"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// requireAdmin 是一个确保只有管理员角色才能访问的中间件
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, exists := c.Get(claimsKey)
		claims, ok := val.(*service.Claim)
		if !exists || !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "需要认证"})
			return
		}
		if claims.Role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "需要管理员权限"})
			return
		}
		c.Next()
	}
}
