// file: internal/transport/http/router/auth_handlers.go
package router

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"LoomBase/internal/service"
)

// statusHandler 返回系统状态，用于前端判断是否需要进入安装流程
func statusHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if service.UserCount(db) > 0 {
			c.JSON(http.StatusOK, gin.H{"status": "ready_for_login"})
		} else {
			c.JSON(http.StatusOK, gin.H{"status": "needs_setup"})
		}
	}
}

// loginHandler 处理用户登录请求
func loginHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			User string `form:"user" json:"user" binding:"required"`
			Pass string `form:"pass" json:"pass" binding:"required"`
		}
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "用户名或密码不能为空"})
			return
		}
		id, role, ok := service.CheckUser(db, req.User, req.Pass)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码无效"})
			return
		}
		token, err := service.GenToken(id, role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "生成令牌失败"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": gin.H{"id": id, "username": req.User, "role": role}})
	}
}

// setupHandler 处理首次安装时的管理员创建请求。
// 仅在系统中尚无任何用户、且携带有效的一次性安装令牌时可用。
func setupHandler(db *sql.DB, setupToken string, deadline time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		if service.UserCount(db) > 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": "系统已初始化，安装接口已关闭"})
			return
		}
		if setupToken == "" || time.Now().After(deadline) {
			c.JSON(http.StatusForbidden, gin.H{"error": "安装令牌不存在或已过期，请重启服务获取新令牌"})
			return
		}

		token := c.Query("token")
		if token == "" {
			token = c.PostForm("token")
		}
		if token != setupToken {
			c.JSON(http.StatusForbidden, gin.H{"error": "安装令牌无效"})
			return
		}

		var req struct {
			User string `form:"user" json:"user" binding:"required"`
			Pass string `form:"pass" json:"pass" binding:"required,min=8"`
		}
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "用户名或密码不合法（密码至少8位）"})
			return
		}
		if err := service.CreateAdmin(db, req.User, req.Pass); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "创建管理员失败: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "管理员创建成功，请使用该账户登录"})
	}
}
