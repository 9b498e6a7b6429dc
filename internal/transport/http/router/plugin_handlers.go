// file: internal/transport/http/router/plugin_handlers.go
package router

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"LoomBase/internal/core/port"
	"LoomBase/internal/service/plugin_manager"
)

// listPluginsHandler 返回当前应用实例下的全部插件记录
func listPluginsHandler(pm *plugin_manager.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := pm.Store().List(c.Request.Context(), nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": records})
	}
}

// addPluginRequest 支持 npm、zip、本地路径三种来源，三选一
type addPluginRequest struct {
	Name     string         `json:"name" binding:"omitempty,pluginname"`
	Registry string         `json:"registry" binding:"omitempty,url"`
	Version  string         `json:"version"`
	Zip      string         `json:"zip"`
	Local    string         `json:"local"`
	Options  map[string]any `json:"options"`
}

// addPluginHandler 添加一个插件（add 永远在本进程内执行，不经过控制通道）
func addPluginHandler(pm *plugin_manager.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addPluginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "请求体不合法: " + err.Error()})
			return
		}

		var err error
		switch {
		case req.Local != "":
			err = pm.AddByLocalPath(c.Request.Context(), req.Local, req.Options)
		case req.Zip != "":
			err = pm.AddByZip(c.Request.Context(), req.Zip, req.Options)
		case req.Name != "":
			err = pm.AddByNpm(c.Request.Context(), plugin_manager.AddNpmOptions{
				Name:     req.Name,
				Registry: req.Registry,
				Version:  req.Version,
				Options:  req.Options,
			})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "必须提供 name (npm 来源)、zip 或 local (本地路径) 之一"})
			return
		}

		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "插件添加成功"})
	}
}

// lifecycleHandler 把一个生命周期方法挂到 /pm/:name/<method> 上
func lifecycleHandler(pm *plugin_manager.Manager, method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := pm.Dispatch(c.Request.Context(), method, []string{name}); err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "操作成功", "plugin": name})
	}
}

// statusForError 把生命周期错误分类映射到 HTTP 状态码
func statusForError(err error) int {
	switch {
	case errors.Is(err, port.ErrPluginNotFound):
		return http.StatusNotFound
	case errors.Is(err, port.ErrDuplicatePlugin):
		return http.StatusConflict
	case errors.Is(err, port.ErrBuiltInProtected),
		errors.Is(err, port.ErrRequiredPluginNotEnabled):
		return http.StatusForbidden
	case errors.Is(err, port.ErrInvalidPluginExport),
		errors.Is(err, port.ErrPackageResolution):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
