// Package loomobserve 暴露 Prometheus 指标
package loomobserve

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标定义
var (
	// PluginOps 按生命周期方法与结果统计操作次数
	PluginOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loombase_plugin_ops_total",
		Help: "插件生命周期操作总数",
	}, []string{"method", "result"})

	// EnabledPlugins 当前处于启用状态的插件数量
	EnabledPlugins = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loombase_plugins_enabled",
		Help: "当前启用的插件数量",
	})

	// ControlConnections 控制通道累计接入的连接数
	ControlConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loombase_control_connections_total",
		Help: "控制通道连接总数",
	})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loombase_http_request_duration_seconds",
		Help:    "HTTP 请求耗时分布",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "code"})
)

// Register 必须在 main 调用一次
func Register() {
	prometheus.MustRegister(PluginOps, EnabledPlugins, ControlConnections, httpRequestDuration)
}

// Handler 返回 HTTP 处理器
func Handler() http.Handler { return promhttp.Handler() }

// ObservePluginOp 记录一次生命周期操作的结果
func ObservePluginOp(method string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PluginOps.WithLabelValues(method, result).Inc()
}

// PrometheusMiddleware 记录每个 HTTP 请求的耗时直方图
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		httpRequestDuration.
			WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
