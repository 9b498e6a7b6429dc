// Package auditlog 是一个内置插件：把插件生命周期事件写入审计表。
// 它同时充当插件接入方式的参考实现——在 init() 中登记构造器，
// 由宿主在装配阶段按名称构造。
package auditlog

import (
	"context"
	"fmt"
	"log"

	"LoomBase/internal/core/port"
	"LoomBase/internal/service/plugin_manager"
)

// PluginName 是本插件在记录与注册表中的名称
const PluginName = "audit-log"

func init() {
	plugin_manager.RegisterPlugin(PluginName, New)
}

// Plugin 实现 port.Plugin
type Plugin struct {
	port.BasePlugin
	host port.Host
	opts port.PluginOptions
}

// New 是登记到构造器注册表的入口
func New(host port.Host, opts port.PluginOptions) port.Plugin {
	return &Plugin{host: host, opts: opts}
}

// Install 创建审计表
func (p *Plugin) Install(ctx context.Context, _ map[string]any) error {
	query := `
    CREATE TABLE IF NOT EXISTS plugin_audit_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        app_name TEXT NOT NULL,
        event TEXT NOT NULL,
        plugin_name TEXT NOT NULL,
        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL
    );`
	if _, err := p.host.DB().ExecContext(ctx, query); err != nil {
		return fmt.Errorf("创建 'plugin_audit_log' 表失败: %w", err)
	}
	return nil
}

// Load 订阅生命周期事件
func (p *Plugin) Load(context.Context) error {
	for _, event := range []string{
		plugin_manager.EventAfterEnablePlugin,
		plugin_manager.EventAfterDisablePlugin,
		plugin_manager.EventAfterLoadPlugin,
	} {
		p.host.On(event, p.recordEvent(event))
	}
	return nil
}

func (p *Plugin) recordEvent(event string) func(ctx context.Context, args ...any) error {
	return func(ctx context.Context, args ...any) error {
		if len(args) == 0 {
			return nil
		}
		name, ok := args[0].(string)
		if !ok || name == PluginName {
			return nil
		}
		_, err := p.host.DB().ExecContext(ctx,
			`INSERT INTO plugin_audit_log (app_name, event, plugin_name) VALUES (?, ?, ?)`,
			p.host.Name(), event, name)
		if err != nil {
			// 审计失败不应阻断生命周期流程
			log.Printf("⚠️ [AuditLog] 写入审计记录失败 (event=%s, plugin=%s): %v", event, name, err)
		}
		return nil
	}
}
