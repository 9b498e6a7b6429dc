// Package plugin_manager file: internal/service/plugin_manager/plugin_manager.go
package plugin_manager

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"LoomBase/internal/core/port"
)

// 应用启动方式，决定装配阶段 (onBeforeLoad) 的行为
const (
	MethodInstall = "install"
	MethodUpgrade = "upgrade"
	MethodStart   = "start"
	MethodReload  = "reload"
)

// Manager 负责一个应用实例下全部插件的记录、实例与生命周期。
// 它的具体方法实现被拆分到 plugin_registry.go, plugin_lifecycle.go 和 plugin_bootstrap.go 中。
type Manager struct {
	host     port.Host
	store    port.PluginRecordStore
	resolver port.PackageResolver
	method   string

	// instances 与 order 一起维护"按注册顺序可遍历"的实例注册表
	mu        sync.RWMutex
	instances map[string]*instanceEntry
	order     []string
}

// instanceEntry 把实例与其构造时绑定的记录字段快照放在一起
type instanceEntry struct {
	plugin  port.Plugin
	options port.PluginOptions
}

// StaticPlugin 是应用启动时静态注入的插件。
// Name 为空时会在注册阶段生成一个合成名称。
type StaticPlugin struct {
	Name        string
	Constructor port.Constructor
	Enabled     bool
	BuiltIn     bool
}

// Options 是 Manager 的构造参数
type Options struct {
	// Method 是本次进程的启动方式 (install/upgrade/start/reload)，
	// 控制记录表同步与注册表回填的先后逻辑
	Method string
	// StaticPlugins 在 Manager 构造时立即注册
	StaticPlugins []StaticPlugin
}

// NewManager 创建一个插件管理器实例并挂接应用级生命周期事件。
func NewManager(host port.Host, store port.PluginRecordStore, resolver port.PackageResolver, opts Options) (*Manager, error) {
	if host == nil {
		return nil, errors.New("Manager 需要一个有效的应用宿主")
	}
	if store == nil {
		return nil, errors.New("Manager 需要一个有效的记录存储")
	}
	if resolver == nil {
		return nil, errors.New("Manager 需要一个有效的包解析器")
	}
	method := opts.Method
	if method == "" {
		method = MethodStart
	}

	m := &Manager{
		host:      host,
		store:     store,
		resolver:  resolver,
		method:    method,
		instances: make(map[string]*instanceEntry),
	}

	for _, sp := range opts.StaticPlugins {
		if _, err := m.SetInstance(sp.Constructor, port.PluginOptions{
			Name:    sp.Name,
			Enabled: sp.Enabled,
			BuiltIn: sp.BuiltIn,
		}); err != nil {
			return nil, fmt.Errorf("注册静态插件 '%s' 失败: %w", sp.Name, err)
		}
	}

	m.registerHooks()
	log.Printf("✅ [PluginManager] 初始化完成 (应用: %s, 方式: %s, 静态插件: %d 个)",
		host.Name(), method, len(opts.StaticPlugins))
	return m, nil
}

// Clone 基于同一组依赖构造一个注册表为空的全新 Manager。
// 用于需要隔离注册表状态的场景（典型如测试）。
func (m *Manager) Clone(host port.Host, method string) (*Manager, error) {
	if host == nil {
		host = m.host
	}
	if method == "" {
		method = m.method
	}
	return NewManager(host, m.store, m.resolver, Options{Method: method})
}

// Store 返回底层的记录存储，供传输层做只读列表查询
func (m *Manager) Store() port.PluginRecordStore { return m.store }
