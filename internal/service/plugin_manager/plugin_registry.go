// Package plugin_manager file: internal/service/plugin_manager/plugin_registry.go
package plugin_manager

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"LoomBase/internal/core/port"
)

// 包级构造器注册表。
// 插件包在自己的 init() 中调用 RegisterPlugin 登记入口构造器，
// 宿主在安装/装配时按包名取回它——这等价于"按包名动态加载入口类"。
var (
	constructorsMu sync.RWMutex
	constructors   = make(map[string]port.Constructor)
)

// RegisterPlugin 登记一个插件名到构造器的映射。
// 重复登记以后者为准（升级场景下新包覆盖旧入口）。
func RegisterPlugin(name string, ctor port.Constructor) {
	if name == "" {
		panic("plugin_manager: RegisterPlugin 的 name 不能为空")
	}
	if ctor == nil {
		panic("plugin_manager: RegisterPlugin 的 constructor 不能为 nil")
	}
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	if _, dup := constructors[name]; dup {
		log.Printf("⚠️ [PluginManager] 插件构造器 '%s' 被重复登记，旧入口已被覆盖。", name)
	}
	constructors[name] = ctor
}

func lookupConstructor(name string) port.Constructor {
	constructorsMu.RLock()
	defer constructorsMu.RUnlock()
	return constructors[name]
}

// SetInstance 构造插件实例并放入注册表，键为插件名。
// ctor 为 nil 时按 opts.Name 从构造器注册表取回；
// 名称为空的静态插件会得到一个合成名称，消除"按类引用作键"的歧义。
func (m *Manager) SetInstance(ctor port.Constructor, opts port.PluginOptions) (port.Plugin, error) {
	if ctor == nil {
		ctor = lookupConstructor(opts.Name)
	}
	if ctor == nil {
		return nil, fmt.Errorf("插件 '%s' 没有登记入口构造器: %w", opts.Name, port.ErrInvalidPluginExport)
	}
	if opts.Name == "" {
		opts.Name = "anonymous-" + uuid.NewString()
		log.Printf("ℹ️ [PluginManager] 匿名静态插件已分配合成名称 '%s'。", opts.Name)
	}

	instance := ctor(m.host, opts)
	if instance == nil {
		return nil, fmt.Errorf("插件 '%s' 的构造器返回了 nil: %w", opts.Name, port.ErrInvalidPluginExport)
	}

	m.mu.Lock()
	if _, exists := m.instances[opts.Name]; !exists {
		m.order = append(m.order, opts.Name)
	}
	m.instances[opts.Name] = &instanceEntry{plugin: instance, options: opts}
	m.mu.Unlock()

	return instance, nil
}

// GetInstance 返回指定名称的插件实例，未注册返回 port.ErrPluginNotFound
func (m *Manager) GetInstance(name string) (port.Plugin, error) {
	plugin, _, err := m.getEntry(name)
	return plugin, err
}

// getEntry 在读锁内取出实例与其选项快照。
// 选项以值拷贝返回: 调用方在锁外读取不会与 setEnabledFlag 的写入竞争。
func (m *Manager) getEntry(name string) (port.Plugin, port.PluginOptions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.instances[name]
	if !ok {
		return nil, port.PluginOptions{}, fmt.Errorf("插件实例 '%s': %w", name, port.ErrPluginNotFound)
	}
	return entry.plugin, entry.options, nil
}

// setEnabledFlag 更新实例上绑定的启用快照
func (m *Manager) setEnabledFlag(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.instances[name]; ok {
		entry.options.Enabled = enabled
	}
}

// removeInstance 把实例从注册表中摘除（仅 Remove 生命周期会调用）
func (m *Manager) removeInstance(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// InstanceNames 返回当前注册表中全部实例名称，按注册顺序排列
func (m *Manager) InstanceNames() []string {
	return m.orderedNames()
}

// orderedNames 返回注册顺序的名称快照
func (m *Manager) orderedNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}
