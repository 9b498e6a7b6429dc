// Package plugin_manager file: internal/service/plugin_manager/plugin_lifecycle.go
package plugin_manager

import (
	"context"
	"fmt"
	"log"

	"LoomBase/internal/core/domain"
	"LoomBase/internal/core/port"
	"LoomBase/internal/loomobserve"
)

// 生命周期过程中在应用总线上发布的事件。
// 事件参数约定为 (pluginName string)。
const (
	EventBeforeLoadPlugin    = "beforeLoadPlugin"
	EventAfterLoadPlugin     = "afterLoadPlugin"
	EventAfterEnablePlugin   = "afterEnablePlugin"
	EventAfterDisablePlugin  = "afterDisablePlugin"
	EventBeforeInstallPlugin = "beforeInstallPlugin"
	EventAfterInstallPlugin  = "afterInstallPlugin"
)

// AddNpmOptions 是 AddByNpm 的参数
type AddNpmOptions struct {
	Name     string
	Registry string
	Version  string
	Options  map[string]any
}

// AddByNpm 从 npm registry 添加一个插件：
// 先落记录(enabled=false, installed=false)，再解析下载包，
// 然后回写版本与安装状态，最后构造实例并触发 AfterAdd。
// 任一步失败即中止，不做已完成步骤的回滚。
func (m *Manager) AddByNpm(ctx context.Context, opts AddNpmOptions) (err error) {
	defer func() { loomobserve.ObservePluginOp("add", err) }()

	if opts.Name == "" {
		return fmt.Errorf("AddByNpm 需要非空的插件名称")
	}
	log.Printf("⚙️ [PluginManager] 正在从 npm 添加插件 '%s' (registry: %s)...", opts.Name, opts.Registry)

	if _, err = m.store.Create(ctx, domain.PluginRecord{
		Name:     opts.Name,
		Registry: opts.Registry,
		Options:  opts.Options,
	}); err != nil {
		return err
	}

	resolved, err := m.resolver.ResolveFromNpm(ctx, domain.NpmSource{
		Name:     opts.Name,
		Registry: opts.Registry,
		Version:  opts.Version,
	})
	if err != nil {
		return err
	}

	clientURL := clientURLFor(opts.Name)
	installed := true
	if _, err = m.store.Update(ctx, domain.RecordFilter{Name: opts.Name}, domain.RecordValues{
		Version:   &resolved.Version,
		ClientURL: &clientURL,
		Installed: &installed,
	}); err != nil {
		return err
	}

	instance, err := m.SetInstance(nil, port.PluginOptions{Name: opts.Name})
	if err != nil {
		return err
	}
	if err = instance.AfterAdd(ctx); err != nil {
		return fmt.Errorf("插件 '%s' 的 afterAdd 钩子执行失败: %w", opts.Name, err)
	}

	log.Printf("🎉 [PluginManager] 插件 '%s' v%s 添加成功。", opts.Name, resolved.Version)
	return nil
}

// AddByLocalPath 从本地目录添加一个插件。
// 名称已在注册表中时直接拒绝，不会产生第二次存储写入。
func (m *Manager) AddByLocalPath(ctx context.Context, path string, options map[string]any) (err error) {
	defer func() { loomobserve.ObservePluginOp("add", err) }()

	resolved, err := m.resolver.ResolveFromLocal(path)
	if err != nil {
		return err
	}
	if _, errGet := m.GetInstance(resolved.Name); errGet == nil {
		return fmt.Errorf("插件 '%s' 已存在于注册表: %w", resolved.Name, port.ErrDuplicatePlugin)
	}

	if _, err = m.store.Create(ctx, domain.PluginRecord{
		Name:      resolved.Name,
		Version:   resolved.Version,
		Installed: true,
		Options:   options,
	}); err != nil {
		return err
	}

	instance, err := m.SetInstance(nil, port.PluginOptions{Name: resolved.Name})
	if err != nil {
		return err
	}
	if err = instance.AfterAdd(ctx); err != nil {
		return fmt.Errorf("插件 '%s' 的 afterAdd 钩子执行失败: %w", resolved.Name, err)
	}

	log.Printf("🎉 [PluginManager] 本地插件 '%s' v%s 添加成功 (路径: %s)。", resolved.Name, resolved.Version, path)
	return nil
}

// AddByZip 从 zip 压缩包添加一个插件。
// 名称来自包内的 package.json；来源地址会记入记录，供后续 zip 升级沿用。
func (m *Manager) AddByZip(ctx context.Context, zipURL string, options map[string]any) (err error) {
	defer func() { loomobserve.ObservePluginOp("add", err) }()

	if zipURL == "" {
		return fmt.Errorf("AddByZip 需要非空的 zip 来源地址")
	}
	log.Printf("⚙️ [PluginManager] 正在从 zip 包添加插件 (来源: %s)...", zipURL)

	resolved, err := m.resolver.ResolveFromZip(ctx, domain.ZipSource{ZipURL: zipURL})
	if err != nil {
		return err
	}
	if _, errGet := m.GetInstance(resolved.Name); errGet == nil {
		return fmt.Errorf("插件 '%s' 已存在于注册表: %w", resolved.Name, port.ErrDuplicatePlugin)
	}

	if _, err = m.store.Create(ctx, domain.PluginRecord{
		Name:      resolved.Name,
		Version:   resolved.Version,
		ZipURL:    zipURL,
		ClientURL: clientURLFor(resolved.Name),
		Installed: true,
		Options:   options,
	}); err != nil {
		return err
	}

	instance, err := m.SetInstance(nil, port.PluginOptions{Name: resolved.Name})
	if err != nil {
		return err
	}
	if err = instance.AfterAdd(ctx); err != nil {
		return fmt.Errorf("插件 '%s' 的 afterAdd 钩子执行失败: %w", resolved.Name, err)
	}

	log.Printf("🎉 [PluginManager] 插件 '%s' v%s 添加成功 (zip)。", resolved.Name, resolved.Version)
	return nil
}

// UpgradeByNpm 升级一个 npm 来源的插件。
// registry 上没有更新版本时是无害的空操作。
func (m *Manager) UpgradeByNpm(ctx context.Context, name string) (err error) {
	defer func() { loomobserve.ObservePluginOp("upgrade", err) }()

	rec, err := m.store.FindOne(ctx, domain.RecordFilter{Name: name})
	if err != nil {
		return err
	}

	newer, latest, err := m.resolver.HasNewerVersion(ctx, name, rec.Registry, rec.Version)
	if err != nil {
		return err
	}
	if !newer {
		log.Printf("ℹ️ [PluginManager] 插件 '%s' 已是最新版本 (v%s)，跳过升级。", name, rec.Version)
		return nil
	}

	log.Printf("⚙️ [PluginManager] 正在升级插件 '%s': v%s -> v%s ...", name, rec.Version, latest)
	resolved, err := m.resolver.ResolveFromNpm(ctx, domain.NpmSource{
		Name:     name,
		Registry: rec.Registry,
		Version:  latest,
	})
	if err != nil {
		return err
	}

	return m.finishUpgrade(ctx, rec, domain.RecordValues{Version: &resolved.Version})
}

// UpgradeByZip 以 zip 包重新解析并升级插件。
// zipURL 为空时沿用记录中保存的来源地址。
func (m *Manager) UpgradeByZip(ctx context.Context, name, zipURL string) (err error) {
	defer func() { loomobserve.ObservePluginOp("upgrade", err) }()

	rec, err := m.store.FindOne(ctx, domain.RecordFilter{Name: name})
	if err != nil {
		return err
	}
	if zipURL == "" {
		zipURL = rec.ZipURL
	}
	if zipURL == "" {
		return fmt.Errorf("插件 '%s' 没有可用的 zip 来源地址", name)
	}

	resolved, err := m.resolver.ResolveFromZip(ctx, domain.ZipSource{ZipURL: zipURL, Name: name})
	if err != nil {
		return err
	}
	if resolved.Version == rec.Version {
		log.Printf("ℹ️ [PluginManager] 插件 '%s' 的 zip 包版本未变化 (v%s)，跳过升级。", name, rec.Version)
		return nil
	}

	log.Printf("⚙️ [PluginManager] 正在以 zip 包升级插件 '%s': v%s -> v%s ...", name, rec.Version, resolved.Version)
	return m.finishUpgrade(ctx, rec, domain.RecordValues{Version: &resolved.Version, ZipURL: &zipURL})
}

// Upgrade 按记录的来源选择升级通道：
// 只有 zip 来源 (zip_url 非空且无 registry) 的记录走 zip，其余一律走 npm。
func (m *Manager) Upgrade(ctx context.Context, name string) error {
	rec, err := m.store.FindOne(ctx, domain.RecordFilter{Name: name})
	if err != nil {
		return err
	}
	if rec.ZipURL != "" && rec.Registry == "" {
		return m.UpgradeByZip(ctx, name, "")
	}
	return m.UpgradeByNpm(ctx, name)
}

// finishUpgrade 完成升级的公共尾部：回写记录、替换实例、触发钩子
func (m *Manager) finishUpgrade(ctx context.Context, rec *domain.PluginRecord, values domain.RecordValues) error {
	if _, err := m.store.Update(ctx, domain.RecordFilter{Name: rec.Name}, values); err != nil {
		return err
	}

	instance, err := m.SetInstance(nil, port.PluginOptions{
		Name:    rec.Name,
		Enabled: rec.Enabled,
		BuiltIn: rec.BuiltIn,
	})
	if err != nil {
		return err
	}
	if err := instance.AfterAdd(ctx); err != nil {
		return fmt.Errorf("插件 '%s' 的 afterAdd 钩子执行失败: %w", rec.Name, err)
	}
	if rec.Enabled {
		if err := instance.Load(ctx); err != nil {
			return fmt.Errorf("插件 '%s' 升级后重新加载失败: %w", rec.Name, err)
		}
	}

	log.Printf("🎉 [PluginManager] 插件 '%s' 升级完成。", rec.Name)
	return nil
}

// Enable 启用一个插件。
// 依赖检查只在此刻进行：requiredPlugins() 中任一名称对应的实例
// 不存在或未启用，整个操作以 ErrRequiredPluginNotEnabled 失败。
func (m *Manager) Enable(ctx context.Context, name string) (err error) {
	defer func() { loomobserve.ObservePluginOp("enable", err) }()

	plugin, _, err := m.getEntry(name)
	if err != nil {
		return err
	}

	for _, required := range plugin.RequiredPlugins() {
		if _, depOpts, errDep := m.getEntry(required); errDep != nil || !depOpts.Enabled {
			return fmt.Errorf("插件 '%s' 依赖 '%s': %w", name, required, port.ErrRequiredPluginNotEnabled)
		}
	}

	enabled := true
	if _, err = m.store.Update(ctx, domain.RecordFilter{Name: name}, domain.RecordValues{Enabled: &enabled}); err != nil {
		return err
	}
	m.setEnabledFlag(name, true)

	if err = plugin.Install(ctx, nil); err != nil {
		return fmt.Errorf("插件 '%s' 的 install 钩子执行失败: %w", name, err)
	}
	if err = plugin.AfterEnable(ctx); err != nil {
		return fmt.Errorf("插件 '%s' 的 afterEnable 钩子执行失败: %w", name, err)
	}
	if err = m.host.EmitAsync(ctx, EventAfterEnablePlugin, name); err != nil {
		return err
	}
	if err = m.Load(ctx, name); err != nil {
		return err
	}

	loomobserve.EnabledPlugins.Inc()
	log.Printf("✅ [PluginManager] 插件 '%s' 已启用。", name)
	return nil
}

// Disable 停用一个插件，内置插件不可停用。
func (m *Manager) Disable(ctx context.Context, name string) (err error) {
	defer func() { loomobserve.ObservePluginOp("disable", err) }()

	plugin, opts, err := m.getEntry(name)
	if err != nil {
		return err
	}
	if opts.BuiltIn {
		return fmt.Errorf("插件 '%s': %w", name, port.ErrBuiltInProtected)
	}

	// 更新条件附带 built_in = false，对存储层做防御性双重校验
	enabled := false
	notBuiltIn := false
	if _, err = m.store.Update(ctx,
		domain.RecordFilter{Name: name, BuiltIn: &notBuiltIn},
		domain.RecordValues{Enabled: &enabled}); err != nil {
		return err
	}
	m.setEnabledFlag(name, false)

	if err = plugin.AfterDisable(ctx); err != nil {
		return fmt.Errorf("插件 '%s' 的 afterDisable 钩子执行失败: %w", name, err)
	}
	if err = m.host.EmitAsync(ctx, EventAfterDisablePlugin, name); err != nil {
		return err
	}

	loomobserve.EnabledPlugins.Dec()
	log.Printf("⏸️ [PluginManager] 插件 '%s' 已停用。", name)
	return nil
}

// Remove 删除一个插件：钩子 → 记录 → 注册表 → 包文件。
func (m *Manager) Remove(ctx context.Context, name string) (err error) {
	defer func() { loomobserve.ObservePluginOp("remove", err) }()

	plugin, opts, err := m.getEntry(name)
	if err != nil {
		return err
	}
	if opts.BuiltIn {
		return fmt.Errorf("插件 '%s': %w", name, port.ErrBuiltInProtected)
	}

	if err = plugin.Remove(ctx); err != nil {
		return fmt.Errorf("插件 '%s' 的 remove 钩子执行失败: %w", name, err)
	}
	if err = m.store.Destroy(ctx, domain.RecordFilter{Name: name}); err != nil {
		return err
	}
	m.removeInstance(name)
	if err = m.resolver.RemovePackage(name); err != nil {
		return err
	}

	log.Printf("🗑️ [PluginManager] 插件 '%s' 已删除。", name)
	return nil
}

// Load 加载单个插件。未启用的插件是无害的空操作。
func (m *Manager) Load(ctx context.Context, name string) error {
	plugin, opts, err := m.getEntry(name)
	if err != nil {
		return err
	}
	if !opts.Enabled {
		return nil
	}

	if err := m.host.EmitAsync(ctx, EventBeforeLoadPlugin, name); err != nil {
		return err
	}
	if err := plugin.Load(ctx); err != nil {
		return fmt.Errorf("插件 '%s' 的 load 钩子执行失败: %w", name, err)
	}
	return m.host.EmitAsync(ctx, EventAfterLoadPlugin, name)
}

// LoadAll 按注册顺序依次加载全部插件。
// 刻意串行：任何一个插件加载失败会中止本轮后续插件的加载，
// 以换取可预期的顺序与清晰的失败归因。
func (m *Manager) LoadAll(ctx context.Context) error {
	for _, name := range m.orderedNames() {
		if err := m.Load(ctx, name); err != nil {
			return fmt.Errorf("本轮插件加载在 '%s' 处中止: %w", name, err)
		}
	}
	return nil
}

// InstallAll 对所有已启用的插件依次执行 install 钩子
func (m *Manager) InstallAll(ctx context.Context, options map[string]any) error {
	for _, name := range m.orderedNames() {
		plugin, opts, err := m.getEntry(name)
		if err != nil {
			continue // 遍历期间被并发删除，跳过即可
		}
		if !opts.Enabled {
			continue
		}
		if err := m.host.EmitAsync(ctx, EventBeforeInstallPlugin, name); err != nil {
			return err
		}
		if err := plugin.Install(ctx, options); err != nil {
			return fmt.Errorf("插件 '%s' 的 install 钩子执行失败: %w", name, err)
		}
		if err := m.host.EmitAsync(ctx, EventAfterInstallPlugin, name); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch 是控制通道与 CLI 共用的统一入口：
// 把一个生命周期方法名映射到对应的操作，依次作用于每个目标插件。
// "create"/add 永远不经过这里——它总是在调用方进程内直接执行。
func (m *Manager) Dispatch(ctx context.Context, method string, plugins []string) error {
	var op func(context.Context, string) error
	switch method {
	case "enable":
		op = m.Enable
	case "disable":
		op = m.Disable
	case "remove":
		op = m.Remove
	case "upgrade":
		op = m.Upgrade
	case "load":
		op = m.Load
	default:
		return fmt.Errorf("未知的生命周期方法: '%s'", method)
	}

	for _, name := range plugins {
		if err := op(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// clientURLFor 计算插件前端资源的加载地址
func clientURLFor(name string) string {
	return "/static/plugins/" + name + "/client/index.js"
}
