// Package port file: internal/core/port/plugin.go
package port

import (
	"context"
	"database/sql"
	"errors"

	"LoomBase/internal/event"
)

// 生命周期操作的标准错误
var (
	ErrDuplicatePlugin          = errors.New("插件名称已被注册")
	ErrPluginNotFound           = errors.New("指定的插件未找到")
	ErrRequiredPluginNotEnabled = errors.New("依赖的插件尚未启用")
	ErrBuiltInProtected         = errors.New("内置插件不允许禁用或删除")
	ErrInvalidPluginExport      = errors.New("插件包未导出可构造的入口")
	ErrPackageResolution        = errors.New("插件包解析失败")
)

// Plugin 是所有插件都必须实现的能力集合。
// 宿主只通过这组钩子与插件交互，钩子的调用顺序由生命周期编排器保证。
type Plugin interface {
	// AfterAdd 在插件被添加（记录与实例均已就绪）后调用
	AfterAdd(ctx context.Context) error
	// BeforeLoad 在应用启动装配阶段、所有 Load 之前调用
	BeforeLoad(ctx context.Context) error
	// Install 在插件启用时执行一次性安装逻辑（建表、写初始数据等）
	Install(ctx context.Context, options map[string]any) error
	// AfterEnable 在持久化状态切换为启用之后调用
	AfterEnable(ctx context.Context) error
	// AfterDisable 在持久化状态切换为停用之后调用
	AfterDisable(ctx context.Context) error
	// Remove 在插件被删除前调用，用于清理插件自有资源
	Remove(ctx context.Context) error
	// Load 把插件挂载到运行中的应用上
	Load(ctx context.Context) error
	// RequiredPlugins 返回本插件启用前必须已启用的插件名称
	RequiredPlugins() []string
}

// PluginOptions 是实例构造时绑定的记录字段快照
type PluginOptions struct {
	Name    string
	Enabled bool
	BuiltIn bool
}

// Constructor 按宿主与选项构造一个插件实例。
// 插件包在 init() 中通过注册表登记自己的 Constructor，
// 宿主据此完成"按包名加载入口"的等价语义。
type Constructor func(host Host, opts PluginOptions) Plugin

// Host 是插件与生命周期编排器能看到的应用宿主视图
type Host interface {
	// Name 返回应用实例名称，即插件记录中的 app_name
	Name() string
	// DB 返回系统数据库连接
	DB() *sql.DB
	// EmitAsync 触发应用事件并等待全部处理器顺序完成
	EmitAsync(ctx context.Context, name string, args ...any) error
	// On 注册应用事件处理器
	On(name string, h event.Handler)
}

// BasePlugin 提供全部钩子的空实现，插件按需覆写。
type BasePlugin struct{}

func (BasePlugin) AfterAdd(context.Context) error { return nil }

func (BasePlugin) BeforeLoad(context.Context) error { return nil }

func (BasePlugin) Install(context.Context, map[string]any) error { return nil }

func (BasePlugin) AfterEnable(context.Context) error { return nil }

func (BasePlugin) AfterDisable(context.Context) error { return nil }

func (BasePlugin) Remove(context.Context) error { return nil }

func (BasePlugin) Load(context.Context) error { return nil }

func (BasePlugin) RequiredPlugins() []string { return nil }
