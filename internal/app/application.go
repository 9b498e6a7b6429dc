// Package app file: internal/app/application.go
package app

import (
	"context"
	"database/sql"
	"errors"

	"LoomBase/internal/event"
)

// Application 是一个应用实例的宿主对象：
// 持有系统数据库连接与事件总线，并实现 port.Host。
// 注册表、插件管理器等进程级状态都挂在某个 Application 之下，
// 不存在跨实例共享的全局单例。
type Application struct {
	name string
	db   *sql.DB
	bus  *event.Bus
}

// New 创建一个应用宿主实例
func New(name string, db *sql.DB) (*Application, error) {
	if name == "" {
		return nil, errors.New("应用实例名称(name)不能为空")
	}
	if db == nil {
		return nil, errors.New("Application 需要一个有效的数据库连接")
	}
	return &Application{
		name: name,
		db:   db,
		bus:  event.NewBus(),
	}, nil
}

// Name 返回应用实例名称（即插件记录中的 app_name）
func (a *Application) Name() string { return a.name }

// DB 返回系统数据库连接
func (a *Application) DB() *sql.DB { return a.db }

// EmitAsync 触发应用事件，所有处理器顺序执行完毕后才返回
func (a *Application) EmitAsync(ctx context.Context, name string, args ...any) error {
	return a.bus.EmitAsync(ctx, name, args...)
}

// On 注册应用事件处理器
func (a *Application) On(name string, h event.Handler) {
	a.bus.On(name, h)
}
