// Package port file: internal/core/port/service.go
package port

import (
	"context"

	"LoomBase/internal/core/domain"
)

// PluginRecordStore 定义了插件记录的持久化能力。
// 每个存储实例绑定到一个 app_name，(name, app_name) 唯一。
type PluginRecordStore interface {
	// List 返回满足过滤条件的全部记录，filter 为 nil 表示不过滤
	List(ctx context.Context, filter *domain.RecordFilter) ([]domain.PluginRecord, error)
	// FindOne 返回第一条命中的记录，未命中返回 ErrPluginNotFound
	FindOne(ctx context.Context, filter domain.RecordFilter) (*domain.PluginRecord, error)
	// Create 插入一条记录，(name, app_name) 冲突时返回 ErrDuplicatePlugin
	Create(ctx context.Context, rec domain.PluginRecord) (*domain.PluginRecord, error)
	// Update 按过滤条件更新字段并返回更新后的记录
	Update(ctx context.Context, filter domain.RecordFilter, values domain.RecordValues) (*domain.PluginRecord, error)
	// Destroy 删除满足过滤条件的记录
	Destroy(ctx context.Context, filter domain.RecordFilter) error
	// CollectionExists 报告记录表是否已存在于数据库中
	CollectionExists(ctx context.Context) (bool, error)
	// Sync 幂等地同步记录表结构
	Sync(ctx context.Context) error
}

// PackageResolver 定义了插件包的获取与归一化能力。
// 下载/解压的具体实现属于解析器内部，调用方只拿到落盘后的包信息。
type PackageResolver interface {
	ResolveFromNpm(ctx context.Context, src domain.NpmSource) (*domain.ResolvedPackage, error)
	ResolveFromZip(ctx context.Context, src domain.ZipSource) (*domain.ResolvedPackage, error)
	ResolveFromLocal(path string) (*domain.ResolvedPackage, error)
	// HasNewerVersion 检查 registry 上是否存在比 current 更新的版本，
	// 返回 (是否有新版本, 最新版本号)
	HasNewerVersion(ctx context.Context, name, registry, current string) (bool, string, error)
	// RemovePackage 删除某插件已落盘的全部包文件
	RemovePackage(name string) error
}
