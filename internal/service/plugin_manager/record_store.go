// Package plugin_manager file: internal/service/plugin_manager/record_store.go
package plugin_manager

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"LoomBase/internal/core/domain"
	"LoomBase/internal/core/port"
)

// SQLiteRecordStore 是插件记录存储的 SQLite 实现。
// 每个实例绑定到一个 app_name，所有操作都隐含该维度。
type SQLiteRecordStore struct {
	db      *sql.DB
	appName string
}

// NewSQLiteRecordStore 创建一个绑定到指定应用实例的记录存储
func NewSQLiteRecordStore(db *sql.DB, appName string) (*SQLiteRecordStore, error) {
	if db == nil {
		return nil, errors.New("记录存储需要一个有效的数据库连接")
	}
	if appName == "" {
		return nil, errors.New("记录存储需要非空的 appName")
	}
	return &SQLiteRecordStore{db: db, appName: appName}, nil
}

// Sync 幂等地创建插件记录表及索引。
// 只有 install/upgrade 流程会调用它：全新启动时表可以不存在。
func (s *SQLiteRecordStore) Sync(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS plugin_records (
        name TEXT NOT NULL,
        app_name TEXT NOT NULL,
        version TEXT DEFAULT '' NOT NULL,
        registry TEXT DEFAULT '' NOT NULL,
        zip_url TEXT DEFAULT '' NOT NULL,
        client_url TEXT DEFAULT '' NOT NULL,
        enabled BOOLEAN DEFAULT FALSE NOT NULL,
        installed BOOLEAN DEFAULT FALSE NOT NULL,
        built_in BOOLEAN DEFAULT FALSE NOT NULL,
        is_official BOOLEAN DEFAULT FALSE NOT NULL,
        options TEXT DEFAULT '{}' NOT NULL,
        PRIMARY KEY (name, app_name)
    );`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("创建 'plugin_records' 表失败: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_plugin_records_app ON plugin_records (app_name);`); err != nil {
		return fmt.Errorf("为 'plugin_records' 创建索引失败: %w", err)
	}
	return nil
}

// CollectionExists 报告记录表是否已存在
func (s *SQLiteRecordStore) CollectionExists(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'plugin_records'`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("检查 'plugin_records' 表是否存在失败: %w", err)
	}
	return n > 0, nil
}

// List 返回满足过滤条件的全部记录
func (s *SQLiteRecordStore) List(ctx context.Context, filter *domain.RecordFilter) ([]domain.PluginRecord, error) {
	where, args := s.buildWhere(filter)
	query := `SELECT name, app_name, version, registry, zip_url, client_url,
              enabled, installed, built_in, is_official, options
              FROM plugin_records ` + where + ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询插件记录列表失败: %w", err)
	}
	defer rows.Close()

	var records []domain.PluginRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			log.Printf("⚠️ [RecordStore] 扫描插件记录行失败，已跳过: %v", err)
			continue
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// FindOne 返回第一条命中的记录，未命中返回 port.ErrPluginNotFound
func (s *SQLiteRecordStore) FindOne(ctx context.Context, filter domain.RecordFilter) (*domain.PluginRecord, error) {
	where, args := s.buildWhere(&filter)
	query := `SELECT name, app_name, version, registry, zip_url, client_url,
              enabled, installed, built_in, is_official, options
              FROM plugin_records ` + where + ` LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("插件记录 '%s' (应用: %s): %w", filter.Name, s.appName, port.ErrPluginNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询插件记录失败: %w", err)
	}
	return rec, nil
}

// Create 插入一条记录。(name, app_name) 冲突返回 port.ErrDuplicatePlugin。
func (s *SQLiteRecordStore) Create(ctx context.Context, rec domain.PluginRecord) (*domain.PluginRecord, error) {
	rec.AppName = s.appName
	optionsJSON, err := marshalOptions(rec.Options)
	if err != nil {
		return nil, err
	}

	query := `INSERT INTO plugin_records
              (name, app_name, version, registry, zip_url, client_url, enabled, installed, built_in, is_official, options)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.Name, rec.AppName, rec.Version, rec.Registry, rec.ZipURL, rec.ClientURL,
		rec.Enabled, rec.Installed, rec.BuiltIn, rec.IsOfficial, optionsJSON)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "PRIMARY KEY") {
			return nil, fmt.Errorf("插件 '%s' 在应用 '%s' 下已有记录: %w", rec.Name, s.appName, port.ErrDuplicatePlugin)
		}
		return nil, fmt.Errorf("创建插件记录 '%s' 失败: %w", rec.Name, err)
	}
	return &rec, nil
}

// Update 按过滤条件更新字段并返回更新后的记录
func (s *SQLiteRecordStore) Update(ctx context.Context, filter domain.RecordFilter, values domain.RecordValues) (*domain.PluginRecord, error) {
	var sets []string
	var args []any
	appendSet := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if values.Version != nil {
		appendSet("version", *values.Version)
	}
	if values.Registry != nil {
		appendSet("registry", *values.Registry)
	}
	if values.ZipURL != nil {
		appendSet("zip_url", *values.ZipURL)
	}
	if values.ClientURL != nil {
		appendSet("client_url", *values.ClientURL)
	}
	if values.Enabled != nil {
		appendSet("enabled", *values.Enabled)
	}
	if values.Installed != nil {
		appendSet("installed", *values.Installed)
	}
	if values.Options != nil {
		optionsJSON, err := marshalOptions(values.Options)
		if err != nil {
			return nil, err
		}
		appendSet("options", optionsJSON)
	}
	if len(sets) == 0 {
		return s.FindOne(ctx, filter)
	}

	where, whereArgs := s.buildWhere(&filter)
	query := "UPDATE plugin_records SET " + strings.Join(sets, ", ") + " " + where
	if _, err := s.db.ExecContext(ctx, query, append(args, whereArgs...)...); err != nil {
		return nil, fmt.Errorf("更新插件记录 '%s' 失败: %w", filter.Name, err)
	}

	// 更新条件可能带防御性过滤 (如 built_in = false)，回读时只按名称定位
	return s.FindOne(ctx, domain.RecordFilter{Name: filter.Name})
}

// Destroy 删除满足过滤条件的记录
func (s *SQLiteRecordStore) Destroy(ctx context.Context, filter domain.RecordFilter) error {
	where, args := s.buildWhere(&filter)
	if _, err := s.db.ExecContext(ctx, "DELETE FROM plugin_records "+where, args...); err != nil {
		return fmt.Errorf("删除插件记录 '%s' 失败: %w", filter.Name, err)
	}
	return nil
}

// buildWhere 组装 WHERE 子句，app_name 维度总是包含在内
func (s *SQLiteRecordStore) buildWhere(filter *domain.RecordFilter) (string, []any) {
	conds := []string{"app_name = ?"}
	args := []any{s.appName}
	if filter != nil {
		if filter.Name != "" {
			conds = append(conds, "name = ?")
			args = append(args, filter.Name)
		}
		if filter.Enabled != nil {
			conds = append(conds, "enabled = ?")
			args = append(args, *filter.Enabled)
		}
		if filter.BuiltIn != nil {
			conds = append(conds, "built_in = ?")
			args = append(args, *filter.BuiltIn)
		}
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// rowScanner 统一 *sql.Row 与 *sql.Rows 的扫描入口
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.PluginRecord, error) {
	var rec domain.PluginRecord
	var optionsJSON string
	err := row.Scan(&rec.Name, &rec.AppName, &rec.Version, &rec.Registry, &rec.ZipURL, &rec.ClientURL,
		&rec.Enabled, &rec.Installed, &rec.BuiltIn, &rec.IsOfficial, &optionsJSON)
	if err != nil {
		return nil, err
	}
	if optionsJSON != "" && optionsJSON != "{}" {
		if err := json.Unmarshal([]byte(optionsJSON), &rec.Options); err != nil {
			log.Printf("⚠️ [RecordStore] 插件 '%s' 的 options 字段解析失败: %v", rec.Name, err)
		}
	}
	return &rec, nil
}

func marshalOptions(options map[string]any) (string, error) {
	if options == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("序列化插件 options 失败: %w", err)
	}
	return string(raw), nil
}
