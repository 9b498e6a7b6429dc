// Package plugin_manager file: internal/service/plugin_manager/plugin_bootstrap.go
package plugin_manager

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"LoomBase/internal/core/port"
	"LoomBase/internal/loomobserve"
)

// registerHooks 把装配逻辑挂到应用级事件上
func (m *Manager) registerHooks() {
	m.host.On("beforeLoad", m.onBeforeLoad)
	m.host.On("beforeUpgrade", m.onBeforeUpgrade)
}

// onBeforeLoad 在应用开始对外服务前完成插件体系的装配。
//
// 顺序约束：install/upgrade 流程要先同步记录表结构；
// 而全新 install 此时还没有任何持久化记录，记录表也可能刚刚建出，
// 这时跳过回填，避免对空表做无意义的实例化阻塞启动。
func (m *Manager) onBeforeLoad(ctx context.Context, _ ...any) error {
	if m.method == MethodInstall || m.method == MethodUpgrade {
		if err := m.store.Sync(ctx); err != nil {
			return err
		}
		log.Printf("✅ [PluginManager] 插件记录表结构已同步。")
	}

	exists, err := m.store.CollectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		log.Printf("ℹ️ [PluginManager] 插件记录表尚不存在，跳过注册表回填。")
		return nil
	}
	if m.method == MethodInstall {
		// 全新安装没有历史记录可回填；reload 另行处理
		return nil
	}

	records, err := m.store.List(ctx, nil)
	if err != nil {
		return err
	}

	// 启用数量指标以持久化记录为准回填，重启后不从零开始
	enabledCount := 0
	for _, rec := range records {
		if rec.Enabled {
			enabledCount++
		}
	}
	loomobserve.EnabledPlugins.Set(float64(enabledCount))

	for _, rec := range records {
		if _, errGet := m.GetInstance(rec.Name); errGet == nil {
			continue // 静态插件已在构造阶段注册
		}
		if _, err := m.SetInstance(nil, port.PluginOptions{
			Name:    rec.Name,
			Enabled: rec.Enabled,
			BuiltIn: rec.BuiltIn,
		}); err != nil {
			return fmt.Errorf("回填插件 '%s' 实例失败: %w", rec.Name, err)
		}
	}
	log.Printf("✅ [PluginManager] 已从 %d 条持久化记录回填注册表。", len(records))

	// 所有实例的 beforeLoad 必须在应用对外服务前跑完
	for _, name := range m.orderedNames() {
		plugin, _, errGet := m.getEntry(name)
		if errGet != nil {
			continue
		}
		if err := plugin.BeforeLoad(ctx); err != nil {
			return fmt.Errorf("插件 '%s' 的 beforeLoad 钩子执行失败: %w", name, err)
		}
	}
	return nil
}

// onBeforeUpgrade 在升级流程前确保记录表结构是最新的
func (m *Manager) onBeforeUpgrade(ctx context.Context, _ ...any) error {
	return m.store.Sync(ctx)
}

// StartWatcher 监视插件安装目录，实现已启用插件的热重载。
// 同一插件目录下的连续变更会被去抖合并为一次 Load。失败只记日志。
func (m *Manager) StartWatcher(installDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建 fsnotify watcher 失败: %w", err)
	}

	var pendingMu sync.Mutex
	pending := make(map[string]*time.Timer)
	const debounce = 500 * time.Millisecond

	scheduleReload := func(name string) {
		pendingMu.Lock()
		defer pendingMu.Unlock()
		if timer, ok := pending[name]; ok {
			timer.Stop()
		}
		pending[name] = time.AfterFunc(debounce, func() {
			pendingMu.Lock()
			delete(pending, name)
			pendingMu.Unlock()

			_, opts, errGet := m.getEntry(name)
			if errGet != nil || !opts.Enabled {
				return
			}
			log.Printf("🔄 [PluginManager] 检测到插件 '%s' 的包文件变更，正在热重载...", name)
			if err := m.Load(context.Background(), name); err != nil {
				log.Printf("⚠️ [PluginManager] 插件 '%s' 热重载失败: %v", name, err)
			}
		})
	}

	go func() {
		defer watcher.Close()
		log.Printf("信息: [PluginManager] 插件目录监视 goroutine 已启动。")
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					log.Printf("警告: [PluginManager] 文件监视器事件通道已关闭。")
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
					continue
				}
				rel, errRel := filepath.Rel(installDir, ev.Name)
				if errRel != nil || strings.HasPrefix(rel, "..") {
					continue
				}
				parts := strings.Split(filepath.ToSlash(rel), "/")
				if len(parts) == 0 || parts[0] == "." || parts[0] == "" {
					continue
				}
				// 新出现的插件目录也纳入监视
				if ev.Op&fsnotify.Create != 0 {
					if info, errStat := os.Stat(ev.Name); errStat == nil && info.IsDir() {
						if errAdd := watcher.Add(ev.Name); errAdd != nil {
							log.Printf("警告: [PluginManager] 添加目录 '%s' 到监视器失败: %v", ev.Name, errAdd)
						}
					}
				}
				scheduleReload(parts[0])
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					log.Printf("警告: [PluginManager] 文件监视器错误通道已关闭。")
					return
				}
				log.Printf("错误: [PluginManager] 文件监视器报告错误: %v", errWatch)
			}
		}
	}()

	if err := watcher.Add(installDir); err != nil {
		return fmt.Errorf("添加插件安装目录 '%s' 到监视器失败: %w", installDir, err)
	}
	entries, err := os.ReadDir(installDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				if errAdd := watcher.Add(filepath.Join(installDir, e.Name())); errAdd != nil {
					log.Printf("警告: [PluginManager] 添加现有插件目录 '%s' 到监视器失败: %v", e.Name(), errAdd)
				}
			}
		}
	}
	log.Printf("✅ [PluginManager] 插件目录监视器已启动 (%s)。", installDir)
	return nil
}
