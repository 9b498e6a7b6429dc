// file: internal/service/plugin_manager/helpers_test.go

package plugin_manager_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"LoomBase/internal/app"
	"LoomBase/internal/core/domain"
	"LoomBase/internal/core/port"
	"LoomBase/internal/service/plugin_manager"

	_ "modernc.org/sqlite"
)

// ============================================================================
//  测试辅助函数 (Test Helpers)
// ============================================================================

// openTestDB 打开一个带共享缓存的内存数据库。
// 每个测试使用独立的名称，互不干扰。
func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err, "打开内存数据库失败")
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newTestManager 组装一套完整的测试环境: 内存库 + 宿主 + 存储(已建表) + 假解析器
func newTestManager(t *testing.T, dbName string) (*plugin_manager.Manager, *app.Application, *plugin_manager.SQLiteRecordStore, *fakeResolver) {
	t.Helper()
	db := openTestDB(t, dbName)

	host, err := app.New("main", db)
	require.NoError(t, err)

	store, err := plugin_manager.NewSQLiteRecordStore(db, "main")
	require.NoError(t, err)
	require.NoError(t, store.Sync(context.Background()), "同步记录表结构失败")

	resolver := newFakeResolver()
	m, err := plugin_manager.NewManager(host, store, resolver, plugin_manager.Options{})
	require.NoError(t, err)
	return m, host, store, resolver
}

// ============================================================================
//  测试替身 (Test Doubles)
// ============================================================================

// hookRecorder 按发生顺序记录插件钩子与应用事件
type hookRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *hookRecorder) add(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, entry)
}

func (r *hookRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *hookRecorder) contains(entry string) bool {
	for _, c := range r.snapshot() {
		if c == entry {
			return true
		}
	}
	return false
}

// fakePlugin 记录每个钩子的调用，可注入 load 失败与依赖声明
type fakePlugin struct {
	name     string
	rec      *hookRecorder
	required []string
	loadErr  error
}

func (p *fakePlugin) AfterAdd(context.Context) error { p.rec.add(p.name + ":afterAdd"); return nil }
func (p *fakePlugin) BeforeLoad(context.Context) error {
	p.rec.add(p.name + ":beforeLoad")
	return nil
}
func (p *fakePlugin) Install(context.Context, map[string]any) error {
	p.rec.add(p.name + ":install")
	return nil
}
func (p *fakePlugin) AfterEnable(context.Context) error {
	p.rec.add(p.name + ":afterEnable")
	return nil
}
func (p *fakePlugin) AfterDisable(context.Context) error {
	p.rec.add(p.name + ":afterDisable")
	return nil
}
func (p *fakePlugin) Remove(context.Context) error { p.rec.add(p.name + ":remove"); return nil }
func (p *fakePlugin) Load(context.Context) error {
	p.rec.add(p.name + ":load")
	return p.loadErr
}
func (p *fakePlugin) RequiredPlugins() []string { return p.required }

// fakeCtor 返回一个构造固定 fakePlugin 的 Constructor
func fakeCtor(plugin *fakePlugin) port.Constructor {
	return func(host port.Host, opts port.PluginOptions) port.Plugin {
		return plugin
	}
}

// fakeResolver 是 port.PackageResolver 的测试替身
type fakeResolver struct {
	npmResults   map[string]*domain.ResolvedPackage
	zipResult    *domain.ResolvedPackage
	localResult  *domain.ResolvedPackage
	latestByName map[string]string

	npmCalls []string
	removed  []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		npmResults:   make(map[string]*domain.ResolvedPackage),
		latestByName: make(map[string]string),
	}
}

func (f *fakeResolver) ResolveFromNpm(_ context.Context, src domain.NpmSource) (*domain.ResolvedPackage, error) {
	f.npmCalls = append(f.npmCalls, src.Name)
	if resolved, ok := f.npmResults[src.Name]; ok {
		return resolved, nil
	}
	return nil, fmt.Errorf("包 '%s' 不存在: %w", src.Name, port.ErrPackageResolution)
}

func (f *fakeResolver) ResolveFromZip(context.Context, domain.ZipSource) (*domain.ResolvedPackage, error) {
	if f.zipResult != nil {
		return f.zipResult, nil
	}
	return nil, port.ErrPackageResolution
}

func (f *fakeResolver) ResolveFromLocal(string) (*domain.ResolvedPackage, error) {
	if f.localResult != nil {
		return f.localResult, nil
	}
	return nil, port.ErrPackageResolution
}

func (f *fakeResolver) HasNewerVersion(_ context.Context, name, _, current string) (bool, string, error) {
	latest, ok := f.latestByName[name]
	if !ok {
		return false, current, nil
	}
	return latest != current, latest, nil
}

func (f *fakeResolver) RemovePackage(name string) error {
	f.removed = append(f.removed, name)
	return nil
}
