// file: cmd/loomctl/main_test.go

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LoomBase/internal/core/domain"
	"LoomBase/internal/core/port"
	"LoomBase/internal/service/plugin_manager"
)

type noopPlugin struct{ port.BasePlugin }

// 全新实例（无服务进程、无数据库文件、无记录表）上，
// 本地回退必须能独立完成装配并执行 add。
func TestLocalRuntime_FreshInstanceAddWorks(t *testing.T) {
	rootDir := t.TempDir()
	pluginDir := filepath.Join(rootDir, "fresh-pkg")
	require.NoError(t, os.MkdirAll(pluginDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "package.json"),
		[]byte(`{"name":"fresh-pkg","version":"0.1.0"}`), 0644))
	plugin_manager.RegisterPlugin("fresh-pkg", func(host port.Host, opts port.PluginOptions) port.Plugin {
		return &noopPlugin{}
	})

	cfg := &ctlConfig{AppName: "main"}
	cfg.PluginManagement.InstallDirectory = "instance/plugins"
	rt := &localRuntime{rootDir: rootDir, cfg: cfg}

	ctx := context.Background()
	pm, err := rt.manager(ctx, plugin_manager.MethodReload)
	require.NoError(t, err, "全新实例上的本地装配不应失败")

	require.NoError(t, pm.AddByLocalPath(ctx, pluginDir, nil))
	rec, err := pm.Store().FindOne(ctx, domain.RecordFilter{Name: "fresh-pkg"})
	require.NoError(t, err)
	assert.True(t, rec.Installed)
	assert.Equal(t, "0.1.0", rec.Version)
}

// 本地回退分发器与远程路径共享同一套 Dispatch 语义
func TestLocalDispatcher_UnknownMethodFails(t *testing.T) {
	rootDir := t.TempDir()
	cfg := &ctlConfig{AppName: "main"}
	cfg.PluginManagement.InstallDirectory = "instance/plugins"
	rt := &localRuntime{rootDir: rootDir, cfg: cfg}

	d := &localDispatcher{rt: rt, method: plugin_manager.MethodReload}
	err := d.Dispatch(context.Background(), "create", []string{"x"})
	assert.Error(t, err, "create 不经过统一分发入口")
}
