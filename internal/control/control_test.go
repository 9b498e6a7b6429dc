// file: internal/control/control_test.go

package control_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LoomBase/internal/control"
)

// ============================================================================
//  测试替身 (Test Doubles)
// ============================================================================

type dispatchCall struct {
	method  string
	plugins []string
}

// countingDispatcher 记录每次分发，可注入固定错误
type countingDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (d *countingDispatcher) Dispatch(_ context.Context, method string, plugins []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{method: method, plugins: plugins})
	return d.err
}

func (d *countingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *countingDispatcher) last() dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[len(d.calls)-1]
}

func newTestServer(t *testing.T, d control.Dispatcher) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "ctl.sock")
	srv, err := control.NewServer(socketPath, d)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	t.Cleanup(func() { _ = srv.Close() })
	return socketPath
}

// ============================================================================
//  测试用例 (Test Cases)
// ============================================================================

func TestControl_CommandRunsExactlyOnceInServer(t *testing.T) {
	remote := &countingDispatcher{}
	fallback := &countingDispatcher{}
	socketPath := newTestServer(t, remote)

	client, err := control.NewClient(socketPath, fallback)
	require.NoError(t, err)

	require.NoError(t, client.Run(context.Background(), "enable", []string{"workflow"}))

	// 核心性质: 指令恰好在服务进程执行一次，本地回退不被触发
	assert.Equal(t, 1, remote.count())
	assert.Equal(t, 0, fallback.count())
	assert.Equal(t, dispatchCall{method: "enable", plugins: []string{"workflow"}}, remote.last())
}

func TestControl_MultiplePluginsArePassedThrough(t *testing.T) {
	remote := &countingDispatcher{}
	socketPath := newTestServer(t, remote)

	client, err := control.NewClient(socketPath, &countingDispatcher{})
	require.NoError(t, err)

	require.NoError(t, client.Run(context.Background(), "disable", []string{"aa", "bb", "cc"}))
	assert.Equal(t, []string{"aa", "bb", "cc"}, remote.last().plugins)
}

func TestControl_DispatchErrorComesBackInEnvelope(t *testing.T) {
	remote := &countingDispatcher{err: errors.New("指定的插件未找到")}
	socketPath := newTestServer(t, remote)

	client, err := control.NewClient(socketPath, &countingDispatcher{})
	require.NoError(t, err)

	err = client.Run(context.Background(), "enable", []string{"ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "指定的插件未找到", "服务端错误必须透传给 CLI")
}

func TestControl_FallbackWhenServerAbsent(t *testing.T) {
	fallback := &countingDispatcher{}
	socketPath := filepath.Join(t.TempDir(), "nobody-here.sock")

	client, err := control.NewClient(socketPath, fallback)
	require.NoError(t, err)

	// 没有服务进程: 指令在本进程执行，语义与远程一致
	require.NoError(t, client.Run(context.Background(), "upgrade", []string{"workflow"}))
	assert.Equal(t, 1, fallback.count())
	assert.Equal(t, dispatchCall{method: "upgrade", plugins: []string{"workflow"}}, fallback.last())
}

func TestControl_ServerCloseRemovesSocketAndStopsServing(t *testing.T) {
	remote := &countingDispatcher{}
	socketPath := filepath.Join(t.TempDir(), "closing.sock")
	srv, err := control.NewServer(socketPath, remote)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	require.NoError(t, srv.Close())

	fallback := &countingDispatcher{}
	client, err := control.NewClient(socketPath, fallback)
	require.NoError(t, err)

	require.NoError(t, client.Run(context.Background(), "load", []string{"x"}))
	assert.Equal(t, 0, remote.count(), "已关闭的服务不应再收到指令")
	assert.Equal(t, 1, fallback.count())
}

func TestControl_StaleSocketFileIsReclaimed(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "stale.sock")

	first, err := control.NewServer(socketPath, &countingDispatcher{})
	require.NoError(t, err)
	require.NoError(t, first.Listen())
	// 模拟异常退出: 直接关闭监听器但保留文件语义由 Listen 的清理兜底
	require.NoError(t, first.Close())

	second, err := control.NewServer(socketPath, &countingDispatcher{})
	require.NoError(t, err)
	require.NoError(t, second.Listen(), "残留的套接字文件不应阻止新服务启动")
	require.NoError(t, second.Close())
}

func TestControl_SequentialCommandsOnSeparateConnections(t *testing.T) {
	remote := &countingDispatcher{}
	socketPath := newTestServer(t, remote)

	client, err := control.NewClient(socketPath, &countingDispatcher{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, client.Run(context.Background(), "load", []string{fmt.Sprintf("p%d", i)}))
	}
	assert.Equal(t, 3, remote.count())
}
