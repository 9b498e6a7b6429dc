// file: internal/service/plugin_manager/plugin_registry_test.go

package plugin_manager_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LoomBase/internal/core/port"
	"LoomBase/internal/service/plugin_manager"
)

func TestRegisterPlugin_PanicsOnInvalidInput(t *testing.T) {
	rec := &hookRecorder{}
	assert.Panics(t, func() {
		plugin_manager.RegisterPlugin("", fakeCtor(&fakePlugin{name: "x", rec: rec}))
	}, "空名称必须 panic")
	assert.Panics(t, func() {
		plugin_manager.RegisterPlugin("nil-ctor", nil)
	}, "nil 构造器必须 panic")
}

func TestSetInstance_ByRegisteredName(t *testing.T) {
	m, _, _, _ := newTestManager(t, "registry_by_name")

	rec := &hookRecorder{}
	p := &fakePlugin{name: "registered-one", rec: rec}
	plugin_manager.RegisterPlugin("registered-one", fakeCtor(p))

	// ctor 为 nil: 按名称从构造器注册表取回
	instance, err := m.SetInstance(nil, port.PluginOptions{Name: "registered-one"})
	require.NoError(t, err)
	assert.Same(t, port.Plugin(p), instance)

	got, err := m.GetInstance("registered-one")
	require.NoError(t, err)
	assert.Same(t, instance, got)
}

func TestSetInstance_UnknownNameFails(t *testing.T) {
	m, _, _, _ := newTestManager(t, "registry_unknown")
	_, err := m.SetInstance(nil, port.PluginOptions{Name: "never-registered"})
	require.Error(t, err)
	assert.ErrorIs(t, err, port.ErrInvalidPluginExport)
}

func TestSetInstance_AnonymousGetsSyntheticName(t *testing.T) {
	m, _, _, _ := newTestManager(t, "registry_anonymous")

	rec := &hookRecorder{}
	p := &fakePlugin{name: "anon", rec: rec}
	_, err := m.SetInstance(fakeCtor(p), port.PluginOptions{})
	require.NoError(t, err)

	// 合成名称可区分且可检索
	var synthetic []string
	for _, name := range m.InstanceNames() {
		if strings.HasPrefix(name, "anonymous-") {
			synthetic = append(synthetic, name)
		}
	}
	require.Len(t, synthetic, 1)
	got, err := m.GetInstance(synthetic[0])
	require.NoError(t, err)
	assert.Same(t, port.Plugin(p), got)
}

func TestSetInstance_SameNameReplacesKeepingOrder(t *testing.T) {
	m, _, _, _ := newTestManager(t, "registry_replace")

	rec := &hookRecorder{}
	first := &fakePlugin{name: "slot", rec: rec}
	second := &fakePlugin{name: "slot", rec: rec}

	_, err := m.SetInstance(fakeCtor(first), port.PluginOptions{Name: "slot"})
	require.NoError(t, err)
	_, err = m.SetInstance(fakeCtor(&fakePlugin{name: "tail", rec: rec}), port.PluginOptions{Name: "tail"})
	require.NoError(t, err)

	// 替换同名实例不应改变遍历顺序
	_, err = m.SetInstance(fakeCtor(second), port.PluginOptions{Name: "slot"})
	require.NoError(t, err)

	assert.Equal(t, []string{"slot", "tail"}, m.InstanceNames())
	got, err := m.GetInstance("slot")
	require.NoError(t, err)
	assert.Same(t, port.Plugin(second), got)
}

func TestGetInstance_NotFound(t *testing.T) {
	m, _, _, _ := newTestManager(t, "registry_not_found")
	_, err := m.GetInstance("ghost")
	assert.ErrorIs(t, err, port.ErrPluginNotFound)
}
