// file: internal/core/domain/control_models_test.go

package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPluginNames_AcceptsStringAndArray(t *testing.T) {
	var legacy ControlMessage
	require.NoError(t, json.Unmarshal([]byte(`{"method":"enable","plugins":"workflow"}`), &legacy))
	assert.Equal(t, PluginNames{"workflow"}, legacy.Plugins, "单个字符串应被提升为单元素数组")

	var modern ControlMessage
	require.NoError(t, json.Unmarshal([]byte(`{"method":"disable","plugins":["a","b"]}`), &modern))
	assert.Equal(t, PluginNames{"a", "b"}, modern.Plugins)
}

func TestPluginNames_RejectsOtherShapes(t *testing.T) {
	var msg ControlMessage
	err := json.Unmarshal([]byte(`{"method":"enable","plugins":42}`), &msg)
	assert.Error(t, err)
}

func TestPluginNames_AlwaysMarshalsAsArray(t *testing.T) {
	raw, err := json.Marshal(ControlMessage{Method: "enable", Plugins: PluginNames{"only-one"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"enable","plugins":["only-one"]}`, string(raw))
}

func TestControlResponse_ErrorOmittedWhenOK(t *testing.T) {
	raw, err := json.Marshal(ControlResponse{OK: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	raw, err = json.Marshal(ControlResponse{OK: false, Error: "boom"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false,"error":"boom"}`, string(raw))
}
