// Package domain file: internal/core/domain/control_models.go
package domain

import (
	"encoding/json"
	"fmt"
)

// ControlMessage 是控制通道上的一条生命周期指令。
// 每条消息在传输层上占据一行 UTF-8 JSON。
type ControlMessage struct {
	Method  string      `json:"method"`
	Plugins PluginNames `json:"plugins"`
}

// ControlResponse 是服务端在处理完一条指令后写回的应答信封。
type ControlResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// PluginNames 兼容单个字符串与字符串数组两种 JSON 形态。
// 旧版 CLI 发送 "plugins": "foo"，新版发送 "plugins": ["foo", "bar"]。
type PluginNames []string

// UnmarshalJSON 实现 string | []string 的兼容解析
func (p *PluginNames) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*p = PluginNames{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("plugins 字段既不是字符串也不是字符串数组: %w", err)
	}
	*p = PluginNames(many)
	return nil
}

// MarshalJSON 总是以数组形态序列化
func (p PluginNames) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(p))
}
