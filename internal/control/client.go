// Package control file: internal/control/client.go
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"LoomBase/internal/core/domain"
)

const defaultDialTimeout = 2 * time.Second

// Client 是控制通道的调用方。
// 优先把指令交给正在运行的服务进程执行（保持两边状态一致）；
// 套接字不可达时退化为在本进程内直接执行同一条指令，
// 这使 CLI 在服务尚未启动时（如首次初始化）也可用。
type Client struct {
	path        string
	fallback    Dispatcher
	dialTimeout time.Duration
}

// NewClient 创建控制通道客户端。
// fallback 在连接失败时被用于本地执行，不可为 nil。
func NewClient(path string, fallback Dispatcher) (*Client, error) {
	if path == "" {
		return nil, errors.New("控制套接字路径不能为空")
	}
	if fallback == nil {
		return nil, errors.New("控制通道客户端需要本地回退分发器")
	}
	return &Client{path: path, fallback: fallback, dialTimeout: defaultDialTimeout}, nil
}

// Run 执行一条生命周期指令。
// 注意: "create" 类指令不应经过控制通道，调用方应直接本地执行。
func (c *Client) Run(ctx context.Context, method string, plugins []string) error {
	conn, err := net.DialTimeout("unix", c.path, c.dialTimeout)
	if err != nil {
		log.Printf("ℹ️ [Control] 未发现运行中的服务进程 (%v)，改为本地执行。", err)
		return c.fallback.Dispatch(ctx, method, plugins)
	}
	defer conn.Close()

	msg := domain.ControlMessage{Method: method, Plugins: domain.PluginNames(plugins)}
	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return fmt.Errorf("发送控制指令失败: %w", err)
	}

	var resp domain.ControlResponse
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("读取控制应答失败: %w", err)
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("解析控制应答失败: %w", err)
	}
	if !resp.OK {
		return errors.New(resp.Error)
	}
	return nil
}
