// Package control file: internal/control/server.go
//
// 控制通道：一个以文件路径寻址的本地流式套接字，
// 让短生命周期的 CLI 进程向常驻服务进程发起插件生命周期操作。
// 协议为逐行 UTF-8 JSON：请求 {method, plugins}，应答 {ok, error?}。
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"LoomBase/internal/core/domain"
	"LoomBase/internal/loomobserve"
)

// Dispatcher 把一条控制指令落到插件管理器上
type Dispatcher interface {
	Dispatch(ctx context.Context, method string, plugins []string) error
}

// Server 监听控制套接字并串行处理每个连接上的指令。
// 多个连接之间的指令并不互相串行——两个进程同时对同一插件
// 发起 enable/disable 属于已接受的竞争，由记录存储自身的
// 更新语义兜底。
type Server struct {
	path       string
	dispatcher Dispatcher

	mu sync.Mutex
	ln net.Listener
}

// NewServer 创建控制通道服务端
func NewServer(path string, d Dispatcher) (*Server, error) {
	if path == "" {
		return nil, errors.New("控制套接字路径不能为空")
	}
	if d == nil {
		return nil, errors.New("控制通道需要一个有效的指令分发器")
	}
	return &Server{path: path, dispatcher: d}, nil
}

// Listen 开始监听控制套接字。
// 旧的套接字文件会先被删除，避免上次异常退出残留导致 bind 失败。
func (s *Server) Listen() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("清理残留套接字文件 '%s' 失败: %w", s.path, err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("监听控制套接字 '%s' 失败: %w", s.path, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go s.acceptLoop(ln)
	log.Printf("✅ [Control] 控制通道已在 '%s' 上监听。", s.path)
	return nil
}

// Close 停止监听并删除套接字文件
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := ln.Close()
	if errRemove := os.Remove(s.path); errRemove != nil && !os.IsNotExist(errRemove) {
		log.Printf("警告: 删除套接字文件 '%s' 失败: %v", s.path, errRemove)
	}
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				log.Printf("信息: [Control] 控制通道已关闭，接收循环退出。")
				return
			}
			log.Printf("⚠️ [Control] 接受控制连接失败: %v", err)
			continue
		}
		loomobserve.ControlConnections.Inc()
		go s.handleConn(conn)
	}
}

// handleConn 逐行读取指令并依次分发。
// 同一连接上的指令保证串行处理完成后再读下一条。
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg domain.ControlMessage
		resp := domain.ControlResponse{OK: true}
		if err := json.Unmarshal(line, &msg); err != nil {
			resp = domain.ControlResponse{OK: false, Error: fmt.Sprintf("控制消息解析失败: %v", err)}
		} else {
			log.Printf("ℹ️ [Control] 收到指令: method=%s, plugins=%v", msg.Method, []string(msg.Plugins))
			if err := s.dispatcher.Dispatch(context.Background(), msg.Method, msg.Plugins); err != nil {
				// 分发失败不会中断连接，错误通过应答信封带回
				log.Printf("⚠️ [Control] 指令执行失败 (method=%s): %v", msg.Method, err)
				resp = domain.ControlResponse{OK: false, Error: err.Error()}
			}
		}

		if err := encoder.Encode(resp); err != nil {
			log.Printf("⚠️ [Control] 写回应答失败: %v", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("⚠️ [Control] 读取控制连接失败: %v", err)
	}
}
