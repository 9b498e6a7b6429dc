// Package event file: internal/event/bus.go
//
// 提供应用级事件总线：订阅者按注册顺序被依次调用并逐个等待完成，
// EmitAsync 返回时保证该事件的全部处理器都已执行完毕。
// 任一处理器返回错误会中止后续处理器并把错误抛给触发方。
package event

import (
	"context"
	"fmt"
	"sync"
)

// Handler 是单个事件处理器。args 的含义由事件名约定。
type Handler func(ctx context.Context, args ...any) error

// Bus 是进程内的有序事件总线，归属于单个应用实例。
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus 创建一个空的事件总线
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// On 注册一个事件处理器。同一事件的处理器按注册顺序执行。
func (b *Bus) On(name string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// EmitAsync 触发一个事件并等待所有处理器顺序执行完成。
// 处理器不并行：插件钩子之间可能存在跨插件的先后依赖。
func (b *Bus) EmitAsync(ctx context.Context, name string, args ...any) error {
	b.mu.RLock()
	hs := make([]Handler, len(b.handlers[name]))
	copy(hs, b.handlers[name])
	b.mu.RUnlock()

	for i, h := range hs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h(ctx, args...); err != nil {
			return fmt.Errorf("事件 '%s' 的第 %d 个处理器执行失败: %w", name, i+1, err)
		}
	}
	return nil
}
