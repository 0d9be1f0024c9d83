// Package counter 把硬件转数计数信号解耦成按工位分发的增量通道。
// 中断/上报侧只负责往通道里推增量，卷长累计任务按自己的节奏消费。
package counter

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// NoCore 哨兵值：工位上已无料芯，卷长累计应当结束
const NoCore int64 = -1

const channelBuffer = 64

// Registry 按工位管理转数增量通道。
// 注册/注销必须串行化：同一物理通道并发装卸是不安全的。
type Registry struct {
	mu       sync.Mutex
	channels map[int64]chan int64
	logger   *zap.Logger
}

// NewRegistry 创建转数通道注册表
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		channels: make(map[int64]chan int64),
		logger:   logger,
	}
}

// Register 为工位注册一个增量通道。重复注册返回错误。
func (r *Registry) Register(locationID int64) (<-chan int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[locationID]; exists {
		return nil, fmt.Errorf("turn counter already registered for location %d", locationID)
	}
	ch := make(chan int64, channelBuffer)
	r.channels[locationID] = ch
	return ch, nil
}

// Unregister 注销工位通道并关闭它
func (r *Registry) Unregister(locationID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, exists := r.channels[locationID]; exists {
		delete(r.channels, locationID)
		close(ch)
	}
}

// Push 向工位通道推送一个增量（或 NoCore 哨兵）。
// 无人注册或通道已满时丢弃，返回 false。计数信号容忍丢失，卷长按趋势累计。
func (r *Registry) Push(locationID int64, delta int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[locationID]
	if !exists {
		return false
	}
	// 持锁发送（非阻塞），避免与 Unregister 的 close 竞争
	select {
	case ch <- delta:
		return true
	default:
		r.logger.Debug("Turn counter channel full, increment dropped",
			zap.Int64("location_id", locationID),
			zap.Int64("delta", delta),
		)
		return false
	}
}
