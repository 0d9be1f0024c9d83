package counter

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Synthetic 合成计数源：没有接入计数硬件的工位按固定节奏产生增量。
// limit > 0 时，累计推送 limit 转后发出 NoCore 哨兵并停止（模拟收卷结束）；
// limit = 0 表示不设上限，收卷结束只能由取消或真实计数源触发。
type Synthetic struct {
	registry  *Registry
	increment int64
	interval  time.Duration
	limit     int64
	logger    *zap.Logger
}

// NewSynthetic 创建合成计数源
func NewSynthetic(registry *Registry, increment int64, interval time.Duration, limit int64, logger *zap.Logger) *Synthetic {
	if increment <= 0 {
		increment = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	if limit < 0 {
		limit = 0
	}
	return &Synthetic{
		registry:  registry,
		increment: increment,
		interval:  interval,
		limit:     limit,
		logger:    logger,
	}
}

// Run 向工位通道按固定间隔推送增量，直到上下文取消或达到转数上限
func (s *Synthetic) Run(ctx context.Context, locationID int64) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("Synthetic turn counter started",
		zap.Int64("location_id", locationID),
		zap.Int64("increment", s.increment),
		zap.Duration("interval", s.interval),
		zap.Int64("limit", s.limit),
	)

	var total int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.registry.Push(locationID, s.increment)
			total += s.increment
			if s.limit > 0 && total >= s.limit {
				// 达到上限：发收卷结束哨兵
				s.registry.Push(locationID, NoCore)
				s.logger.Debug("Synthetic turn counter reached limit",
					zap.Int64("location_id", locationID),
					zap.Int64("total", total),
				)
				return
			}
		}
	}
}
