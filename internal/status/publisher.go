package status

import (
	"context"
	"time"

	rediscommon "github.com/LucidAutoProgram/RFID-Program/internal/common/redis"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher 把工位状态发布到 Redis Streams，供看板/大屏消费。
// 发布失败只记日志：状态流是展示用途，不允许反过来拖垮读取回路。
type Publisher struct {
	client  *redis.Client
	stream  string
	webhook *WebhookNotifier
	logger  *zap.Logger
}

// NewPublisher 创建状态发布器。webhook 可以为 nil。
func NewPublisher(client *redis.Client, stream string, webhook *WebhookNotifier, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		stream:  stream,
		webhook: webhook,
		logger:  logger,
	}
}

// Publish 发布一条工位状态
func (p *Publisher) Publish(ctx context.Context, st StationStatus) {
	if st.EventID == "" {
		st.EventID = uuid.NewString()
	}
	if st.At.IsZero() {
		st.At = time.Now()
	}

	if p.client != nil {
		if _, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, st); err != nil {
			p.logger.Error("Failed to publish station status",
				zap.String("location", st.Location),
				zap.Error(err),
			)
		}
	}

	if p.webhook != nil {
		if err := p.webhook.Notify(ctx, st); err != nil {
			p.logger.Warn("Failed to push station status to dashboard webhook",
				zap.String("location", st.Location),
				zap.Error(err),
			)
		}
	}

	p.logger.Debug("Station status published",
		zap.String("location", st.Location),
		zap.String("color", string(st.Color)),
		zap.String("message", st.Message),
	)
}
