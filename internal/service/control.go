package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	commonredis "github.com/LucidAutoProgram/RFID-Program/internal/common/redis"
	"github.com/LucidAutoProgram/RFID-Program/internal/reader"

	"go.uber.org/zap"
)

// ControlCommand 控制流上的读取开关命令
type ControlCommand struct {
	DeviceAddr string `json:"device_ip"` // 与 rfid_device_details.device_ip 一致
	Reading    bool   `json:"reading"`
}

// ModeStore 持久化读取开关（由 repository.DeviceRepository 实现）
type ModeStore interface {
	SetReadingMode(ctx context.Context, deviceAddr string, on bool) error
}

// ControlConsumer 消费 Redis Streams 控制流，翻转读写器的读取开关并落库
type ControlConsumer struct {
	client   *commonredis.Client
	devices  ModeStore
	flags    *reader.Flags
	stream   string
	group    string
	consumer string
	logger   *zap.Logger

	done chan struct{}
}

// NewControlConsumer 创建控制流消费者
func NewControlConsumer(client *commonredis.Client, devices ModeStore, flags *reader.Flags, stream, group, consumer string, logger *zap.Logger) *ControlConsumer {
	return &ControlConsumer{
		client:   client,
		devices:  devices,
		flags:    flags,
		stream:   stream,
		group:    group,
		consumer: consumer,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start 建立消费者组并启动消费协程
func (c *ControlConsumer) Start(ctx context.Context) error {
	if err := commonredis.CreateConsumerGroup(ctx, c.client, c.stream, c.group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	go c.consume(ctx)
	return nil
}

// Wait 阻塞到消费协程退出
func (c *ControlConsumer) Wait() {
	<-c.done
}

func (c *ControlConsumer) consume(ctx context.Context) {
	defer close(c.done)

	c.logger.Info("Control consumer started",
		zap.String("stream", c.stream),
		zap.String("group", c.group),
	)

	for {
		if ctx.Err() != nil {
			return
		}

		messages, err := commonredis.ReadFromStream(ctx, c.client, c.stream, c.group, c.consumer, 10)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Failed to read control stream", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			c.handleMessage(ctx, msg)
			if err := commonredis.AckMessage(ctx, c.client, c.stream, c.group, msg.ID); err != nil {
				c.logger.Warn("Failed to ack control message",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}
		}
	}
}

func (c *ControlConsumer) handleMessage(ctx context.Context, msg commonredis.StreamMessage) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		c.logger.Warn("Control message has no data field", zap.String("message_id", msg.ID))
		return
	}

	var cmd ControlCommand
	if err := json.Unmarshal([]byte(data), &cmd); err != nil {
		c.logger.Warn("Invalid control message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}
	if cmd.DeviceAddr == "" {
		c.logger.Warn("Control message missing device_ip", zap.String("message_id", msg.ID))
		return
	}

	c.flags.Set(cmd.DeviceAddr, cmd.Reading)
	if err := c.devices.SetReadingMode(ctx, cmd.DeviceAddr, cmd.Reading); err != nil {
		c.logger.Error("Failed to persist reading mode",
			zap.String("device", cmd.DeviceAddr),
			zap.Error(err),
		)
	}

	c.logger.Info("Reading mode changed",
		zap.String("device", cmd.DeviceAddr),
		zap.Bool("reading", cmd.Reading),
	)
}
