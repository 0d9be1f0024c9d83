package counter

import (
	"encoding/json"
	"fmt"

	mqttcommon "github.com/LucidAutoProgram/RFID-Program/internal/common/mqtt"

	"go.uber.org/zap"
)

// TurnEvent 计数器上报的MQTT消息体
// turns = -1 表示工位上已无料芯
type TurnEvent struct {
	LocationID int64 `json:"location_id"`
	Turns      int64 `json:"turns"`
}

// MQTTFeed 真实转数计数器的MQTT接入。
// 计数硬件把每次中断批量上报到 factory/turnc 主题，这里转投到工位通道。
type MQTTFeed struct {
	client   *mqttcommon.Client
	registry *Registry
	topic    string
	qos      byte
	logger   *zap.Logger
}

// NewMQTTFeed 创建MQTT计数源
func NewMQTTFeed(client *mqttcommon.Client, registry *Registry, topic string, qos byte, logger *zap.Logger) *MQTTFeed {
	return &MQTTFeed{
		client:   client,
		registry: registry,
		topic:    topic,
		qos:      qos,
		logger:   logger,
	}
}

// Start 订阅计数主题
func (f *MQTTFeed) Start() error {
	if err := f.client.Subscribe(f.topic, f.qos, f.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to turn counter topic: %w", err)
	}
	f.logger.Info("Turn counter MQTT feed started", zap.String("topic", f.topic))
	return nil
}

// Stop 取消订阅
func (f *MQTTFeed) Stop() {
	if err := f.client.Unsubscribe(f.topic); err != nil {
		f.logger.Error("Failed to unsubscribe turn counter topic", zap.Error(err))
	}
}

func (f *MQTTFeed) handleMessage(topic string, payload []byte) error {
	var event TurnEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to unmarshal turn event: %w", err)
	}

	f.registry.Push(event.LocationID, event.Turns)
	return nil
}
