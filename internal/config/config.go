// Package config 汇集RFID追踪服务的全部运行配置，带默认值并支持环境变量覆盖。
package config

import (
	"os"
	"strconv"
	"time"

	commoncfg "github.com/LucidAutoProgram/RFID-Program/internal/common/config"
)

// Config 服务配置
type Config struct {
	Database commoncfg.DatabaseConfig
	Redis    commoncfg.RedisConfig
	MQTT     commoncfg.MQTTConfig

	// 扫描窗口
	CoreStationWindow time.Duration // 芯站/仓储工位扫描窗口
	ProductionWindow  time.Duration // 生产工位扫描窗口

	// 解析
	TagsPerCore int // 识别一根料芯所需的最少标签数

	// 卷长累计
	MetersPerTurn      float64
	SyntheticCounter   bool          // 无计数硬件时用内置节拍器模拟转数
	SyntheticPeriod    time.Duration // 模拟计数的节拍
	SyntheticTurnLimit int64         // 模拟计数达到该转数后发收卷结束哨兵；0 = 不设上限
	TurnCountTopic     string        // MQTT 转数上报主题

	// Redis Streams
	StatusStream  string
	ControlStream string
	ConsumerGroup string
	ConsumerName  string

	// 状态 webhook（可选，空则禁用）
	WebhookURL string

	// 日志
	LogLevel  string
	LogFormat string
}

// Load 加载配置：内置默认值 + 环境变量覆盖
func Load() *Config {
	cfg := &Config{
		Database: commoncfg.DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "rfid_tracking",
			SSLMode:  "disable",
			MaxConns: 25,
			MaxIdle:  5,
		},
		Redis: commoncfg.RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		MQTT: commoncfg.MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "rfid-tracker",
			QoS:      1,
		},

		CoreStationWindow: 5 * time.Second,
		ProductionWindow:  10 * time.Second,
		TagsPerCore:       3,

		MetersPerTurn:      1.0,
		SyntheticCounter:   false,
		SyntheticPeriod:    2 * time.Second,
		SyntheticTurnLimit: 0,
		TurnCountTopic:     "factory/turnc/+",

		StatusStream:  "rfid:station:status",
		ControlStream: "rfid:control",
		ConsumerGroup: "rfid-tracker",
		ConsumerName:  "tracker-1",

		LogLevel:  "info",
		LogFormat: "json",
	}

	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.CoreStationWindow = envDuration("CORE_STATION_WINDOW", cfg.CoreStationWindow)
	cfg.ProductionWindow = envDuration("PRODUCTION_WINDOW", cfg.ProductionWindow)
	cfg.TagsPerCore = envInt("TAGS_PER_CORE", cfg.TagsPerCore)

	cfg.MetersPerTurn = envFloat("METERS_PER_TURN", cfg.MetersPerTurn)
	cfg.SyntheticCounter = envBool("SYNTHETIC_COUNTER", cfg.SyntheticCounter)
	cfg.SyntheticPeriod = envDuration("SYNTHETIC_PERIOD", cfg.SyntheticPeriod)
	cfg.SyntheticTurnLimit = int64(envInt("SYNTHETIC_TURN_LIMIT", int(cfg.SyntheticTurnLimit)))
	cfg.TurnCountTopic = envString("TURN_COUNT_TOPIC", cfg.TurnCountTopic)

	cfg.StatusStream = envString("STATUS_STREAM", cfg.StatusStream)
	cfg.ControlStream = envString("CONTROL_STREAM", cfg.ControlStream)
	cfg.ConsumerGroup = envString("CONSUMER_GROUP", cfg.ConsumerGroup)
	cfg.ConsumerName = envString("CONSUMER_NAME", cfg.ConsumerName)

	cfg.WebhookURL = envString("STATUS_WEBHOOK_URL", cfg.WebhookURL)

	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("LOG_FORMAT", cfg.LogFormat)

	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
