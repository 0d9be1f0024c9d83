// Package service 组装RFID追踪服务：数据库、Redis、MQTT、各引擎和读写器监管器。
package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LucidAutoProgram/RFID-Program/internal/common/database"
	commonmqtt "github.com/LucidAutoProgram/RFID-Program/internal/common/mqtt"
	commonredis "github.com/LucidAutoProgram/RFID-Program/internal/common/redis"
	"github.com/LucidAutoProgram/RFID-Program/internal/config"
	"github.com/LucidAutoProgram/RFID-Program/internal/counter"
	"github.com/LucidAutoProgram/RFID-Program/internal/reader"
	"github.com/LucidAutoProgram/RFID-Program/internal/repository"
	"github.com/LucidAutoProgram/RFID-Program/internal/resolver"
	"github.com/LucidAutoProgram/RFID-Program/internal/status"
	"github.com/LucidAutoProgram/RFID-Program/internal/transition"

	"go.uber.org/zap"
)

// TrackerService RFID追踪服务
type TrackerService struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *commonredis.Client
	mqttClient  *commonmqtt.Client // 合成计数模式下为 nil

	devices   *repository.DeviceRepository
	cores     *repository.CoreRepository
	rolls     *repository.RollRepository
	orders    *repository.WorkOrderRepository
	locations *repository.LocationRepository
	storage   *repository.StorageRepository

	registry  *counter.Registry
	synthetic *counter.Synthetic
	feed      *counter.MQTTFeed
	flags     *reader.Flags

	jobs     *transition.JobManager
	consumer *ControlConsumer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTrackerService 建立外部依赖连接并组装服务
func NewTrackerService(cfg *config.Config, logger *zap.Logger) (*TrackerService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := commonredis.Ping(pingCtx, redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}

	s := &TrackerService{
		cfg:    cfg,
		logger: logger,

		db:          db,
		redisClient: redisClient,

		devices:   repository.NewDeviceRepository(db, logger),
		cores:     repository.NewCoreRepository(db, logger),
		rolls:     repository.NewRollRepository(db, logger),
		orders:    repository.NewWorkOrderRepository(db, logger),
		locations: repository.NewLocationRepository(db, logger),
		storage:   repository.NewStorageRepository(db, logger),

		registry: counter.NewRegistry(logger),
		flags:    reader.NewFlags(),
		done:     make(chan struct{}),
	}

	if cfg.SyntheticCounter {
		s.synthetic = counter.NewSynthetic(s.registry, 1, cfg.SyntheticPeriod, cfg.SyntheticTurnLimit, logger)
		logger.Info("Using synthetic turn counter",
			zap.Duration("period", cfg.SyntheticPeriod),
			zap.Int64("turn_limit", cfg.SyntheticTurnLimit),
		)
	} else {
		mqttClient, err := commonmqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			commonredis.Close(redisClient)
			database.Close(db)
			return nil, fmt.Errorf("failed to connect mqtt broker: %w", err)
		}
		s.mqttClient = mqttClient
		s.feed = counter.NewMQTTFeed(mqttClient, s.registry, cfg.TurnCountTopic, cfg.MQTT.QoS, logger)
	}

	return s, nil
}

// Start 加载读写器清单并启动全部后台协程
func (s *TrackerService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	readers, err := s.devices.ListReaders(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to list readers: %w", err)
	}
	if len(readers) == 0 {
		s.logger.Warn("No readers configured, service will idle")
	}
	for _, rdr := range readers {
		s.flags.Set(rdr.Address, rdr.ReadingMode)
	}

	s.jobs = transition.NewJobManager(runCtx, s.rolls, s.orders, s.registry, s.synthetic, s.cfg.MetersPerTurn, s.logger)
	transitions := transition.NewEngine(s.rolls, s.orders, s.locations, s.storage, s.jobs, s.logger)
	resolverEngine := resolver.NewEngine(s.cores, s.cfg.TagsPerCore, s.logger)
	processor := NewWindowProcessor(resolverEngine, transitions, s.logger)

	var webhook *status.WebhookNotifier
	if s.cfg.WebhookURL != "" {
		webhook = status.NewWebhookNotifier(s.cfg.WebhookURL, 5*time.Second)
	}
	publisher := status.NewPublisher(s.redisClient, s.cfg.StatusStream, webhook, s.logger)

	if s.feed != nil {
		if err := s.feed.Start(); err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe turn count topic: %w", err)
		}
	}

	s.consumer = NewControlConsumer(s.redisClient, s.devices, s.flags,
		s.cfg.ControlStream, s.cfg.ConsumerGroup, s.cfg.ConsumerName, s.logger)
	if err := s.consumer.Start(runCtx); err != nil {
		cancel()
		return err
	}

	pool := reader.NewPool(s.logger)
	windows := reader.Windows{
		CoreStation: s.cfg.CoreStationWindow,
		Production:  s.cfg.ProductionWindow,
		Storage:     s.cfg.CoreStationWindow,
	}
	supervisor := reader.NewSupervisor(pool, s.flags, processor, publisher, s.jobs, windows, s.logger)

	go func() {
		supervisor.Run(runCtx, readers)
		close(s.done)
	}()

	s.logger.Info("Tracker service started",
		zap.Int("readers", len(readers)),
		zap.String("status_stream", s.cfg.StatusStream),
		zap.String("control_stream", s.cfg.ControlStream),
	)
	return nil
}

// Stop 停止全部协程并释放外部连接
func (s *TrackerService) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.consumer.Wait()
		s.jobs.CancelAll()
	}

	if s.feed != nil {
		s.feed.Stop()
	}
	if s.mqttClient != nil {
		s.mqttClient.Close()
	}
	if err := commonredis.Close(s.redisClient); err != nil {
		s.logger.Warn("Failed to close redis client", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}

	s.logger.Info("Tracker service stopped")
}
