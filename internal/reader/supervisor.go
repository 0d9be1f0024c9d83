package reader

import (
	"context"
	"sync"
	"time"

	"github.com/LucidAutoProgram/RFID-Program/internal/codec"
	"github.com/LucidAutoProgram/RFID-Program/internal/models"
	"github.com/LucidAutoProgram/RFID-Program/internal/session"
	"github.com/LucidAutoProgram/RFID-Program/internal/status"

	"go.uber.org/zap"
)

const (
	flagPollInterval = 1 * time.Second
	redialBackoff    = 5 * time.Second
	readPollTimeout  = 1 * time.Second
	ackTimeout       = 2 * time.Second
)

// Processor 消费一个扫描窗口的结果，产出对外发布的工位状态
type Processor interface {
	Process(ctx context.Context, rdr models.Reader, res session.Result) (status.StationStatus, error)
}

// StatusSink 工位状态的发布出口（由 status.Publisher 实现）
type StatusSink interface {
	Publish(ctx context.Context, st status.StationStatus)
}

// JobCanceler 停止一台读写器关联的后台卷长任务
type JobCanceler interface {
	Cancel(readerAddr string)
}

// Windows 各类工位的扫描窗口时长
type Windows struct {
	CoreStation time.Duration
	Production  time.Duration
	Storage     time.Duration
}

// For 返回读写器所在工位对应的窗口时长
func (w Windows) For(rdr models.Reader) time.Duration {
	switch models.ClassifyLocation(rdr.LocationName) {
	case models.LocationProduction:
		return w.Production
	case models.LocationStorage:
		return w.Storage
	default:
		return w.CoreStation
	}
}

// Supervisor 为每台读写器维护一个采集循环：
// 下发盘点命令、按窗口聚合标签、交给处理器解析流转、发布工位状态。
// 连接断开自动重拨，读取开关关闭时停止盘点并取消后台任务。
type Supervisor struct {
	pool      *Pool
	flags     *Flags
	processor Processor
	sink      StatusSink
	jobs      JobCanceler
	windows   Windows
	logger    *zap.Logger

	wg sync.WaitGroup
}

// NewSupervisor 创建读写器监管器
func NewSupervisor(pool *Pool, flags *Flags, processor Processor, sink StatusSink, jobs JobCanceler, windows Windows, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		pool:      pool,
		flags:     flags,
		processor: processor,
		sink:      sink,
		jobs:      jobs,
		windows:   windows,
		logger:    logger,
	}
}

// Run 为每台读写器启动一个采集协程，阻塞到 ctx 取消且全部协程退出
func (s *Supervisor) Run(ctx context.Context, readers []models.Reader) {
	for _, rdr := range readers {
		s.wg.Add(1)
		go func(rdr models.Reader) {
			defer s.wg.Done()
			s.superviseReader(ctx, rdr)
		}(rdr)
	}
	s.wg.Wait()
	s.pool.CloseAll()
}

func (s *Supervisor) superviseReader(ctx context.Context, rdr models.Reader) {
	logger := s.logger.With(
		zap.String("device", rdr.Address),
		zap.String("location", rdr.LocationName),
	)

	// active: 该读写器当前处于盘点状态
	active := false

	for {
		if ctx.Err() != nil {
			if active {
				s.stopReading(rdr, logger)
			}
			return
		}

		if !s.flags.Enabled(rdr.Address) {
			if active {
				s.stopReading(rdr, logger)
				active = false
			}
			if !sleepCtx(ctx, flagPollInterval) {
				return
			}
			continue
		}

		conn, err := s.pool.Get(rdr)
		if err != nil {
			logger.Warn("Failed to connect reader", zap.Error(err))
			if !sleepCtx(ctx, redialBackoff) {
				return
			}
			continue
		}

		if !active {
			if err := s.beginReading(conn, rdr, logger); err != nil {
				logger.Warn("Failed to start inventory", zap.Error(err))
				s.pool.Drop(rdr.Address)
				if !sleepCtx(ctx, redialBackoff) {
					return
				}
				continue
			}
			active = true
		}

		if !s.runWindow(ctx, conn, rdr, logger) {
			s.pool.Drop(rdr.Address)
			active = false
		}
	}
}

// beginReading 下发设备信息查询和启动盘点命令
func (s *Supervisor) beginReading(conn Conn, rdr models.Reader, logger *zap.Logger) error {
	if err := conn.Send(codec.DeviceInfoCommand()); err != nil {
		return err
	}
	if raw, err := conn.Read(ackTimeout); err == nil {
		if frame, err := codec.DecodeFrame(raw); err == nil {
			logger.Info("Reader device info",
				zap.String("info", string(frame.Payload)),
			)
		}
	}

	if err := conn.Send(codec.StartInventoryCommand(0x00, 0)); err != nil {
		return err
	}
	if raw, err := conn.Read(ackTimeout); err == nil {
		frame, err := codec.DecodeFrame(raw)
		if err != nil {
			logger.Warn("Invalid start inventory ack", zap.Error(err))
		} else if code, ok := frame.StatusCode(); ok && code != 0 {
			logger.Warn("Start inventory rejected",
				zap.String("status", codec.StatusFromCode(code).String()),
			)
		}
	}

	logger.Info("Inventory started")
	return nil
}

// stopReading 下发停止盘点、取消卷长任务并释放连接
func (s *Supervisor) stopReading(rdr models.Reader, logger *zap.Logger) {
	if conn, err := s.pool.Get(rdr); err == nil {
		if err := conn.Send(codec.StopInventoryCommand()); err != nil {
			logger.Warn("Failed to send stop inventory", zap.Error(err))
		} else if raw, err := conn.Read(ackTimeout); err == nil {
			if _, err := codec.DecodeFrame(raw); err != nil {
				logger.Warn("Invalid stop inventory ack", zap.Error(err))
			}
		}
	}

	s.jobs.Cancel(rdr.Address)
	s.pool.Drop(rdr.Address)
	logger.Info("Inventory stopped")
}

// runWindow 执行一个扫描窗口。返回 false 表示连接已不可用，需要重拨。
func (s *Supervisor) runWindow(ctx context.Context, conn Conn, rdr models.Reader, logger *zap.Logger) bool {
	sess := session.New(s.windows.For(rdr))

	for !sess.Expired(time.Now()) {
		if ctx.Err() != nil {
			sess.CloseEarly()
			return true
		}

		raw, err := conn.Read(readPollTimeout)
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			logger.Warn("Reader connection lost", zap.Error(err))
			sess.CloseEarly()
			return false
		}

		sess.MarkResponse()
		tag, err := codec.ParseTagReport(raw)
		if err != nil {
			logger.Debug("Unparseable tag report", zap.Error(err))
			continue
		}
		if tag == "" {
			continue
		}
		sess.Observe(tag, time.Now())
	}

	// 窗口自然到期：全程超时是空闲工位的常态（没有料芯可扫），
	// 照常交给解析引擎（得到无料芯结论），连接保持
	result := sess.Close()

	st, err := s.processor.Process(ctx, rdr, result)
	if err != nil {
		logger.Error("Failed to process scan window",
			zap.String("session_id", result.SessionID),
			zap.Error(err),
		)
		return true
	}
	s.sink.Publish(ctx, st)
	return true
}

// sleepCtx 可取消的休眠，ctx 先取消时返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
