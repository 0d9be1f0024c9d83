package transition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LucidAutoProgram/RFID-Program/internal/counter"
	"github.com/LucidAutoProgram/RFID-Program/internal/models"

	"go.uber.org/zap"
)

// JobManager 管理按读写器维度的后台卷长累计任务。
// 收卷可能持续几分钟到几十分钟，不能阻塞扫描窗口回路；
// 任务按读写器地址登记，读写器被关停时能确定地找到并取消对应任务。
type JobManager struct {
	mu        sync.Mutex
	jobs      map[string]*rollJob
	rolls     RollStore
	orders    WorkOrderStore
	registry  *counter.Registry
	synthetic *counter.Synthetic // 无计数硬件时的合成信号源，可为nil

	metersPerTurn float64
	baseCtx       context.Context
	logger        *zap.Logger
}

type rollJob struct {
	cancel context.CancelFunc
	done   chan struct{}
	coreID int64
	rollID int64
}

// NewJobManager 创建后台任务管理器。
// baseCtx 是服务级上下文：服务停机时所有任务一并取消。
func NewJobManager(baseCtx context.Context, rolls RollStore, orders WorkOrderStore, registry *counter.Registry, synthetic *counter.Synthetic, metersPerTurn float64, logger *zap.Logger) *JobManager {
	if metersPerTurn <= 0 {
		metersPerTurn = 1.0
	}
	return &JobManager{
		jobs:          make(map[string]*rollJob),
		rolls:         rolls,
		orders:        orders,
		registry:      registry,
		synthetic:     synthetic,
		metersPerTurn: metersPerTurn,
		baseCtx:       baseCtx,
		logger:        logger,
	}
}

// Start 为读写器启动卷长累计任务（先铸发工单）。
// 同一读写器已有任务时先取消旧任务再启动，保证每个工位只有一个累计回路。
func (m *JobManager) Start(rdr models.Reader, coreID, rollID int64) {
	m.Cancel(rdr.Address)

	ctx, cancel := context.WithCancel(m.baseCtx)
	job := &rollJob{
		cancel: cancel,
		done:   make(chan struct{}),
		coreID: coreID,
		rollID: rollID,
	}

	m.mu.Lock()
	m.jobs[rdr.Address] = job
	m.mu.Unlock()

	go m.run(ctx, job, rdr)
}

// Cancel 取消读写器的累计任务并等待其退出
func (m *JobManager) Cancel(readerAddr string) {
	m.mu.Lock()
	job, exists := m.jobs[readerAddr]
	if exists {
		delete(m.jobs, readerAddr)
	}
	m.mu.Unlock()

	if exists {
		job.cancel()
		<-job.done
	}
}

// CancelAll 服务停机时取消全部任务
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	jobs := make([]*rollJob, 0, len(m.jobs))
	for addr, job := range m.jobs {
		jobs = append(jobs, job)
		delete(m.jobs, addr)
	}
	m.mu.Unlock()

	for _, job := range jobs {
		job.cancel()
		<-job.done
	}
}

// Running 读写器当前是否有累计任务（测试与诊断用）
func (m *JobManager) Running(readerAddr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.jobs[readerAddr]
	return exists
}

func (m *JobManager) run(ctx context.Context, job *rollJob, rdr models.Reader) {
	defer close(job.done)
	// 任务自然结束（哨兵收卷）时自己摘除登记；被 Cancel 摘除过的不再动
	defer func() {
		m.mu.Lock()
		if m.jobs[rdr.Address] == job {
			delete(m.jobs, rdr.Address)
		}
		m.mu.Unlock()
	}()

	// 工单铸发：已有工单时跳过（幂等），工位绑定写一次
	if err := m.mintWorkOrder(ctx, job.rollID, rdr.LocationID); err != nil {
		m.logger.Error("Failed to mint work order",
			zap.Int64("roll_id", job.rollID),
			zap.Error(err),
		)
		// 工单失败不阻止卷长累计，下次稳态观察时仍可查询重试
	}

	ch, err := m.registry.Register(rdr.LocationID)
	if err != nil {
		m.logger.Error("Failed to register turn counter channel",
			zap.Int64("location_id", rdr.LocationID),
			zap.Error(err),
		)
		return
	}
	defer m.registry.Unregister(rdr.LocationID)

	if m.synthetic != nil {
		go m.synthetic.Run(ctx, rdr.LocationID)
	}

	m.logger.Info("Roll length accumulation started",
		zap.Int64("core_id", job.coreID),
		zap.Int64("roll_id", job.rollID),
		zap.String("reader", rdr.Address),
	)

	for {
		select {
		case <-ctx.Done():
			// 读写器被关停或服务停机：任务取消，卷保持打开，下次扫描恢复
			m.logger.Info("Roll length accumulation cancelled",
				zap.Int64("roll_id", job.rollID),
			)
			return

		case delta, open := <-ch:
			if !open {
				return
			}
			if delta == counter.NoCore {
				// 计数器报无料芯：收卷结束，写结束时间
				if err := m.rolls.CloseRoll(ctx, job.rollID, time.Now()); err != nil {
					m.logger.Error("Failed to close roll",
						zap.Int64("roll_id", job.rollID),
						zap.Error(err),
					)
				} else {
					m.logger.Info("Roll finished",
						zap.Int64("roll_id", job.rollID),
					)
				}
				return
			}
			if delta <= 0 {
				continue
			}
			length := float64(delta) * m.metersPerTurn
			if err := m.rolls.AddRollLength(ctx, job.rollID, length, delta); err != nil {
				m.logger.Error("Failed to accumulate roll length",
					zap.Int64("roll_id", job.rollID),
					zap.Error(err),
				)
			}
		}
	}
}

func (m *JobManager) mintWorkOrder(ctx context.Context, rollID, locationID int64) error {
	wo, exists, err := m.orders.WorkOrderByRoll(ctx, rollID)
	if err != nil {
		return err
	}

	if !exists {
		maxID, err := m.orders.MaxWorkOrderID(ctx)
		if err != nil {
			return err
		}
		id := maxID + 1
		number := fmt.Sprintf("WO-%d", id)
		if err := m.orders.CreateWorkOrder(ctx, id, number, rollID, time.Now()); err != nil {
			return err
		}
		if err := m.orders.AssignWorkOrder(ctx, id, locationID, time.Now()); err != nil {
			return err
		}
		m.logger.Info("Work order created",
			zap.String("work_order", number),
			zap.Int64("roll_id", rollID),
			zap.Int64("location_id", locationID),
		)
		return nil
	}

	// 已有工单：只补写位置绑定（写一次语义由存储层保证）
	return m.orders.AssignWorkOrder(ctx, wo.ID, locationID, time.Now())
}
