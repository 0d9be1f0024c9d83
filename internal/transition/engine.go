// Package transition 根据解析结论和读写器所在工位推进料芯的生产流转：
// 芯站验证、生产工位开卷/开单、仓储进出，并维护只追加的位置历史。
package transition

import (
	"context"
	"fmt"
	"time"

	"github.com/LucidAutoProgram/RFID-Program/internal/models"
	"github.com/LucidAutoProgram/RFID-Program/internal/resolver"
	"github.com/LucidAutoProgram/RFID-Program/internal/status"

	"go.uber.org/zap"
)

// RollStore 料卷持久化操作（由 repository.RollRepository 实现）
type RollStore interface {
	RollByCore(ctx context.Context, coreID int64) (*models.MaterialRoll, bool, error)
	CreateRoll(ctx context.Context, coreID int64, start time.Time) (int64, error)
	InitRollLength(ctx context.Context, rollID int64) error
	AddRollLength(ctx context.Context, rollID int64, lengthDelta float64, turnDelta int64) error
	CloseRoll(ctx context.Context, rollID int64, end time.Time) error
}

// WorkOrderStore 工单持久化操作（由 repository.WorkOrderRepository 实现）
type WorkOrderStore interface {
	WorkOrderByRoll(ctx context.Context, rollID int64) (*models.WorkOrder, bool, error)
	MaxWorkOrderID(ctx context.Context) (int64, error)
	CreateWorkOrder(ctx context.Context, id int64, number string, rollID int64, scheduledAt time.Time) error
	AssignWorkOrder(ctx context.Context, workOrderID, locationID int64, at time.Time) error
}

// LocationStore 位置历史持久化操作（由 repository.LocationRepository 实现）
type LocationStore interface {
	LastLocationID(ctx context.Context, coreID int64) (int64, bool, error)
	AppendCoreLocation(ctx context.Context, coreID, locationID int64, at time.Time) error
	HistoryNames(ctx context.Context, coreID int64) ([]string, error)
}

// StorageStore 仓储进出持久化操作（由 repository.StorageRepository 实现）
type StorageStore interface {
	RollIn(ctx context.Context, rollID, locationID int64, enterAt time.Time) error
	RollOut(ctx context.Context, rollID, locationID int64, exitAt time.Time) error
}

// Engine 工位流转引擎
type Engine struct {
	rolls     RollStore
	orders    WorkOrderStore
	locations LocationStore
	storage   StorageStore
	jobs      *JobManager
	logger    *zap.Logger
}

// NewEngine 创建流转引擎
func NewEngine(rolls RollStore, orders WorkOrderStore, locations LocationStore, storage StorageStore, jobs *JobManager, logger *zap.Logger) *Engine {
	return &Engine{
		rolls:     rolls,
		orders:    orders,
		locations: locations,
		storage:   storage,
		jobs:      jobs,
		logger:    logger,
	}
}

// Apply 消费一个窗口的解析结论，执行对应工位的流转动作，返回对外发布的工位状态。
// 持久层失败只放弃本窗口的流转（返回错误由上层记日志），下个窗口从头重试。
func (e *Engine) Apply(ctx context.Context, rdr models.Reader, out resolver.Outcome, sessionID string) (status.StationStatus, error) {
	st := status.StationStatus{
		SessionID:  sessionID,
		DeviceAddr: rdr.Address,
		Location:   rdr.LocationName,
	}

	switch out.Kind {
	case resolver.OutcomeNoCore:
		st.Color = status.ColorYellow
		st.Message = fmt.Sprintf("No core for scanning. Please put core on %s for scanning.", rdr.LocationName)
		return st, nil

	case resolver.OutcomeInsufficientTags:
		st.Color = status.ColorOrange
		st.Message = fmt.Sprintf("Core tag set incomplete, %d more tag(s) required.", out.MissingTags)
		return st, nil

	case resolver.OutcomeAmbiguous:
		st.Color = status.ColorRed
		st.Message = "Tags do not identify a single core. Scan it at core station before using it."
		return st, nil
	}

	// OutcomeResolved / OutcomeNewCore
	st.CoreID = out.CoreID

	switch models.ClassifyLocation(rdr.LocationName) {
	case models.LocationCoreStation:
		return e.applyCoreStation(ctx, rdr, out, st)
	case models.LocationProduction:
		return e.applyProduction(ctx, rdr, out, st)
	case models.LocationStorage:
		return e.applyStorage(ctx, rdr, out, st)
	default:
		e.logger.Warn("Reader location has unknown station class",
			zap.String("location", rdr.LocationName),
			zap.String("device", rdr.Address),
		)
		st.Color = status.ColorRed
		st.Message = fmt.Sprintf("Unknown station type for location %s.", rdr.LocationName)
		return st, nil
	}
}

// applyCoreStation 芯站：记录验证位置，不开卷不开单
func (e *Engine) applyCoreStation(ctx context.Context, rdr models.Reader, out resolver.Outcome, st status.StationStatus) (status.StationStatus, error) {
	if err := e.appendLocationIfChanged(ctx, out.CoreID, rdr.LocationID); err != nil {
		return st, err
	}

	st.Color = status.ColorGreen
	if out.Reused {
		st.Message = fmt.Sprintf("Reused core re-registered as core %d and validated at core station.", out.CoreID)
	} else {
		st.Message = fmt.Sprintf("Core %d validated at core station. Good for roll making.", out.CoreID)
	}
	return st, nil
}

// applyProduction 生产工位（挤出/收卷）：首次到达开卷开单，重复观察只查询
func (e *Engine) applyProduction(ctx context.Context, rdr models.Reader, out resolver.Outcome, st status.StationStatus) (status.StationStatus, error) {
	history, err := e.locations.HistoryNames(ctx, out.CoreID)
	if err != nil {
		return st, err
	}

	validated := false
	for _, name := range history {
		if models.ClassifyLocation(name) == models.LocationCoreStation {
			validated = true
			break
		}
	}
	if !validated {
		// 未经芯站验证的料芯直接上了生产工位（包括只有生产工位历史的情况）
		st.Color = status.ColorOrange
		st.Message = "Core is not scanned at core station. Scan it at core station before using it."
		return st, nil
	}

	roll, exists, err := e.rolls.RollByCore(ctx, out.CoreID)
	if err != nil {
		return st, err
	}

	if exists {
		// 稳态重复观察：只查询已有工单，不再创建任何东西
		st.RollID = roll.RollID
		if wo, ok, err := e.orders.WorkOrderByRoll(ctx, roll.RollID); err != nil {
			return st, err
		} else if ok {
			st.WorkOrderNumber = wo.Number
		}
		st.Color = status.ColorGreen
		st.Message = fmt.Sprintf("Roll %d in progress on core %d.", roll.RollID, out.CoreID)
		if err := e.appendLocationIfChanged(ctx, out.CoreID, rdr.LocationID); err != nil {
			return st, err
		}
		return st, nil
	}

	// 首次到达：开卷 + 卷长记录，工单铸发和卷长累计放到后台任务
	now := time.Now()
	rollID, err := e.rolls.CreateRoll(ctx, out.CoreID, now)
	if err != nil {
		return st, err
	}
	if err := e.rolls.InitRollLength(ctx, rollID); err != nil {
		return st, err
	}
	if err := e.appendLocationIfChanged(ctx, out.CoreID, rdr.LocationID); err != nil {
		return st, err
	}

	e.jobs.Start(rdr, out.CoreID, rollID)

	e.logger.Info("Roll started",
		zap.Int64("core_id", out.CoreID),
		zap.Int64("roll_id", rollID),
		zap.String("location", rdr.LocationName),
	)

	st.RollID = rollID
	st.Color = status.ColorGreen
	st.Message = fmt.Sprintf("Core %d scanned at core station. Roll %d started.", out.CoreID, rollID)
	return st, nil
}

// applyStorage 仓储工位：IN 入库、OUT 出库，按 (roll, location) 幂等更新
func (e *Engine) applyStorage(ctx context.Context, rdr models.Reader, out resolver.Outcome, st status.StationStatus) (status.StationStatus, error) {
	roll, exists, err := e.rolls.RollByCore(ctx, out.CoreID)
	if err != nil {
		return st, err
	}
	if !exists {
		st.Color = status.ColorOrange
		st.Message = fmt.Sprintf("Core %d has no roll yet, storage event skipped.", out.CoreID)
		return st, nil
	}
	st.RollID = roll.RollID

	now := time.Now()
	switch models.StorageZoneOf(rdr.LocationName) {
	case models.StorageZoneIn:
		if err := e.storage.RollIn(ctx, roll.RollID, rdr.LocationID, now); err != nil {
			return st, err
		}
		st.Color = status.ColorGreen
		st.Message = fmt.Sprintf("Roll %d checked into storage at %s.", roll.RollID, rdr.LocationName)
	case models.StorageZoneOut:
		if err := e.storage.RollOut(ctx, roll.RollID, rdr.LocationID, now); err != nil {
			return st, err
		}
		st.Color = status.ColorGreen
		st.Message = fmt.Sprintf("Roll %d checked out of storage at %s.", roll.RollID, rdr.LocationName)
	default:
		st.Color = status.ColorGreen
		st.Message = fmt.Sprintf("Roll %d observed at %s.", roll.RollID, rdr.LocationName)
	}

	if err := e.appendLocationIfChanged(ctx, out.CoreID, rdr.LocationID); err != nil {
		return st, err
	}
	return st, nil
}

// appendLocationIfChanged 位置历史只追加；与最近一条相同的重复扫描不写
func (e *Engine) appendLocationIfChanged(ctx context.Context, coreID, locationID int64) error {
	last, ok, err := e.locations.LastLocationID(ctx, coreID)
	if err != nil {
		return err
	}
	if ok && last == locationID {
		return nil
	}
	return e.locations.AppendCoreLocation(ctx, coreID, locationID, time.Now())
}
