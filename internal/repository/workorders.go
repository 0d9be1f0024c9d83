package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LucidAutoProgram/RFID-Program/internal/models"

	"go.uber.org/zap"
)

// WorkOrderRepository 工单仓库（work_orders / work_order_assignments 表）
type WorkOrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkOrderRepository 创建工单仓库
func NewWorkOrderRepository(db *sql.DB, logger *zap.Logger) *WorkOrderRepository {
	return &WorkOrderRepository{
		db:     db,
		logger: logger,
	}
}

// WorkOrderByRoll 料卷对应的工单；尚未开单时 ok=false
func (r *WorkOrderRepository) WorkOrderByRoll(ctx context.Context, rollID int64) (*models.WorkOrder, bool, error) {
	query := `
		SELECT work_order_id, work_order_number, roll_id, scheduled_at
		FROM work_orders
		WHERE roll_id = $1
	`

	var wo models.WorkOrder
	err := r.db.QueryRowContext(ctx, query, rollID).Scan(&wo.ID, &wo.Number, &wo.RollID, &wo.ScheduledAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query work order for roll %d: %w", rollID, err)
	}
	return &wo, true, nil
}

// MaxWorkOrderID 当前最大工单ID，无记录时为 0
func (r *WorkOrderRepository) MaxWorkOrderID(ctx context.Context) (int64, error) {
	query := `SELECT COALESCE(MAX(work_order_id), 0) FROM work_orders`

	var maxID int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to query max work order id: %w", err)
	}
	return maxID, nil
}

// CreateWorkOrder 开单
func (r *WorkOrderRepository) CreateWorkOrder(ctx context.Context, id int64, number string, rollID int64, scheduledAt time.Time) error {
	query := `
		INSERT INTO work_orders (work_order_id, work_order_number, roll_id, scheduled_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.db.ExecContext(ctx, query, id, number, rollID, scheduledAt); err != nil {
		return fmt.Errorf("failed to create work order %s: %w", number, err)
	}
	return nil
}

// AssignWorkOrder 把工单绑定到工位。(work_order, location) 只写一次，重复调用无副作用。
func (r *WorkOrderRepository) AssignWorkOrder(ctx context.Context, workOrderID, locationID int64, at time.Time) error {
	query := `
		INSERT INTO work_order_assignments (work_order_id, location_id, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (work_order_id, location_id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, workOrderID, locationID, at); err != nil {
		return fmt.Errorf("failed to assign work order %d to location %d: %w", workOrderID, locationID, err)
	}
	return nil
}
