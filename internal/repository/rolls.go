package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LucidAutoProgram/RFID-Program/internal/models"

	"go.uber.org/zap"
)

// RollRepository 料卷与卷长仓库（material_rolls / material_roll_length 表）
type RollRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRollRepository 创建料卷仓库
func NewRollRepository(db *sql.DB, logger *zap.Logger) *RollRepository {
	return &RollRepository{
		db:     db,
		logger: logger,
	}
}

// RollByCore 料芯对应的料卷；尚未开卷时 ok=false
func (r *RollRepository) RollByCore(ctx context.Context, coreID int64) (*models.MaterialRoll, bool, error) {
	query := `
		SELECT roll_id, material_core_id, roll_start, roll_end
		FROM material_rolls
		WHERE material_core_id = $1
	`

	var (
		roll models.MaterialRoll
		end  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, coreID).Scan(&roll.RollID, &roll.CoreID, &roll.Start, &end)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query roll for core %d: %w", coreID, err)
	}
	if end.Valid {
		t := end.Time
		roll.End = &t
	}
	return &roll, true, nil
}

// CreateRoll 开卷：创建料卷记录。卷ID沿用料芯ID（1:1）。
func (r *RollRepository) CreateRoll(ctx context.Context, coreID int64, start time.Time) (int64, error) {
	query := `
		INSERT INTO material_rolls (roll_id, material_core_id, roll_start)
		VALUES ($1, $1, $2)
	`

	if _, err := r.db.ExecContext(ctx, query, coreID, start); err != nil {
		return 0, fmt.Errorf("failed to create roll for core %d: %w", coreID, err)
	}
	return coreID, nil
}

// InitRollLength 初始化卷长记录（重复调用无副作用）
func (r *RollRepository) InitRollLength(ctx context.Context, rollID int64) error {
	query := `
		INSERT INTO material_roll_length (roll_id, length, turn_count, updated_at)
		VALUES ($1, 0, 0, now())
		ON CONFLICT (roll_id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, rollID); err != nil {
		return fmt.Errorf("failed to init roll length for roll %d: %w", rollID, err)
	}
	return nil
}

// AddRollLength 累加卷长和转数
func (r *RollRepository) AddRollLength(ctx context.Context, rollID int64, lengthDelta float64, turnDelta int64) error {
	query := `
		UPDATE material_roll_length
		SET length = length + $2, turn_count = turn_count + $3, updated_at = now()
		WHERE roll_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, rollID, lengthDelta, turnDelta); err != nil {
		return fmt.Errorf("failed to add roll length for roll %d: %w", rollID, err)
	}
	return nil
}

// GetRollLength 当前卷长记录
func (r *RollRepository) GetRollLength(ctx context.Context, rollID int64) (*models.RollLength, error) {
	query := `
		SELECT roll_id, length, turn_count, updated_at
		FROM material_roll_length
		WHERE roll_id = $1
	`

	var rl models.RollLength
	err := r.db.QueryRowContext(ctx, query, rollID).Scan(&rl.RollID, &rl.Length, &rl.TurnCount, &rl.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to query roll length for roll %d: %w", rollID, err)
	}
	return &rl, nil
}

// CloseRoll 收卷结束：写卷结束时间（只写一次）
func (r *RollRepository) CloseRoll(ctx context.Context, rollID int64, end time.Time) error {
	query := `
		UPDATE material_rolls
		SET roll_end = $2
		WHERE roll_id = $1 AND roll_end IS NULL
	`

	if _, err := r.db.ExecContext(ctx, query, rollID, end); err != nil {
		return fmt.Errorf("failed to close roll %d: %w", rollID, err)
	}
	return nil
}
