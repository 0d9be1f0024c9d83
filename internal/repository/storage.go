package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StorageRepository 仓储进出记录仓库（roll_storage 表）
type StorageRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStorageRepository 创建仓储仓库
func NewStorageRepository(db *sql.DB, logger *zap.Logger) *StorageRepository {
	return &StorageRepository{
		db:     db,
		logger: logger,
	}
}

// RollIn 入库：写入/刷新进入时间并清除出库时间
func (r *StorageRepository) RollIn(ctx context.Context, rollID, locationID int64, enterAt time.Time) error {
	query := `
		INSERT INTO roll_storage (roll_id, location_id, enter_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (roll_id, location_id)
		DO UPDATE SET enter_time = EXCLUDED.enter_time, exit_time = NULL
	`

	if _, err := r.db.ExecContext(ctx, query, rollID, locationID, enterAt); err != nil {
		return fmt.Errorf("failed to record roll-in for roll %d: %w", rollID, err)
	}
	return nil
}

// RollOut 出库：写出库时间
func (r *StorageRepository) RollOut(ctx context.Context, rollID, locationID int64, exitAt time.Time) error {
	query := `
		UPDATE roll_storage
		SET exit_time = $3
		WHERE roll_id = $1 AND location_id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, rollID, locationID, exitAt); err != nil {
		return fmt.Errorf("failed to record roll-out for roll %d: %w", rollID, err)
	}
	return nil
}

// InStorage 料卷当前是否在某个库位（已入库未出库）
func (r *StorageRepository) InStorage(ctx context.Context, rollID, locationID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM roll_storage
			WHERE roll_id = $1 AND location_id = $2 AND exit_time IS NULL
		)
	`

	var in bool
	if err := r.db.QueryRowContext(ctx, query, rollID, locationID).Scan(&in); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to query storage state for roll %d: %w", rollID, err)
	}
	return in, nil
}
