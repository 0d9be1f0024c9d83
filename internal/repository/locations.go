package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LocationRepository 料芯位置历史仓库（material_roll_location 表）。
// 历史只追加；"当前位置"永远取最后追加的一条。
type LocationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLocationRepository 创建位置历史仓库
func NewLocationRepository(db *sql.DB, logger *zap.Logger) *LocationRepository {
	return &LocationRepository{
		db:     db,
		logger: logger,
	}
}

// LastLocationID 料芯最近一次记录的工位ID
func (r *LocationRepository) LastLocationID(ctx context.Context, coreID int64) (int64, bool, error) {
	query := `
		SELECT location_id
		FROM material_roll_location
		WHERE material_core_id = $1
		ORDER BY id DESC
		LIMIT 1
	`

	var locationID int64
	err := r.db.QueryRowContext(ctx, query, coreID).Scan(&locationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to query last location id: %w", err)
	}
	return locationID, true, nil
}

// AppendCoreLocation 追加一条位置历史
func (r *LocationRepository) AppendCoreLocation(ctx context.Context, coreID, locationID int64, at time.Time) error {
	query := `
		INSERT INTO material_roll_location (material_core_id, location_id, recorded_at)
		VALUES ($1, $2, $3)
	`

	if _, err := r.db.ExecContext(ctx, query, coreID, locationID, at); err != nil {
		return fmt.Errorf("failed to append core location: %w", err)
	}
	return nil
}

// HistoryNames 料芯走过的位置名称，按追加顺序
func (r *LocationRepository) HistoryNames(ctx context.Context, coreID int64) ([]string, error) {
	query := `
		SELECT l.location_xyz
		FROM material_roll_location mrl
		JOIN locations l ON l.location_id = mrl.location_id
		WHERE mrl.material_core_id = $1
		ORDER BY mrl.id
	`

	rows, err := r.db.QueryContext(ctx, query, coreID)
	if err != nil {
		return nil, fmt.Errorf("failed to query location history: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan location row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
