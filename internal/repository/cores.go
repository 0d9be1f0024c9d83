package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LucidAutoProgram/RFID-Program/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// CoreRepository 标签绑定仓库（material_core_rfid 表）。
// 实现 resolver.Store。绑定记录只追加，解绑通过写结束时间表达。
type CoreRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCoreRepository 创建标签绑定仓库
func NewCoreRepository(db *sql.DB, logger *zap.Logger) *CoreRepository {
	return &CoreRepository{
		db:     db,
		logger: logger,
	}
}

// LatestCoreIDForTag 标签当前归属的料芯（最近一次仍有效的绑定）
func (r *CoreRepository) LatestCoreIDForTag(ctx context.Context, tag string) (int64, bool, error) {
	query := `
		SELECT material_core_id
		FROM material_core_rfid
		WHERE rfid_tag = $1 AND material_core_rfid_end IS NULL
		ORDER BY material_core_rfid_start DESC, id DESC
		LIMIT 1
	`

	var coreID int64
	err := r.db.QueryRowContext(ctx, query, tag).Scan(&coreID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to query core for tag %s: %w", tag, err)
	}
	return coreID, true, nil
}

// MaxCoreID 当前最大料芯ID，无记录时为 0
func (r *CoreRepository) MaxCoreID(ctx context.Context) (int64, error) {
	query := `SELECT COALESCE(MAX(material_core_id), 0) FROM material_core_rfid`

	var maxID int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to query max core id: %w", err)
	}
	return maxID, nil
}

// HasAssociation (tag, coreID) 绑定是否已存在
func (r *CoreRepository) HasAssociation(ctx context.Context, tag string, coreID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM material_core_rfid
			WHERE rfid_tag = $1 AND material_core_id = $2
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, tag, coreID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check association: %w", err)
	}
	return exists, nil
}

// InsertAssociation 新增标签绑定
func (r *CoreRepository) InsertAssociation(ctx context.Context, tag string, coreID int64, start time.Time) error {
	query := `
		INSERT INTO material_core_rfid (rfid_tag, material_core_id, material_core_rfid_start)
		VALUES ($1, $2, $3)
	`

	if _, err := r.db.ExecContext(ctx, query, tag, coreID, start); err != nil {
		return fmt.Errorf("failed to insert association: %w", err)
	}
	return nil
}

// ActiveTagsForCore 料芯当前仍有效的标签
func (r *CoreRepository) ActiveTagsForCore(ctx context.Context, coreID int64) ([]string, error) {
	query := `
		SELECT rfid_tag
		FROM material_core_rfid
		WHERE material_core_id = $1 AND material_core_rfid_end IS NULL
		ORDER BY rfid_tag
	`

	rows, err := r.db.QueryContext(ctx, query, coreID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag row: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// EndAssociation 给仍有效的绑定写逻辑结束时间
func (r *CoreRepository) EndAssociation(ctx context.Context, tag string, coreID int64, end time.Time) error {
	query := `
		UPDATE material_core_rfid
		SET material_core_rfid_end = $1
		WHERE rfid_tag = $2 AND material_core_id = $3 AND material_core_rfid_end IS NULL
	`

	if _, err := r.db.ExecContext(ctx, query, end, tag, coreID); err != nil {
		return fmt.Errorf("failed to end association: %w", err)
	}
	return nil
}

// LastLocationName 料芯最近一次记录的位置名称
func (r *CoreRepository) LastLocationName(ctx context.Context, coreID int64) (string, bool, error) {
	query := `
		SELECT l.location_xyz
		FROM material_roll_location mrl
		JOIN locations l ON l.location_id = mrl.location_id
		WHERE mrl.material_core_id = $1
		ORDER BY mrl.id DESC
		LIMIT 1
	`

	var name string
	err := r.db.QueryRowContext(ctx, query, coreID).Scan(&name)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query last location: %w", err)
	}
	return name, true, nil
}

// AllAssociations 全量绑定记录
func (r *CoreRepository) AllAssociations(ctx context.Context) ([]models.TagAssociation, error) {
	query := `
		SELECT rfid_tag, material_core_id, material_core_rfid_start, material_core_rfid_end, reuse_status
		FROM material_core_rfid
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query associations: %w", err)
	}
	defer rows.Close()

	var assocs []models.TagAssociation
	for rows.Next() {
		var (
			a   models.TagAssociation
			end sql.NullTime
		)
		if err := rows.Scan(&a.Tag, &a.CoreID, &a.Start, &end, &a.Reused); err != nil {
			return nil, fmt.Errorf("failed to scan association row: %w", err)
		}
		if end.Valid {
			t := end.Time
			a.End = &t
		}
		assocs = append(assocs, a)
	}
	return assocs, rows.Err()
}

// SetReuseFlags 批量修正复用标记：列表内置为复用，其余清除。
// 两条幂等UPDATE，重复执行结果不变。
func (r *CoreRepository) SetReuseFlags(ctx context.Context, reusedCoreIDs []int64) error {
	ids := reusedCoreIDs
	if ids == nil {
		ids = []int64{}
	}

	markQuery := `
		UPDATE material_core_rfid
		SET reuse_status = TRUE
		WHERE material_core_id = ANY($1) AND reuse_status = FALSE
	`
	if _, err := r.db.ExecContext(ctx, markQuery, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark reused cores: %w", err)
	}

	clearQuery := `
		UPDATE material_core_rfid
		SET reuse_status = FALSE
		WHERE NOT (material_core_id = ANY($1)) AND reuse_status = TRUE
	`
	if _, err := r.db.ExecContext(ctx, clearQuery, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to clear reuse flags: %w", err)
	}
	return nil
}
