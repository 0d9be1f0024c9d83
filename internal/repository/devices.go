package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/LucidAutoProgram/RFID-Program/internal/models"

	"go.uber.org/zap"
)

// DeviceRepository 读写器台账仓库（rfid_device_details 表）
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建读写器仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// ListReaders 加载全部已登记的读写器及其工位
func (r *DeviceRepository) ListReaders(ctx context.Context) ([]models.Reader, error) {
	query := `
		SELECT
			d.rfid_device_id,
			d.device_ip,
			d.device_port,
			d.transport,
			d.baud_rate,
			d.location_id,
			l.location_xyz,
			d.reading_mode
		FROM rfid_device_details d
		JOIN locations l ON l.location_id = d.location_id
		ORDER BY d.device_ip
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query readers: %w", err)
	}
	defer rows.Close()

	var readers []models.Reader
	for rows.Next() {
		var (
			rdr       models.Reader
			transport string
		)
		if err := rows.Scan(
			&rdr.DeviceID,
			&rdr.Address,
			&rdr.Port,
			&transport,
			&rdr.BaudRate,
			&rdr.LocationID,
			&rdr.LocationName,
			&rdr.ReadingMode,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reader row: %w", err)
		}
		rdr.Transport = models.TransportType(transport)
		readers = append(readers, rdr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reader rows: %w", err)
	}

	return readers, nil
}

// SetReadingMode 持久化读取模式开关
func (r *DeviceRepository) SetReadingMode(ctx context.Context, deviceAddr string, on bool) error {
	query := `
		UPDATE rfid_device_details
		SET reading_mode = $1
		WHERE device_ip = $2
	`

	result, err := r.db.ExecContext(ctx, query, on, deviceAddr)
	if err != nil {
		return fmt.Errorf("failed to update reading mode: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("reader not found: %s", deviceAddr)
	}
	return nil
}

// GetReadingMode 查询读取模式开关
func (r *DeviceRepository) GetReadingMode(ctx context.Context, deviceAddr string) (bool, error) {
	query := `
		SELECT reading_mode
		FROM rfid_device_details
		WHERE device_ip = $1
	`

	var on bool
	err := r.db.QueryRowContext(ctx, query, deviceAddr).Scan(&on)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, fmt.Errorf("reader not found: %s", deviceAddr)
		}
		return false, fmt.Errorf("failed to query reading mode: %w", err)
	}
	return on, nil
}
