// roll-report 导出料卷生产报表（xlsx）：
//
//	roll-report -o rolls.xlsx
//
// 数据库连接用与追踪服务相同的 DB_* 环境变量。
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	commoncfg "github.com/LucidAutoProgram/RFID-Program/internal/common/config"
	"github.com/LucidAutoProgram/RFID-Program/internal/common/database"

	"github.com/xuri/excelize/v2"
)

var reportHeader = []string{
	"Roll ID",
	"Core ID",
	"Roll Start",
	"Roll End",
	"Length (m)",
	"Turn Count",
	"Work Order",
	"Scheduled At",
	"Last Location",
}

type reportRow struct {
	RollID       int64
	CoreID       int64
	RollStart    time.Time
	RollEnd      sql.NullTime
	Length       sql.NullFloat64
	TurnCount    sql.NullInt64
	WorkOrder    sql.NullString
	ScheduledAt  sql.NullTime
	LastLocation sql.NullString
}

func main() {
	output := flag.String("o", "rolls.xlsx", "output xlsx path")
	flag.Parse()

	dbCfg := commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "rfid_tracking",
		SSLMode:  "disable",
		MaxConns: 5,
		MaxIdle:  1,
	}
	dbCfg.LoadFromEnv("DB")

	db, err := database.NewPostgresDB(&dbCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := queryRolls(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query rolls: %v\n", err)
		os.Exit(1)
	}

	if err := writeReport(*output, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d roll(s) to %s\n", len(rows), *output)
}

func queryRolls(ctx context.Context, db *sql.DB) ([]reportRow, error) {
	query := `
		SELECT r.roll_id, r.material_core_id, r.roll_start, r.roll_end,
		       l.length, l.turn_count,
		       w.work_order_number, w.scheduled_at,
		       (SELECT loc.location_xyz
		          FROM material_roll_location mrl
		          JOIN locations loc ON loc.location_id = mrl.location_id
		         WHERE mrl.material_core_id = r.material_core_id
		         ORDER BY mrl.id DESC LIMIT 1)
		  FROM material_rolls r
		  LEFT JOIN material_roll_length l ON l.roll_id = r.roll_id
		  LEFT JOIN work_orders w ON w.roll_id = r.roll_id
		 ORDER BY r.roll_id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reportRow
	for rows.Next() {
		var row reportRow
		if err := rows.Scan(
			&row.RollID, &row.CoreID, &row.RollStart, &row.RollEnd,
			&row.Length, &row.TurnCount,
			&row.WorkOrder, &row.ScheduledAt,
			&row.LastLocation,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func writeReport(path string, data []reportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Rolls"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range reportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for i, row := range data {
		values := []any{
			row.RollID,
			row.CoreID,
			row.RollStart.Format(time.RFC3339),
			nullTimeString(row.RollEnd),
			nullFloat(row.Length),
			nullInt(row.TurnCount),
			nullString(row.WorkOrder),
			nullTimeString(row.ScheduledAt),
			nullString(row.LastLocation),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func nullTimeString(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.Format(time.RFC3339)
}

func nullString(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

func nullFloat(f sql.NullFloat64) float64 {
	if !f.Valid {
		return 0
	}
	return f.Float64
}

func nullInt(n sql.NullInt64) int64 {
	if !n.Valid {
		return 0
	}
	return n.Int64
}
