// Package gormstore persists the execution audit trail with Gorm + SQLite.
// Writes are best effort: the scheduler logs failures and keeps trading.
package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"carve/internal/execution"
	storemodel "carve/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type executionModel = storemodel.ExecutionModel
type fillModel = storemodel.FillModel

// AuditStore implements execution.AuditSink over a SQLite file.
type AuditStore struct {
	db *gorm.DB
}

func New(path string) (*AuditStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&executionModel{}, &fillModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a couple of connections so HTTP reads don't contend
	// with the scheduler's writes.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &AuditStore{db: db}, nil
}

func (s *AuditStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ execution.AuditSink = (*AuditStore)(nil)

// SaveExecution upserts the parent order row keyed by execution id.
func (s *AuditStore) SaveExecution(ctx context.Context, snap execution.Snapshot) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	details, _ := json.Marshal(map[string]any{
		"remaining_quantity": snap.RemainingQuantity,
	})
	model := executionModel{
		ExecutionID:   snap.ID,
		Algorithm:     snap.Algorithm,
		Symbol:        strings.ToUpper(strings.TrimSpace(snap.Symbol)),
		Side:          snap.Side,
		TotalQty:      snap.TotalQuantity,
		ExecutedQty:   snap.ExecutedQuantity,
		AvgPrice:      snap.AvgExecutionPrice,
		Status:        string(snap.Status),
		StartUnix:     snap.StartTime.UnixMilli(),
		EndUnix:       snap.EndTime.UnixMilli(),
		UpdatedAtUnix: snap.LastUpdate.UnixMilli(),
		Details:       datatypes.JSON(details),
	}
	cols := []string{
		"algorithm", "symbol", "side", "total_qty", "executed_qty",
		"avg_price", "status", "start_ts", "end_ts", "updated_at", "details",
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "execution_id"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).
		Create(&model).Error
}

// SaveFill appends one confirmed child fill.
func (s *AuditStore) SaveFill(ctx context.Context, rec execution.FillRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	model := fillModel{
		ExecutionID:  rec.ExecutionID,
		Symbol:       strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Side:         rec.Side,
		Quantity:     rec.Quantity,
		Price:        rec.Price,
		RealizedPnL:  rec.RealizedPnL,
		FilledAtUnix: rec.FilledAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListExecutions returns the most recent parent orders, newest first.
func (s *AuditStore) ListExecutions(ctx context.Context, limit int) ([]execution.Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []executionModel
	if err := s.db.WithContext(ctx).
		Order("updated_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]execution.Snapshot, 0, len(models))
	for _, m := range models {
		out = append(out, executionModelToSnapshot(m))
	}
	return out, nil
}

// ListFills returns the fills for one execution, oldest first.
func (s *AuditStore) ListFills(ctx context.Context, executionID string, limit int) ([]execution.FillRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var models []fillModel
	if err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("filled_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]execution.FillRecord, 0, len(models))
	for _, m := range models {
		out = append(out, execution.FillRecord{
			ExecutionID: m.ExecutionID,
			Symbol:      m.Symbol,
			Side:        m.Side,
			Quantity:    m.Quantity,
			Price:       m.Price,
			RealizedPnL: m.RealizedPnL,
			FilledAt:    time.UnixMilli(m.FilledAtUnix).UTC(),
		})
	}
	return out, nil
}

func executionModelToSnapshot(m executionModel) execution.Snapshot {
	remaining := m.TotalQty - m.ExecutedQty
	if remaining < 0 {
		remaining = 0
	}
	return execution.Snapshot{
		ID:                m.ExecutionID,
		Algorithm:         m.Algorithm,
		Symbol:            m.Symbol,
		Side:              m.Side,
		TotalQuantity:     m.TotalQty,
		ExecutedQuantity:  m.ExecutedQty,
		RemainingQuantity: remaining,
		AvgExecutionPrice: m.AvgPrice,
		Status:            execution.Status(m.Status),
		StartTime:         time.UnixMilli(m.StartUnix).UTC(),
		EndTime:           time.UnixMilli(m.EndUnix).UTC(),
		LastUpdate:        time.UnixMilli(m.UpdatedAtUnix).UTC(),
	}
}
