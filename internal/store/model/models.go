// Package model holds the gorm row types for the audit database.
package model

import "gorm.io/datatypes"

// ExecutionModel is one parent order, upserted on every state change.
type ExecutionModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	ExecutionID   string         `gorm:"column:execution_id;uniqueIndex"`
	Algorithm     string         `gorm:"column:algorithm"`
	Symbol        string         `gorm:"column:symbol;index"`
	Side          string         `gorm:"column:side"`
	TotalQty      float64        `gorm:"column:total_qty"`
	ExecutedQty   float64        `gorm:"column:executed_qty"`
	AvgPrice      float64        `gorm:"column:avg_price"`
	Status        string         `gorm:"column:status;index"`
	StartUnix     int64          `gorm:"column:start_ts"`
	EndUnix       int64          `gorm:"column:end_ts"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
	Details       datatypes.JSON `gorm:"column:details;type:TEXT"`
}

func (ExecutionModel) TableName() string { return "executions" }

// FillModel is one confirmed child fill, append-only.
type FillModel struct {
	ID           int64   `gorm:"column:id;primaryKey"`
	ExecutionID  string  `gorm:"column:execution_id;index"`
	Symbol       string  `gorm:"column:symbol;index"`
	Side         string  `gorm:"column:side"`
	Quantity     float64 `gorm:"column:quantity"`
	Price        float64 `gorm:"column:price"`
	RealizedPnL  float64 `gorm:"column:realized_pnl"`
	FilledAtUnix int64   `gorm:"column:filled_at;index"`
}

func (FillModel) TableName() string { return "fills" }
