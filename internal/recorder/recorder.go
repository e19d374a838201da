// Package recorder persists per-run results: fills, equity samples and the
// final account state, keyed by a generated run id.
package recorder

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pikki622/hftbacktest/internal/engine"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

// RunRow is the header record of one backtest run.
type RunRow struct {
	ID         string `gorm:"primaryKey"`
	Config     string // config echo for reproducibility
	StartedAt  int64  `gorm:"not null"` // wall clock, unix micros
	FinishedAt int64

	FinalPosition int64
	FinalBalance  string
	FinalFee      string
	FillCount     int64
}

func (RunRow) TableName() string { return "runs" }

// FillRow is one executed fill attributed to a run.
type FillRow struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	RunID   string `gorm:"not null;index"`
	OrderID int64  `gorm:"not null"`
	Side    string `gorm:"not null"`
	Price   int64  `gorm:"not null"` // micros
	Qty     int64  `gorm:"not null"` // micros
	Maker   bool
	Fee     string
	LocalTS int64 `gorm:"not null"`
}

func (FillRow) TableName() string { return "fills" }

// EquityRow is one point of the equity curve, sampled in virtual time.
type EquityRow struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	RunID    string `gorm:"not null;index"`
	LocalTS  int64  `gorm:"not null"`
	Equity   string `gorm:"not null"`
	Position int64
}

func (EquityRow) TableName() string { return "equity" }

// Recorder writes run results to a SQLite database. A nil *Recorder is a
// valid no-op recorder, so callers never need to branch on whether
// recording is enabled.
type Recorder struct {
	db    *gorm.DB
	runID string
	fills int64
}

// Open creates (or appends to) a results database and starts a new run.
// configEcho is stored verbatim with the run header.
func Open(path, configEcho string) (*Recorder, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	if err := db.AutoMigrate(&RunRow{}, &FillRow{}, &EquityRow{}); err != nil {
		return nil, fmt.Errorf("migrate results db: %w", err)
	}

	run := RunRow{
		ID:        uuid.NewString(),
		Config:    configEcho,
		StartedAt: time.Now().UnixMicro(),
	}
	if err := db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &Recorder{db: db, runID: run.ID}, nil
}

// RunID returns the generated run id, empty for a no-op recorder.
func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

// OnFill persists one fill. Suitable as the engine's fill hook.
func (r *Recorder) OnFill(f engine.Fill) {
	if r == nil {
		return
	}
	err := r.db.Create(&FillRow{
		RunID:   r.runID,
		OrderID: f.OrderID,
		Side:    f.Side.String(),
		Price:   int64(f.Price),
		Qty:     int64(f.Qty),
		Maker:   f.Maker,
		Fee:     f.Fee.String(),
		LocalTS: int64(f.LocalTS),
	}).Error
	if err != nil {
		slog.Warn("fill not recorded",
			slog.String("run_id", r.runID),
			slog.Int64("order_id", f.OrderID),
			slog.Any("error", err))
		return
	}
	r.fills++
}

// Sample appends one equity-curve point at the given virtual timestamp.
func (r *Recorder) Sample(ts quant.Timestamp, equity decimal.Decimal, position quant.Qty) {
	if r == nil {
		return
	}
	err := r.db.Create(&EquityRow{
		RunID:    r.runID,
		LocalTS:  int64(ts),
		Equity:   equity.String(),
		Position: int64(position),
	}).Error
	if err != nil {
		slog.Warn("equity sample not recorded",
			slog.String("run_id", r.runID),
			slog.Int64("local_ts", int64(ts)),
			slog.Any("error", err))
	}
}

// Finish stamps the run header with the final account state.
func (r *Recorder) Finish(position quant.Qty, balance, fee decimal.Decimal) error {
	if r == nil {
		return nil
	}
	return r.db.Model(&RunRow{ID: r.runID}).Updates(map[string]any{
		"finished_at":    time.Now().UnixMicro(),
		"final_position": int64(position),
		"final_balance":  balance.String(),
		"final_fee":      fee.String(),
		"fill_count":     r.fills,
	}).Error
}

// Close releases the underlying connection pool.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
