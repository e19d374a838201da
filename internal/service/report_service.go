// Package service provides the read side over recorded runs: summary
// statistics for finished backtests.
package service

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pikki622/hftbacktest/internal/recorder"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

// RunReport summarizes one recorded run.
type RunReport struct {
	RunID      string
	Fills      int64
	MakerFills int64
	// Volume is the total executed base quantity across fills.
	Volume decimal.Decimal
	// FeeTotal is the sum of per-fill fees; negative means net rebates.
	FeeTotal decimal.Decimal

	FinalPosition decimal.Decimal
	FinalBalance  decimal.Decimal

	// Equity curve statistics, from the sampled points.
	FinalEquity decimal.Decimal
	PeakEquity  decimal.Decimal
	MaxDrawdown decimal.Decimal
}

// ReportService reads a results database written by the recorder.
type ReportService struct {
	db *gorm.DB
}

// NewReportService opens a results database for reporting.
func NewReportService(path string) (*ReportService, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	return &ReportService{db: db}, nil
}

// Runs returns all run headers, newest first.
func (s *ReportService) Runs() ([]recorder.RunRow, error) {
	var runs []recorder.RunRow
	if err := s.db.Order("started_at desc").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	return runs, nil
}

// Summarize computes the report for one run.
func (s *ReportService) Summarize(runID string) (*RunReport, error) {
	var run recorder.RunRow
	if err := s.db.First(&run, "id = ?", runID).Error; err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	var fills []recorder.FillRow
	if err := s.db.Where("run_id = ?", runID).Order("id").Find(&fills).Error; err != nil {
		return nil, fmt.Errorf("load fills: %w", err)
	}

	report := &RunReport{
		RunID:         runID,
		Fills:         int64(len(fills)),
		Volume:        decimal.Zero,
		FeeTotal:      decimal.Zero,
		FinalPosition: quant.Qty(run.FinalPosition).Decimal(),
	}
	if run.FinalBalance != "" {
		balance, err := decimal.NewFromString(run.FinalBalance)
		if err != nil {
			return nil, fmt.Errorf("run %s: bad final balance %q", runID, run.FinalBalance)
		}
		report.FinalBalance = balance
	}

	for _, f := range fills {
		if f.Maker {
			report.MakerFills++
		}
		report.Volume = report.Volume.Add(quant.Qty(f.Qty).Decimal())
		fee, err := decimal.NewFromString(f.Fee)
		if err != nil {
			return nil, fmt.Errorf("fill %d: bad fee %q", f.ID, f.Fee)
		}
		report.FeeTotal = report.FeeTotal.Add(fee)
	}

	if err := s.equityStats(runID, report); err != nil {
		return nil, err
	}
	return report, nil
}

// equityStats walks the sampled equity curve and fills in peak, final and
// maximum drawdown.
func (s *ReportService) equityStats(runID string, report *RunReport) error {
	var rows []recorder.EquityRow
	if err := s.db.Where("run_id = ?", runID).Order("id").Find(&rows).Error; err != nil {
		return fmt.Errorf("load equity: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	peak := decimal.Zero
	maxDD := decimal.Zero
	var last decimal.Decimal
	for i, r := range rows {
		eq, err := decimal.NewFromString(r.Equity)
		if err != nil {
			return fmt.Errorf("equity %d: bad value %q", r.ID, r.Equity)
		}
		if i == 0 || eq.GreaterThan(peak) {
			peak = eq
		}
		if dd := peak.Sub(eq); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
		last = eq
	}

	report.FinalEquity = last
	report.PeakEquity = peak
	report.MaxDrawdown = maxDD
	return nil
}

// Close releases the underlying connection pool.
func (s *ReportService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
