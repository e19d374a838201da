package service

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pikki622/hftbacktest/internal/domain"
	"github.com/pikki622/hftbacktest/internal/engine"
	"github.com/pikki622/hftbacktest/internal/recorder"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fixtureRun records one synthetic run and returns its id and db path.
func fixtureRun(t *testing.T) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	rec, err := recorder.Open(path, "fixture")
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()

	rec.OnFill(engine.Fill{OrderID: 1, Side: domain.SideBuy, Price: 100_000000, Qty: 5_000000, Maker: true, Fee: dec("-0.025"), LocalTS: 150})
	rec.OnFill(engine.Fill{OrderID: 2, Side: domain.SideSell, Price: 100_100000, Qty: 2_000000, Maker: false, Fee: dec("0.14"), LocalTS: 900})

	rec.Sample(1000, dec("1.00"), 5_000000)
	rec.Sample(2000, dec("3.00"), 5_000000) // peak
	rec.Sample(3000, dec("0.50"), 3_000000) // drawdown 2.50
	rec.Sample(4000, dec("1.50"), 3_000000)

	if err := rec.Finish(3_000000, dec("-300.115"), dec("0.115")); err != nil {
		t.Fatal(err)
	}
	return rec.RunID(), path
}

func TestSummarize(t *testing.T) {
	runID, path := fixtureRun(t)
	svc, err := NewReportService(path)
	if err != nil {
		t.Fatalf("NewReportService: %v", err)
	}
	defer svc.Close()

	report, err := svc.Summarize(runID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if report.Fills != 2 || report.MakerFills != 1 {
		t.Errorf("fills = %d maker = %d, want 2/1", report.Fills, report.MakerFills)
	}
	if !report.Volume.Equal(dec("7")) {
		t.Errorf("volume = %s, want 7", report.Volume)
	}
	if !report.FeeTotal.Equal(dec("0.115")) {
		t.Errorf("fee total = %s, want 0.115", report.FeeTotal)
	}
	if !report.FinalPosition.Equal(dec("3")) {
		t.Errorf("final position = %s, want 3", report.FinalPosition)
	}
	if !report.FinalBalance.Equal(dec("-300.115")) {
		t.Errorf("final balance = %s", report.FinalBalance)
	}
	if !report.PeakEquity.Equal(dec("3")) || !report.FinalEquity.Equal(dec("1.5")) {
		t.Errorf("equity peak = %s final = %s", report.PeakEquity, report.FinalEquity)
	}
	if !report.MaxDrawdown.Equal(dec("2.5")) {
		t.Errorf("max drawdown = %s, want 2.5", report.MaxDrawdown)
	}
}

func TestRunsNewestFirst(t *testing.T) {
	_, path := fixtureRun(t)
	svc, err := NewReportService(path)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	runs, err := svc.Runs()
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Config != "fixture" {
		t.Errorf("config echo = %q", runs[0].Config)
	}
}

func TestSummarizeUnknownRun(t *testing.T) {
	_, path := fixtureRun(t)
	svc, err := NewReportService(path)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	if _, err := svc.Summarize("no-such-run"); err == nil {
		t.Fatal("expected error for unknown run id")
	}
}
