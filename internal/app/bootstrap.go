// Package app wires a configuration into a runnable backtest: data
// sources, latency model, engine, recorder and strategy.
package app

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/pikki622/hftbacktest/internal/config"
	"github.com/pikki622/hftbacktest/internal/data"
	"github.com/pikki622/hftbacktest/internal/domain"
	"github.com/pikki622/hftbacktest/internal/engine"
	"github.com/pikki622/hftbacktest/internal/infra"
	"github.com/pikki622/hftbacktest/internal/latency"
	"github.com/pikki622/hftbacktest/internal/recorder"
	"github.com/pikki622/hftbacktest/internal/service"
	"github.com/pikki622/hftbacktest/internal/strategy"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

// Bootstrap orchestrates the startup sequence and owns the assembled
// components until Run hands control to the strategy.
type Bootstrap struct {
	Config   *config.Config
	Backtest *engine.Backtest
	Recorder *recorder.Recorder
	Strategy strategy.Strategy
	Metrics  *infra.Metrics

	log    *slog.Logger
	reader data.Reader
}

// Initialize loads the configuration and assembles every component.
func Initialize(configPath string) (*Bootstrap, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := infra.NewLogger(cfg.Logging.Level)
	slog.SetDefault(log)
	slog.Info("🚀 Bootstrapping backtest", slog.String("config", configPath))

	b := &Bootstrap{Config: cfg, log: log}

	snapshot, reader, err := openData(cfg)
	if err != nil {
		return nil, err
	}
	b.reader = reader

	params, err := engineParams(cfg)
	if err != nil {
		return nil, err
	}
	bt, err := engine.New(params, snapshot, reader, latencyModel(cfg), log)
	if err != nil {
		return nil, err
	}
	b.Backtest = bt
	b.Metrics = infra.NewMetrics()
	bt.SetMetrics(b.Metrics)
	slog.Info("✅ Engine initialized",
		slog.Int("snapshot_levels", len(snapshot.Entries)),
		slog.String("tick_size", params.TickSize.String()),
		slog.String("lot_size", params.LotSize.String()))

	if cfg.Recorder.Path != "" {
		echo, _ := yaml.Marshal(cfg)
		rec, err := recorder.Open(cfg.Recorder.Path, string(echo))
		if err != nil {
			return nil, err
		}
		b.Recorder = rec
		bt.OnFill(rec.OnFill)
		slog.Info("✅ Run recorder ready", slog.String("run_id", rec.RunID()))
	}

	strat, err := buildStrategy(cfg, b, log)
	if err != nil {
		return nil, err
	}
	b.Strategy = strat

	return b, nil
}

// Run executes the strategy to data exhaustion and stamps the recorder
// with the final account state.
func (b *Bootstrap) Run() error {
	defer b.Close()

	if err := b.Strategy.Run(b.Backtest); err != nil {
		return fmt.Errorf("strategy run: %w", err)
	}

	bt := b.Backtest
	if err := b.Recorder.Finish(bt.Position(), bt.Balance(), bt.Fee()); err != nil {
		slog.Warn("recorder finish failed", slog.Any("error", err))
	}
	stats := b.Metrics.Snapshot()
	slog.Info("✨ Backtest complete",
		slog.Int64("end_ts", int64(bt.LocalTimestamp())),
		slog.String("position", bt.Position().String()),
		slog.String("balance", bt.Balance().String()),
		slog.String("fee", bt.Fee().String()),
		slog.String("equity", bt.Equity().String()),
		slog.Uint64("events_replayed", stats.EventsReplayed),
		slog.Uint64("fills", stats.OrdersFilled),
		slog.Float64("events_per_sec", stats.EventsPerSec))

	b.report()
	return nil
}

// report logs the recorded-run summary when recording was enabled.
func (b *Bootstrap) report() {
	if b.Recorder == nil {
		return
	}
	svc, err := service.NewReportService(b.Config.Recorder.Path)
	if err != nil {
		slog.Warn("report unavailable", slog.Any("error", err))
		return
	}
	defer svc.Close()

	report, err := svc.Summarize(b.Recorder.RunID())
	if err != nil {
		slog.Warn("report unavailable", slog.Any("error", err))
		return
	}
	slog.Info("📊 Run report",
		slog.String("run_id", report.RunID),
		slog.Int64("fills", report.Fills),
		slog.Int64("maker_fills", report.MakerFills),
		slog.String("volume", report.Volume.String()),
		slog.String("fee_total", report.FeeTotal.String()),
		slog.String("final_equity", report.FinalEquity.String()),
		slog.String("max_drawdown", report.MaxDrawdown.String()))
}

// Close releases the data source and the recorder.
func (b *Bootstrap) Close() {
	if b.reader != nil {
		b.reader.Close()
	}
	b.Recorder.Close()
}

// openData builds the bootstrap snapshot and the event reader from
// whichever source the configuration names.
func openData(cfg *config.Config) (domain.Snapshot, data.Reader, error) {
	if cfg.Data.SQLite != "" {
		src, err := data.OpenSQLite(cfg.Data.SQLite)
		if err != nil {
			return domain.Snapshot{}, nil, err
		}
		snap, err := src.Snapshot()
		if err != nil {
			return domain.Snapshot{}, nil, err
		}
		return snap, src.Events(), nil
	}

	var snap domain.Snapshot
	if cfg.Data.Snapshot != "" {
		var err error
		snap, err = data.LoadSnapshotCSV(cfg.Data.Snapshot)
		if err != nil {
			return domain.Snapshot{}, nil, err
		}
	}
	reader, err := data.OpenCSVFiles(cfg.Data.Events...)
	if err != nil {
		return domain.Snapshot{}, nil, err
	}
	return snap, reader, nil
}

func engineParams(cfg *config.Config) (engine.Params, error) {
	params := engine.Params{
		TickSize:    quant.PriceFromDecimal(cfg.Engine.TickSize),
		LotSize:     quant.QtyFromDecimal(cfg.Engine.LotSize),
		MakerFee:    cfg.Engine.MakerFee,
		TakerFee:    cfg.Engine.TakerFee,
		QueueRatio:  cfg.Engine.QueueRatio,
		ExpireAfter: quant.Timestamp(cfg.Engine.ExpireAfterUS),
	}
	switch cfg.Engine.AssetType {
	case "inverse":
		params.AssetType = domain.AssetInverse
	case "linear":
		params.AssetType = domain.AssetLinear
	default:
		return engine.Params{}, fmt.Errorf("unknown asset type %q", cfg.Engine.AssetType)
	}
	switch cfg.Engine.FillPolicy {
	case "cross":
		params.FillPolicy = engine.FillPolicyCross
	case "touch":
		params.FillPolicy = engine.FillPolicyTouch
	default:
		return engine.Params{}, fmt.Errorf("unknown fill policy %q", cfg.Engine.FillPolicy)
	}
	return params, nil
}

func latencyModel(cfg *config.Config) latency.Model {
	if cfg.Latency.Model == "feed" {
		mul, _ := cfg.Latency.Multiplier.Float64()
		return latency.NewFeedDerived(mul, quant.Timestamp(cfg.Latency.FloorUS))
	}
	return latency.Constant{
		Feed:     quant.Timestamp(cfg.Latency.FeedUS),
		Entry:    quant.Timestamp(cfg.Latency.EntryUS),
		Response: quant.Timestamp(cfg.Latency.ResponseUS),
	}
}

func buildStrategy(cfg *config.Config, b *Bootstrap, log *slog.Logger) (strategy.Strategy, error) {
	switch cfg.Strategy.Name {
	case "market_maker":
		mm := strategy.NewMarketMaker(
			quant.PriceFromDecimal(cfg.Strategy.HalfSpread),
			quant.QtyFromDecimal(cfg.Strategy.OrderQty),
			quant.QtyFromDecimal(cfg.Strategy.MaxPosition),
			cfg.Strategy.Skew,
			quant.Timestamp(cfg.Strategy.IntervalUS),
			log,
		)
		if b.Recorder != nil {
			mm.Sample = b.Recorder.Sample
		}
		return mm, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy.Name)
	}
}
