package strategy

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pikki622/hftbacktest/internal/data"
	"github.com/pikki622/hftbacktest/internal/domain"
	"github.com/pikki622/hftbacktest/internal/engine"
	"github.com/pikki622/hftbacktest/internal/latency"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBacktest(t *testing.T, events []domain.MarketEvent) *engine.Backtest {
	t.Helper()
	params := engine.Params{
		TickSize:   100_000, // 0.1
		LotSize:    1_000,   // 0.001
		AssetType:  domain.AssetLinear,
		MakerFee:   decimal.RequireFromString("-0.00005"),
		TakerFee:   decimal.RequireFromString("0.0007"),
		FillPolicy: engine.FillPolicyTouch,
		QueueRatio: decimal.NewFromInt(1),
	}
	snapshot := domain.Snapshot{
		Timestamp: 0,
		Entries: []domain.SnapshotEntry{
			{Side: domain.SideBuy, Price: 100_000000, Qty: 5_000000},
			{Side: domain.SideSell, Price: 100_100000, Qty: 4_000000},
		},
	}
	bt, err := engine.New(params, snapshot, data.FromSlice(events), latency.Constant{Entry: 100}, testLogger())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return bt
}

func depth(local quant.Timestamp) domain.MarketEvent {
	return domain.MarketEvent{Kind: domain.EventDepth, Side: domain.SideBuy, Price: 100_000000, Qty: 5_000000, ExchTS: local - 10, LocalTS: local}
}

func sellPrint(local quant.Timestamp, price quant.Price, qty quant.Qty) domain.MarketEvent {
	return domain.MarketEvent{Kind: domain.EventTrade, Side: domain.SideSell, Price: price, Qty: qty, ExchTS: local - 10, LocalTS: local}
}

func newTestMaker(maxPos quant.Qty, skew decimal.Decimal) *MarketMaker {
	// half-spread 0.05, qty 1, 100ms cycle
	return NewMarketMaker(50_000, 1_000000, maxPos, skew, 100_000, testLogger())
}

func TestMarketMakerQuotesBothSides(t *testing.T) {
	events := []domain.MarketEvent{depth(50_000), depth(150_000), depth(250_000), depth(350_000)}
	bt := newBacktest(t, events)
	mm := newTestMaker(20_000000, decimal.Zero)

	if err := mm.Run(bt); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var haveBid, haveAsk bool
	for _, o := range bt.Orders() {
		if o.TIF != domain.TIFGTX {
			t.Errorf("quote %d not post-only", o.ID)
		}
		switch o.Side {
		case domain.SideBuy:
			haveBid = true
			if o.Price != 100_000000 {
				t.Errorf("bid quote at %s, want 100.0", o.Price)
			}
		case domain.SideSell:
			haveAsk = true
			if o.Price != 100_100000 {
				t.Errorf("ask quote at %s, want 100.1", o.Price)
			}
		}
	}
	if !haveBid || !haveAsk {
		t.Errorf("expected two-sided quotes, bid=%v ask=%v", haveBid, haveAsk)
	}
	if bt.Position() != 0 {
		t.Errorf("position = %d without any prints", bt.Position())
	}
}

func TestMarketMakerRequotesAfterFill(t *testing.T) {
	events := []domain.MarketEvent{
		depth(50_000),
		sellPrint(120_000, 100_000000, 1_000000),
		sellPrint(220_000, 100_000000, 1_000000),
		depth(500_000),
	}
	bt := newBacktest(t, events)
	mm := newTestMaker(20_000000, decimal.Zero)

	var fills int
	bt.OnFill(func(engine.Fill) { fills++ })

	var samples int
	var lastTS quant.Timestamp
	mm.Sample = func(ts quant.Timestamp, _ decimal.Decimal, _ quant.Qty) {
		if ts < lastTS {
			t.Errorf("sample timestamps regressed: %d < %d", ts, lastTS)
		}
		lastTS = ts
		samples++
	}

	if err := mm.Run(bt); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Both prints hit a live bid: the first fills the opening quote, the
	// second fills its replacement.
	if fills != 2 {
		t.Errorf("fills = %d, want 2", fills)
	}
	if bt.Position() != 2_000000 {
		t.Errorf("position = %d, want +2", bt.Position())
	}
	if samples == 0 {
		t.Error("sample hook never invoked")
	}
}

func TestMarketMakerStopsBiddingAtMaxPosition(t *testing.T) {
	events := []domain.MarketEvent{
		depth(50_000),
		sellPrint(120_000, 100_000000, 1_000000),
		sellPrint(220_000, 100_000000, 1_000000),
		depth(500_000),
	}
	bt := newBacktest(t, events)
	mm := newTestMaker(1_000000, decimal.Zero) // max position 1

	if err := mm.Run(bt); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The second print finds no bid: quoting paused at the cap.
	if bt.Position() != 1_000000 {
		t.Errorf("position = %d, want +1", bt.Position())
	}
}

func TestRoundTick(t *testing.T) {
	cases := []struct {
		price quant.Price
		tick  quant.Price
		want  int64
	}{
		{100_000000, 100_000, 1000},
		{100_040000, 100_000, 1000}, // rounds down
		{100_050000, 100_000, 1001}, // rounds half up
		{99_960000, 100_000, 1000},  // rounds up
	}
	for _, c := range cases {
		if got := roundTick(c.price, c.tick); got != c.want {
			t.Errorf("roundTick(%s, %s) = %d, want %d", c.price, c.tick, got, c.want)
		}
	}
}

func TestAlignDown(t *testing.T) {
	if got := alignDown(1_234567, 1_000); got != 1_234000 {
		t.Errorf("alignDown = %d, want 1234000", got)
	}
	if got := alignDown(500, 1_000); got != 0 {
		t.Errorf("alignDown below one lot = %d, want 0", got)
	}
}
