package data

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pikki622/hftbacktest/internal/domain"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

// CSV event-log layout: header "kind,exch_ts,local_ts,side,price,qty".
// kind is depth|trade|snapshot, timestamps are integer microseconds
// (local_ts may be empty or 0 when the capture has no local clock), price
// and qty are decimal strings. Files ending in .gz are gzip-compressed.

// csvReader streams one event-log file lazily.
type csvReader struct {
	path string
	f    *os.File
	gz   *gzip.Reader
	cr   *csv.Reader
	line int
	seq  uint64
}

// OpenCSV opens a single event-log file.
func OpenCSV(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	r := &csvReader{path: path, f: f}

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open event log %s: %w", path, err)
		}
		r.gz = gz
		src = gz
	}
	r.cr = csv.NewReader(src)
	r.cr.ReuseRecord = true

	// Consume the header row.
	if _, err := r.cr.Read(); err != nil {
		r.Close()
		if err == io.EOF {
			return r, nil // empty file, Next reports exhaustion
		}
		return nil, domain.NewProtocolError("csv", "%s: unreadable header: %v", path, err)
	}
	r.line = 1
	return r, nil
}

// OpenCSVFiles chains several event-log files in the given order.
func OpenCSVFiles(paths ...string) (Reader, error) {
	readers := make([]Reader, 0, len(paths))
	for _, p := range paths {
		r, err := OpenCSV(p)
		if err != nil {
			for _, open := range readers {
				open.Close()
			}
			return nil, err
		}
		readers = append(readers, r)
	}
	return Chain(readers...), nil
}

func (r *csvReader) Next() (domain.MarketEvent, error) {
	if r.cr == nil {
		return domain.MarketEvent{}, domain.ErrExhausted
	}
	rec, err := r.cr.Read()
	if err == io.EOF {
		return domain.MarketEvent{}, domain.ErrExhausted
	}
	if err != nil {
		return domain.MarketEvent{}, domain.NewProtocolError("csv", "%s: %v", r.path, err)
	}
	r.line++
	ev, err := r.parse(rec)
	if err != nil {
		return domain.MarketEvent{}, err
	}
	r.seq++
	ev.Seq = r.seq
	return ev, nil
}

func (r *csvReader) parse(rec []string) (domain.MarketEvent, error) {
	if len(rec) != 6 {
		return domain.MarketEvent{}, r.rowErr("expected 6 columns, got %d", len(rec))
	}

	var ev domain.MarketEvent
	switch rec[0] {
	case "depth":
		ev.Kind = domain.EventDepth
	case "trade":
		ev.Kind = domain.EventTrade
	case "snapshot":
		ev.Kind = domain.EventSnapshot
	default:
		return domain.MarketEvent{}, r.rowErr("unknown kind %q", rec[0])
	}

	exch, err := strconv.ParseInt(rec[1], 10, 64)
	if err != nil {
		return domain.MarketEvent{}, r.rowErr("bad exch_ts %q", rec[1])
	}
	ev.ExchTS = quant.Timestamp(exch)

	if rec[2] != "" {
		local, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			return domain.MarketEvent{}, r.rowErr("bad local_ts %q", rec[2])
		}
		ev.LocalTS = quant.Timestamp(local)
	}

	switch rec[3] {
	case "buy":
		ev.Side = domain.SideBuy
	case "sell":
		ev.Side = domain.SideSell
	default:
		return domain.MarketEvent{}, r.rowErr("unknown side %q", rec[3])
	}

	price, err := decimal.NewFromString(rec[4])
	if err != nil {
		return domain.MarketEvent{}, r.rowErr("bad price %q", rec[4])
	}
	ev.Price = quant.PriceFromDecimal(price)

	qty, err := decimal.NewFromString(rec[5])
	if err != nil {
		return domain.MarketEvent{}, r.rowErr("bad qty %q", rec[5])
	}
	ev.Qty = quant.QtyFromDecimal(qty)

	return ev, nil
}

func (r *csvReader) rowErr(format string, args ...any) error {
	return domain.NewProtocolError("csv", "%s:%d: %s", r.path, r.line, fmt.Sprintf(format, args...))
}

func (r *csvReader) Close() error {
	r.cr = nil
	if r.gz != nil {
		r.gz.Close()
		r.gz = nil
	}
	if r.f != nil {
		err := r.f.Close()
		r.f = nil
		return err
	}
	return nil
}

// LoadSnapshotCSV reads a full-depth snapshot from a CSV file with header
// "exch_ts,side,price,qty". The snapshot timestamp is the maximum exch_ts
// across entries. Files ending in .gz are gzip-compressed.
func LoadSnapshotCSV(path string) (domain.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("open snapshot %s: %w", path, err)
		}
		defer gz.Close()
		src = gz
	}

	cr := csv.NewReader(src)
	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return domain.Snapshot{}, domain.NewProtocolError("snapshot", "%s: empty file", path)
		}
		return domain.Snapshot{}, domain.NewProtocolError("snapshot", "%s: unreadable header: %v", path, err)
	}

	var snap domain.Snapshot
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.Snapshot{}, domain.NewProtocolError("snapshot", "%s: %v", path, err)
		}
		line++
		if len(rec) != 4 {
			return domain.Snapshot{}, domain.NewProtocolError("snapshot", "%s:%d: expected 4 columns, got %d", path, line, len(rec))
		}

		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return domain.Snapshot{}, domain.NewProtocolError("snapshot", "%s:%d: bad exch_ts %q", path, line, rec[0])
		}
		if quant.Timestamp(ts) > snap.Timestamp {
			snap.Timestamp = quant.Timestamp(ts)
		}

		var entry domain.SnapshotEntry
		switch rec[1] {
		case "buy":
			entry.Side = domain.SideBuy
		case "sell":
			entry.Side = domain.SideSell
		default:
			return domain.Snapshot{}, domain.NewProtocolError("snapshot", "%s:%d: unknown side %q", path, line, rec[1])
		}

		price, err := decimal.NewFromString(rec[2])
		if err != nil {
			return domain.Snapshot{}, domain.NewProtocolError("snapshot", "%s:%d: bad price %q", path, line, rec[2])
		}
		entry.Price = quant.PriceFromDecimal(price)

		qty, err := decimal.NewFromString(rec[3])
		if err != nil {
			return domain.Snapshot{}, domain.NewProtocolError("snapshot", "%s:%d: bad qty %q", path, line, rec[3])
		}
		entry.Qty = quant.QtyFromDecimal(qty)

		snap.Entries = append(snap.Entries, entry)
	}
	return snap, nil
}
