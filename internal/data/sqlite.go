package data

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pikki622/hftbacktest/internal/domain"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

// EventRow is one normalized event persisted by the capture pipeline.
// Prices and quantities are stored as int64 micros so replay is exact.
type EventRow struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Kind    int8   `gorm:"not null"`
	Side    int8   `gorm:"not null"`
	ExchTS  int64  `gorm:"not null;index"`
	LocalTS int64
	Price   int64 `gorm:"not null"`
	Qty     int64 `gorm:"not null"`
}

func (EventRow) TableName() string { return "events" }

// SnapshotRow is one entry of the bootstrap snapshot.
type SnapshotRow struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	Side   int8   `gorm:"not null"`
	ExchTS int64  `gorm:"not null"`
	Price  int64  `gorm:"not null"`
	Qty    int64  `gorm:"not null"`
}

func (SnapshotRow) TableName() string { return "snapshot" }

// SQLiteSource reads recorded events and the bootstrap snapshot from a
// SQLite capture database.
type SQLiteSource struct {
	db *gorm.DB
}

// OpenSQLite opens a capture database read-only for replay.
func OpenSQLite(path string) (*SQLiteSource, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open capture db: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

// Migrate creates the capture tables. Used by the capture pipeline and by
// tests that build fixture databases.
func (s *SQLiteSource) Migrate() error {
	return s.db.AutoMigrate(&EventRow{}, &SnapshotRow{})
}

// Append writes events in order; exposed for fixture building.
func (s *SQLiteSource) Append(rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.Create(&rows).Error
}

// WriteSnapshot stores the bootstrap snapshot entries.
func (s *SQLiteSource) WriteSnapshot(rows []SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.Create(&rows).Error
}

// Snapshot loads the bootstrap snapshot. The snapshot timestamp is the
// maximum exch_ts across entries.
func (s *SQLiteSource) Snapshot() (domain.Snapshot, error) {
	var rows []SnapshotRow
	if err := s.db.Order("id").Find(&rows).Error; err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.Snapshot
	for _, r := range rows {
		if quant.Timestamp(r.ExchTS) > snap.Timestamp {
			snap.Timestamp = quant.Timestamp(r.ExchTS)
		}
		snap.Entries = append(snap.Entries, domain.SnapshotEntry{
			Side:  domain.Side(r.Side),
			Price: quant.Price(r.Price),
			Qty:   quant.Qty(r.Qty),
		})
	}
	return snap, nil
}

// Events returns a lazy reader over the event table in insertion order.
func (s *SQLiteSource) Events() Reader {
	return &sqliteReader{db: s.db, batch: 4096}
}

// Close releases the underlying connection pool.
func (s *SQLiteSource) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// sqliteReader streams the event table in fixed-size batches, keeping only
// one batch in memory at a time.
type sqliteReader struct {
	db     *gorm.DB
	batch  int
	buf    []EventRow
	pos    int
	lastID uint64
	seq    uint64
	done   bool
}

func (r *sqliteReader) Next() (domain.MarketEvent, error) {
	if r.pos >= len(r.buf) {
		if r.done {
			return domain.MarketEvent{}, domain.ErrExhausted
		}
		r.buf = r.buf[:0]
		err := r.db.Where("id > ?", r.lastID).Order("id").Limit(r.batch).Find(&r.buf).Error
		if err != nil {
			return domain.MarketEvent{}, &domain.ProtocolError{Op: "sqlite", Reason: "read events", Err: err}
		}
		r.pos = 0
		if len(r.buf) < r.batch {
			r.done = true
		}
		if len(r.buf) == 0 {
			return domain.MarketEvent{}, domain.ErrExhausted
		}
		r.lastID = r.buf[len(r.buf)-1].ID
	}

	row := r.buf[r.pos]
	r.pos++
	r.seq++
	return domain.MarketEvent{
		Kind:    domain.EventKind(row.Kind),
		Side:    domain.Side(row.Side),
		Price:   quant.Price(row.Price),
		Qty:     quant.Qty(row.Qty),
		ExchTS:  quant.Timestamp(row.ExchTS),
		LocalTS: quant.Timestamp(row.LocalTS),
		Seq:     r.seq,
	}, nil
}

func (r *sqliteReader) Close() error {
	r.buf = nil
	r.done = true
	return nil
}
