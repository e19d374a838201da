// Package data loads normalized, pre-recorded market data: lazy event-log
// readers and full-depth snapshot loaders. Raw exchange capture formats are
// converted to these normalized forms upstream.
package data

import "github.com/pikki622/hftbacktest/internal/domain"

// Reader produces a finite, time-ordered sequence of normalized events.
// Next returns domain.ErrExhausted after the last event; a reader is not
// restartable mid-stream.
type Reader interface {
	Next() (domain.MarketEvent, error)
	Close() error
}

// multiReader chains readers back to back; exhaustion of one source moves
// on to the next.
type multiReader struct {
	readers []Reader
	idx     int
	seq     uint64
}

// Chain concatenates readers into one sequence with a single global
// sequence numbering.
func Chain(readers ...Reader) Reader {
	return &multiReader{readers: readers}
}

func (m *multiReader) Next() (domain.MarketEvent, error) {
	for m.idx < len(m.readers) {
		ev, err := m.readers[m.idx].Next()
		if err == domain.ErrExhausted {
			m.idx++
			continue
		}
		if err != nil {
			return domain.MarketEvent{}, err
		}
		m.seq++
		ev.Seq = m.seq
		return ev, nil
	}
	return domain.MarketEvent{}, domain.ErrExhausted
}

func (m *multiReader) Close() error {
	var first error
	for _, r := range m.readers {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// sliceReader replays an in-memory event slice; used by tests and by
// sources that load eagerly.
type sliceReader struct {
	events []domain.MarketEvent
	pos    int
}

// FromSlice wraps an in-memory event sequence in a Reader.
func FromSlice(events []domain.MarketEvent) Reader {
	return &sliceReader{events: events}
}

func (s *sliceReader) Next() (domain.MarketEvent, error) {
	if s.pos >= len(s.events) {
		return domain.MarketEvent{}, domain.ErrExhausted
	}
	ev := s.events[s.pos]
	s.pos++
	if ev.Seq == 0 {
		ev.Seq = uint64(s.pos)
	}
	return ev, nil
}

func (s *sliceReader) Close() error { return nil }
