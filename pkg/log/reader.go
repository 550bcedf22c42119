package log

import (
	"bufio"
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects a subset of a .wlog file. Zero-valued fields match
// everything for that criterion.
type Filter struct {
	// ConnectionID matches one connection exactly.
	ConnectionID string

	// Source matches events from one device.
	Source *Source

	// Direction, Layer and Category match the corresponding event
	// fields.
	Direction *Direction
	Layer     *Layer
	Category  *Category

	// TimeStart (inclusive) and TimeEnd (exclusive) bound the event
	// timestamps.
	TimeStart *time.Time
	TimeEnd   *time.Time
}

func (f *Filter) matches(event Event) bool {
	switch {
	case f.ConnectionID != "" && event.ConnectionID != f.ConnectionID:
		return false
	case f.Source != nil && event.Source != *f.Source:
		return false
	case f.Direction != nil && event.Direction != *f.Direction:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}

// Reader streams events out of a .wlog file without loading the whole
// file, so multi-day captures can be analyzed incrementally.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens a log file for reading all events.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a log file, yielding only events the filter
// matches.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:    file,
		decoder: NewDecoder(bufio.NewReader(file)),
		filter:  filter,
	}, nil
}

// Next returns the next matching event, or io.EOF after the last one.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.matches(event) {
			return event, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
