package log

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestEventRoundTrip(t *testing.T) {
	event := Event{
		Timestamp:    time.Now().UTC(),
		ConnectionID: "conn-123",
		Source:       SourceChiller,
		Direction:    DirectionOut,
		Layer:        LayerProtocol,
		Category:     CategoryCommand,
		Command: &CommandEvent{
			CommandID: "01",
			Mnemonic:  "WatchDog",
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if decoded.ConnectionID != event.ConnectionID {
		t.Errorf("ConnectionID: got %q, want %q", decoded.ConnectionID, event.ConnectionID)
	}
	if decoded.Source != SourceChiller {
		t.Errorf("Source: got %v, want %v", decoded.Source, SourceChiller)
	}
	if decoded.Command == nil || decoded.Command.CommandID != "01" {
		t.Errorf("Command did not survive round trip: %+v", decoded.Command)
	}
}

func TestFileLoggerWritesAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wllog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	events := []Event{
		{
			Timestamp: time.Now().UTC(),
			Source:    SourceChiller,
			Direction: DirectionOut,
			Layer:     LayerTransport,
			Category:  CategoryFrame,
			Frame:     &FrameEvent{Size: 16, Data: []byte(".0101WatchDog")},
		},
		{
			Timestamp: time.Now().UTC(),
			Source:    SourceLamp,
			Direction: DirectionNone,
			Layer:     LayerDevice,
			Category:  CategoryState,
			StateChange: &StateChangeEvent{
				Entity:   "lampBasicState",
				OldState: "OFF",
				NewState: "TURNING_ON",
			},
		},
	}
	for _, event := range events {
		logger.Log(event)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	var got []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, event)
	}
	if len(got) != len(events) {
		t.Fatalf("read %d events, want %d", len(got), len(events))
	}
	if got[1].StateChange == nil || got[1].StateChange.NewState != "TURNING_ON" {
		t.Errorf("state change did not survive round trip: %+v", got[1].StateChange)
	}
}

func TestFilteredReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.wllog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		logger.Log(Event{
			Timestamp: time.Now().UTC(),
			Source:    SourceChiller,
			Category:  CategoryFrame,
			Frame:     &FrameEvent{Size: i},
		})
	}
	logger.Log(Event{
		Timestamp: time.Now().UTC(),
		Source:    SourceLamp,
		Category:  CategoryState,
	})
	logger.Close()

	source := SourceLamp
	reader, err := NewFilteredReader(path, Filter{Source: &source})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		_, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		count++
	}
	if count != 1 {
		t.Errorf("filtered read returned %d events, want 1", count)
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "concurrent.wllog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				logger.Log(Event{
					Timestamp: time.Now().UTC(),
					Source:    SourceChiller,
					Category:  CategoryFrame,
				})
			}
		}()
	}
	wg.Wait()
	logger.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("log file missing: %v", err)
	}
}

func TestFileLoggerCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(filepath.Join(dir, "close.wllog"))
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	// Log after close must not panic
	logger.Log(Event{Timestamp: time.Now()})
}

func TestMultiLoggerFanout(t *testing.T) {
	var a, b countingLogger
	multi := NewMultiLogger(&a, &b)
	multi.Log(Event{Timestamp: time.Now()})
	multi.Log(Event{Timestamp: time.Now()})

	if a.count != 2 || b.count != 2 {
		t.Errorf("fanout counts = %d, %d; want 2, 2", a.count, b.count)
	}
}

type countingLogger struct {
	mu    sync.Mutex
	count int
}

func (c *countingLogger) Log(Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(Event{
		Timestamp: time.Now(),
		Source:    SourceLamp,
		Direction: DirectionNone,
		Layer:     LayerDevice,
		Category:  CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   "shutterState",
			OldState: "CLOSED",
			NewState: "OPEN",
		},
	})

	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("shutterState")) {
		t.Errorf("slog output missing entity: %q", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("LAMP")) {
		t.Errorf("slog output missing source: %q", out)
	}
}
