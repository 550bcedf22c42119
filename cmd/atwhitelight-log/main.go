// Command atwhitelight-log views and analyzes protocol log files.
//
// Log files are created by running atwhitelightd or
// atwhitelight-commander with the protocol-log flag.
//
// Usage:
//
//	atwhitelight-log <command> [flags] <file.wlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	atwhitelight-log view awl.wlog
//
//	# View only chiller frames
//	atwhitelight-log view --source chiller --category frame awl.wlog
//
//	# Export to JSONL
//	atwhitelight-log export -o awl.jsonl awl.wlog
//
//	# Show statistics
//	atwhitelight-log stats awl.wlog
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/lsst-ts/ts-atwhitelight/pkg/log"
)

const usage = `atwhitelight-log - White Light Source Protocol Log Analyzer

Usage:
  atwhitelight-log <command> [flags] <file.wlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSONL
  stats    Show statistics about the log file

Use "atwhitelight-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "export":
		err = runExport(args)
	case "stats":
		err = runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runView(args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	source := fs.String("source", "", "filter by source (chiller, lamp)")
	layer := fs.String("layer", "", "filter by layer (transport, protocol, device)")
	direction := fs.String("direction", "", "filter by direction (in, out)")
	category := fs.String("category", "", "filter by category (frame, command, state, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := logPath(fs)
	if err != nil {
		return err
	}

	filter, err := buildFilter(*source, *layer, *direction, *category)
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer reader.Close()

	out := os.Stdout
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		formatEvent(out, event)
	}
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	output := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := logPath(fs)
	if err != nil {
		return err
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer reader.Close()

	var out io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	encoder := json.NewEncoder(out)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		if err := encoder.Encode(exportRecord(event)); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := logPath(fs)
	if err != nil {
		return err
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		stats.add(event)
	}
	stats.print(os.Stdout)
	return nil
}

func logPath(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("log file path required")
	}
	return fs.Arg(0), nil
}

func buildFilter(source, layer, direction, category string) (log.Filter, error) {
	var filter log.Filter
	if source != "" {
		parsed, err := parseSource(source)
		if err != nil {
			return filter, err
		}
		filter.Source = &parsed
	}
	if layer != "" {
		parsed, err := parseLayer(layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &parsed
	}
	if direction != "" {
		parsed, err := parseDirection(direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &parsed
	}
	if category != "" {
		parsed, err := parseCategory(category)
		if err != nil {
			return filter, err
		}
		filter.Category = &parsed
	}
	return filter, nil
}

func parseSource(s string) (log.Source, error) {
	switch strings.ToLower(s) {
	case "chiller":
		return log.SourceChiller, nil
	case "lamp":
		return log.SourceLamp, nil
	default:
		return 0, fmt.Errorf("unknown source %q (chiller, lamp)", s)
	}
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "protocol":
		return log.LayerProtocol, nil
	case "device":
		return log.LayerDevice, nil
	default:
		return 0, fmt.Errorf("unknown layer %q (transport, protocol, device)", s)
	}
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	case "none":
		return log.DirectionNone, nil
	default:
		return 0, fmt.Errorf("unknown direction %q (in, out, none)", s)
	}
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "frame":
		return log.CategoryFrame, nil
	case "command":
		return log.CategoryCommand, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("unknown category %q (frame, command, state, error)", s)
	}
}

// formatEvent writes a human-readable representation of the event.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [conn:%s] %-7s %-4s %s\n",
		ts, shortenConnID(event.ConnectionID), event.Source,
		event.Direction, event.Layer)

	switch {
	case event.Frame != nil:
		fmt.Fprintf(w, "  Frame: %q (%d bytes)\n", event.Frame.Data, event.Frame.Size)
	case event.Command != nil:
		fmt.Fprintf(w, "  Command: %s %s\n", event.Command.CommandID, event.Command.Mnemonic)
		if event.Command.Data != "" {
			fmt.Fprintf(w, "  Data: %q\n", event.Command.Data)
		}
		if event.Command.ErrorDigit != "" && event.Command.ErrorDigit != "0" {
			fmt.Fprintf(w, "  ErrorDigit: %s\n", event.Command.ErrorDigit)
		}
	case event.StateChange != nil:
		fmt.Fprintf(w, "  %s: %s -> %s\n", event.StateChange.Entity,
			event.StateChange.OldState, event.StateChange.NewState)
		if event.StateChange.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", event.StateChange.Reason)
		}
	case event.Error != nil:
		fmt.Fprintf(w, "  Error: %s\n", event.Error.Message)
		if event.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", event.Error.Context)
		}
	}
	fmt.Fprintln(w)
}

func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// exportRecord flattens an event for JSONL export, with enum names
// instead of raw values.
func exportRecord(event log.Event) map[string]any {
	record := map[string]any{
		"timestamp": event.Timestamp.UTC(),
		"source":    event.Source.String(),
		"direction": event.Direction.String(),
		"layer":     event.Layer.String(),
		"category":  event.Category.String(),
	}
	if event.ConnectionID != "" {
		record["connection_id"] = event.ConnectionID
	}
	if event.RemoteAddr != "" {
		record["remote_addr"] = event.RemoteAddr
	}
	if event.Frame != nil {
		record["frame"] = string(event.Frame.Data)
		record["size"] = event.Frame.Size
	}
	if event.Command != nil {
		record["command_id"] = event.Command.CommandID
		record["mnemonic"] = event.Command.Mnemonic
		if event.Command.Data != "" {
			record["data"] = event.Command.Data
		}
		if event.Command.ErrorDigit != "" {
			record["error_digit"] = event.Command.ErrorDigit
		}
	}
	if event.StateChange != nil {
		record["entity"] = event.StateChange.Entity
		record["old_state"] = event.StateChange.OldState
		record["new_state"] = event.StateChange.NewState
	}
	if event.Error != nil {
		record["error"] = event.Error.Message
	}
	return record
}

// stats aggregates log file statistics.
type stats struct {
	total       int
	bySource    map[log.Source]int
	byLayer     map[log.Layer]int
	byCategory  map[log.Category]int
	errors      int
	connections map[string]int
	start, end  string
	firstSeen   bool
}

func newStats() *stats {
	return &stats{
		bySource:    make(map[log.Source]int),
		byLayer:     make(map[log.Layer]int),
		byCategory:  make(map[log.Category]int),
		connections: make(map[string]int),
	}
}

func (s *stats) add(event log.Event) {
	s.total++
	s.bySource[event.Source]++
	s.byLayer[event.Layer]++
	s.byCategory[event.Category]++
	if event.Category == log.CategoryError {
		s.errors++
	}
	if event.ConnectionID != "" {
		s.connections[event.ConnectionID]++
	}
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05Z")
	if !s.firstSeen {
		s.start = ts
		s.firstSeen = true
	}
	s.end = ts
}

func (s *stats) print(w io.Writer) {
	fmt.Fprintf(w, "Total events: %d\n", s.total)
	if s.firstSeen {
		fmt.Fprintf(w, "Time range:   %s .. %s\n", s.start, s.end)
	}
	fmt.Fprintf(w, "Errors:       %d\n", s.errors)

	fmt.Fprintln(w, "\nBy source:")
	for _, source := range []log.Source{log.SourceChiller, log.SourceLamp} {
		if count := s.bySource[source]; count > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", source, count)
		}
	}
	fmt.Fprintln(w, "\nBy layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerProtocol, log.LayerDevice} {
		if count := s.byLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", layer, count)
		}
	}
	fmt.Fprintln(w, "\nBy category:")
	for _, category := range []log.Category{
		log.CategoryFrame, log.CategoryCommand, log.CategoryState, log.CategoryError,
	} {
		if count := s.byCategory[category]; count > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", category, count)
		}
	}

	if len(s.connections) > 0 {
		fmt.Fprintf(w, "\nConnections: %d\n", len(s.connections))
		ids := make([]string, 0, len(s.connections))
		for id := range s.connections {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "  %s  %d events\n", shortenConnID(id), s.connections[id])
		}
	}
}
