package commands

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/lrmgmt/lrmgmt-go/pkg/log"
)

// RunExport writes every event of path to w as JSON lines or CSV.
func RunExport(path, format string, w io.Writer) error {
	var write func(log.Event) error
	var flush func() error

	switch format {
	case "jsonl":
		enc := json.NewEncoder(w)
		write = func(e log.Event) error { return enc.Encode(e) }
		flush = func() error { return nil }
	case "csv":
		cw := csv.NewWriter(w)
		header := []string{"timestamp", "role", "remote", "direction", "layer", "category", "session", "serial", "type", "command", "seq", "status"}
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		write = func(e log.Event) error { return cw.Write(csvRow(e)) }
		flush = func() error {
			cw.Flush()
			return cw.Error()
		}
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return flush()
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := write(event); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
}

func csvRow(e log.Event) []string {
	var command, seq, status string
	if c := e.Command; c != nil {
		command = c.Name()
		seq = strconv.FormatUint(uint64(c.Seq), 10)
		if c.Status != nil {
			status = c.Status.String()
		}
	}
	return []string{
		e.Timestamp.UTC().Format(timeLayout),
		e.LocalRole.String(),
		e.Remote,
		e.Direction.String(),
		e.Layer.String(),
		e.Category.String(),
		e.SessionID,
		e.DeviceSerial,
		eventType(e),
		command,
		seq,
		status,
	}
}
