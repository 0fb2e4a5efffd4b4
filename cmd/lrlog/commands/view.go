package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/lrmgmt/lrmgmt-go/pkg/log"
)

// RunView prints the events of path that match filter.
func RunView(path string, filter log.Filter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

func formatEvent(w io.Writer, e log.Event) {
	remote := e.Remote
	if remote == "" {
		remote = "-"
	}
	fmt.Fprintf(w, "%s %-7s [%s] %-3s %s %s\n",
		e.Timestamp.UTC().Format(timeLayout), e.LocalRole, remote, e.Direction, e.Layer, eventType(e))
	if e.SessionID != "" {
		fmt.Fprintf(w, "  Session: %s\n", e.SessionID)
	}
	if e.DeviceSerial != "" {
		fmt.Fprintf(w, "  Serial: %s\n", e.DeviceSerial)
	}

	switch {
	case e.Frame != nil:
		fmt.Fprintf(w, "  Size: %d bytes\n", e.Frame.Size)
		if len(e.Frame.Data) > 0 {
			fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(e.Frame.Data))
			if e.Frame.Truncated {
				fmt.Fprint(w, " (truncated)")
			}
			fmt.Fprintln(w)
		}
	case e.Command != nil:
		c := e.Command
		fmt.Fprintf(w, "  Command: %s %s seq=%d\n", c.Name(), c.Opcode, c.Seq)
		if c.Status != nil {
			fmt.Fprintf(w, "  Status: %s\n", c.Status)
		}
		fmt.Fprintf(w, "  Payload: %d bytes secured=%v response_required=%v\n", c.PayloadSize, c.Secured, c.ResponseRequired)
		if c.Attempt > 0 {
			fmt.Fprintf(w, "  Attempt: %d\n", c.Attempt)
		}
	case e.StateChange != nil:
		sc := e.StateChange
		fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
		if sc.OldState != "" {
			fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
		} else {
			fmt.Fprintf(w, "  -> %s\n", sc.NewState)
		}
		if sc.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
		}
	case e.Security != nil:
		fmt.Fprintf(w, "  Rejected: %s\n", e.Security.Reason)
		if e.Security.Detail != "" {
			fmt.Fprintf(w, "  Detail: %s\n", e.Security.Detail)
		}
	case e.Error != nil:
		fmt.Fprintf(w, "  Message: %s\n", e.Error.Message)
		if e.Error.Kind != "" {
			fmt.Fprintf(w, "  Kind: %s\n", e.Error.Kind)
		}
		if e.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", e.Error.Context)
		}
	}
	fmt.Fprintln(w)
}
