// Command lrlog views and analyzes protocol log files.
//
// Protocol logs are written by lrdevice and lrgateway when log.protocol
// is set in their configuration.
//
// Usage:
//
//	lrlog <command> [flags] <file.lrlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSON lines or CSV
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View rejected frames only
//	lrlog view -category security device.lrlog
//
//	# Everything exchanged with one device
//	lrlog filter -remote 0x00000100 -o dev100.lrlog gateway.lrlog
//
//	# Export to CSV
//	lrlog export -format csv gateway.lrlog
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lrmgmt/lrmgmt-go/cmd/lrlog/commands"
	"github.com/lrmgmt/lrmgmt-go/pkg/log"
)

const usage = `lrlog - Protocol Log Analyzer

Usage:
  lrlog <command> [flags] <file.lrlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSON lines or CSV
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "lrlog <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "export":
		err = runExport(args)
	case "filter":
		err = runFilter(args)
	case "stats":
		err = runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// filterFlags are the event selection flags of view and filter.
type filterFlags struct {
	session, remote, serial    string
	layer, direction, category string
	timeStart, timeEnd         string
}

func (f *filterFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.session, "session", "", "Filter by session ID")
	fs.StringVar(&f.remote, "remote", "", "Filter by peer address, e.g. 0x00000100")
	fs.StringVar(&f.serial, "serial", "", "Filter by device serial (hex)")
	fs.StringVar(&f.layer, "layer", "", "Filter by layer (link, wire, service)")
	fs.StringVar(&f.direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&f.category, "category", "", "Filter by category (message, security, state, error)")
	fs.StringVar(&f.timeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&f.timeEnd, "time-end", "", "Filter by end time (RFC3339)")
}

func (f *filterFlags) build() (log.Filter, error) {
	filter := log.Filter{
		SessionID:    f.session,
		Remote:       f.remote,
		DeviceSerial: f.serial,
	}
	if f.layer != "" {
		l, err := commands.ParseLayer(f.layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if f.direction != "" {
		d, err := commands.ParseDirection(f.direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if f.category != "" {
		c, err := commands.ParseCategory(f.category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	if f.timeStart != "" {
		t, err := time.Parse(time.RFC3339, f.timeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start: %w", err)
		}
		filter.TimeStart = &t
	}
	if f.timeEnd != "" {
		t, err := time.Parse(time.RFC3339, f.timeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end: %w", err)
		}
		filter.TimeEnd = &t
	}
	return filter, nil
}

func newFlagSet(name, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "lrlog %s - %s\n\nUsage:\n  lrlog %s [flags] <file.lrlog>\n\nFlags:\n", name, synopsis, name)
		fs.PrintDefaults()
	}
	return fs
}

func logPath(fs *flag.FlagSet) (string, error) {
	if fs.NArg() < 1 {
		fs.Usage()
		return "", fmt.Errorf("log file path required")
	}
	return fs.Arg(0), nil
}

func runView(args []string) error {
	fs := newFlagSet("view", "View log file in human-readable format")
	var ff filterFlags
	ff.register(fs)
	_ = fs.Parse(args)

	path, err := logPath(fs)
	if err != nil {
		return err
	}
	filter, err := ff.build()
	if err != nil {
		return err
	}
	return commands.RunView(path, filter, os.Stdout)
}

func runExport(args []string) error {
	fs := newFlagSet("export", "Export log file to JSON lines or CSV")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	_ = fs.Parse(args)

	path, err := logPath(fs)
	if err != nil {
		return err
	}
	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return commands.RunExport(path, *format, w)
}

func runFilter(args []string) error {
	fs := newFlagSet("filter", "Filter log file and write to new file")
	output := fs.String("o", "", "Output file (required)")
	var ff filterFlags
	ff.register(fs)
	_ = fs.Parse(args)

	path, err := logPath(fs)
	if err != nil {
		return err
	}
	if *output == "" {
		fs.Usage()
		return fmt.Errorf("output file (-o) required")
	}
	filter, err := ff.build()
	if err != nil {
		return err
	}
	n, err := commands.RunFilter(path, *output, filter)
	if err != nil {
		return err
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
	return nil
}

func runStats(args []string) error {
	fs := newFlagSet("stats", "Show statistics about the log file")
	_ = fs.Parse(args)

	path, err := logPath(fs)
	if err != nil {
		return err
	}
	return commands.RunStats(path, os.Stdout)
}
