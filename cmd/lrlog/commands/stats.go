package commands

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/log"
)

// Stats aggregates a log file.
type Stats struct {
	TotalEvents int
	ByLayer     map[log.Layer]int
	ByCategory  map[log.Category]int
	ByDirection map[log.Direction]int
	Rejected    map[log.SecurityReason]int
	Retransmits int
	Errors      int
	Start, End  time.Time

	// Remotes counts events per peer address.
	Remotes map[string]int
}

// Collect reads path and aggregates its events.
func Collect(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	s := &Stats{
		ByLayer:     make(map[log.Layer]int),
		ByCategory:  make(map[log.Category]int),
		ByDirection: make(map[log.Direction]int),
		Rejected:    make(map[log.SecurityReason]int),
		Remotes:     make(map[string]int),
	}
	for {
		e, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return s, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		s.TotalEvents++
		s.ByLayer[e.Layer]++
		s.ByCategory[e.Category]++
		s.ByDirection[e.Direction]++
		if e.Remote != "" {
			s.Remotes[e.Remote]++
		}
		if s.Start.IsZero() || e.Timestamp.Before(s.Start) {
			s.Start = e.Timestamp
		}
		if e.Timestamp.After(s.End) {
			s.End = e.Timestamp
		}
		if e.Security != nil {
			s.Rejected[e.Security.Reason]++
		}
		if e.Command != nil && e.Command.Attempt > 1 {
			s.Retransmits++
		}
		if e.Error != nil {
			s.Errors++
		}
	}
}

// RunStats prints the statistics of path.
func RunStats(path string, w io.Writer) error {
	s, err := Collect(path)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "=== Protocol Log Statistics ===")
	fmt.Fprintln(w)
	if s.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n\n", s.End.Sub(s.Start).Round(time.Second))
	}
	fmt.Fprintf(w, "Total Events: %d\n\n", s.TotalEvents)

	fmt.Fprintln(w, "Events by Layer:")
	for _, l := range []log.Layer{log.LayerLink, log.LayerWire, log.LayerService} {
		if n := s.ByLayer[l]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", l.String()+":", n)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, c := range []log.Category{log.CategoryMessage, log.CategorySecurity, log.CategoryState, log.CategoryError} {
		if n := s.ByCategory[c]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", c.String()+":", n)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, d := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if n := s.ByDirection[d]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", d.String()+":", n)
		}
	}

	if len(s.Rejected) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Rejected Frames:")
		for _, r := range []log.SecurityReason{log.SecurityMalformed, log.SecurityReplay, log.SecurityAuth, log.SecurityNoSession} {
			if n := s.Rejected[r]; n > 0 {
				fmt.Fprintf(w, "  %-12s %d\n", r.String()+":", n)
			}
		}
	}
	if s.Retransmits > 0 {
		fmt.Fprintf(w, "\nRetransmissions: %d\n", s.Retransmits)
	}

	if len(s.Remotes) > 0 {
		fmt.Fprintf(w, "\nPeers: %d\n", len(s.Remotes))
		remotes := make([]string, 0, len(s.Remotes))
		for r := range s.Remotes {
			remotes = append(remotes, r)
		}
		slices.Sort(remotes)
		for _, r := range remotes {
			fmt.Fprintf(w, "  %s %d events\n", r, s.Remotes[r])
		}
	}
	if s.Errors > 0 {
		fmt.Fprintf(w, "\nErrors: %d\n", s.Errors)
	}
	return nil
}
