package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/lrmgmt/lrmgmt-go/pkg/log"
)

// RunFilter copies the events of path that match filter into output and
// returns how many were copied.
func RunFilter(path, output string, filter log.Filter) (int, error) {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	out, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output log: %w", err)
	}

	count := 0
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = out.Close()
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		out.Log(event)
		count++
	}
	if n := out.Dropped(); n > 0 {
		_ = out.Close()
		return count - n, fmt.Errorf("%d events could not be written", n)
	}
	return count, out.Close()
}
