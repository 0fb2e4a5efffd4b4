// Package commands implements the lrlog subcommands.
package commands

import (
	"fmt"
	"strings"

	"github.com/lrmgmt/lrmgmt-go/pkg/log"
)

// timeLayout is the timestamp format of view and export output.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// ParseLayer parses a layer name (case-insensitive).
func ParseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "link":
		return log.LayerLink, nil
	case "wire":
		return log.LayerWire, nil
	case "service":
		return log.LayerService, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be link, wire, or service)", s)
	}
}

// ParseDirection parses a direction name (case-insensitive).
func ParseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategory parses a category name (case-insensitive).
func ParseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "security":
		return log.CategorySecurity, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, security, state, or error)", s)
	}
}

// eventType labels the payload an event carries.
func eventType(e log.Event) string {
	switch {
	case e.Frame != nil:
		return "frame"
	case e.Command != nil:
		return "command"
	case e.StateChange != nil:
		return "state"
	case e.Security != nil:
		return "security"
	case e.Error != nil:
		return "error"
	default:
		return "unknown"
	}
}
