// Package version provides protocol version parsing and comparison.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Protocol is the protocol version implemented by this module.
const Protocol = "1.0"

// Build identifies the binary. It is set with -ldflags at release time.
var Build = "dev"

// Version is a parsed "major.minor" protocol version.
type Version struct {
	Major uint16
	Minor uint16
}

// Current returns the parsed Protocol version.
func Current() Version {
	v, _ := Parse(Protocol)
	return v
}

// Parse parses a "major.minor" version string.
func Parse(s string) (Version, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok || major == "" || minor == "" {
		return Version{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	ma, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	mi, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return Version{Major: uint16(ma), Minor: uint16(mi)}, nil
}

// String returns the version as "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v Version) Compatible(other Version) bool {
	return v.Major == other.Major
}

// Less orders versions by major, then minor.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

// CompatibleString parses s and checks it against the current version.
func CompatibleString(s string) bool {
	v, err := Parse(s)
	if err != nil {
		return false
	}
	return Current().Compatible(v)
}

// String returns the build and protocol versions for -version output.
func String() string {
	return fmt.Sprintf("%s (protocol %s)", Build, Protocol)
}
