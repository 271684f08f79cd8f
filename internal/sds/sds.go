// Package sds resolves SeisComP Data Structure archive paths and parses the
// canonical waveform filenames they are keyed by.
package sds

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrMalformedFilename reports a filename that cannot be mapped to an archive path.
var ErrMalformedFilename = errors.New("malformed filename")

// VersionSeparator splits a versioned incoming filename from its identifier.
const VersionSeparator = "#"

// minFields is the number of dot-separated fields needed to derive a path.
const minFields = 6

// Resolve maps a canonical filename to root/<year>/<net>/<sta>/<cha>.<type>/<filename>.
func Resolve(root, filename string) (string, error) {
	base := filepath.Base(filename)
	parts := strings.Split(base, ".")
	if base == "" || base == "." || len(parts) < minFields {
		return "", fmt.Errorf("%w: %q has %d fields, need at least %d", ErrMalformedFilename, base, len(parts), minFields)
	}
	for _, idx := range []int{0, 1, 3, 4, 5} {
		if parts[idx] == "" {
			return "", fmt.Errorf("%w: %q has an empty path field", ErrMalformedFilename, base)
		}
	}
	return filepath.Join(root, parts[5], parts[0], parts[1], parts[3]+"."+parts[4], base), nil
}

// Name is a parsed canonical filename NET.STA.LOC.CHA.TYPE.YEAR.DOY.
type Name struct {
	Network  string
	Station  string
	Location string
	Channel  string
	Type     string
	Year     string
	Day      string
}

// Parse splits a canonical filename into its seven fields.
func Parse(filename string) (Name, error) {
	base := filepath.Base(filename)
	parts := strings.Split(base, ".")
	if len(parts) != 7 {
		return Name{}, fmt.Errorf("%w: %q has %d fields, want 7", ErrMalformedFilename, base, len(parts))
	}
	return Name{
		Network:  parts[0],
		Station:  parts[1],
		Location: parts[2],
		Channel:  parts[3],
		Type:     parts[4],
		Year:     parts[5],
		Day:      parts[6],
	}, nil
}

// String renders the canonical filename.
func (n Name) String() string {
	return strings.Join([]string{n.Network, n.Station, n.Location, n.Channel, n.Type, n.Year, n.Day}, ".")
}

// BandCode returns the first letter of the channel code.
func (n Name) BandCode() string {
	if n.Channel == "" {
		return ""
	}
	return n.Channel[:1]
}

// Date returns the UTC day the filename covers.
func (n Name) Date() (time.Time, error) {
	day, err := time.Parse("2006.002", n.Year+"."+n.Day)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrMalformedFilename, n.String(), err)
	}
	return day, nil
}

// JulianDay renders the day of year of t zero padded to three digits.
func JulianDay(t time.Time) string {
	return fmt.Sprintf("%03d", t.UTC().YearDay())
}

// IsVersioned reports whether filename carries an embedded identifier suffix.
func IsVersioned(filename string) bool {
	return strings.Contains(filepath.Base(filename), VersionSeparator)
}

// SplitVersioned splits "name#a.b" into "name" and the identifier "a/b".
func SplitVersioned(filename string) (string, string, error) {
	base := filepath.Base(filename)
	name, suffix, ok := strings.Cut(base, VersionSeparator)
	if !ok {
		return base, "", nil
	}
	if name == "" || suffix == "" {
		return "", "", fmt.Errorf("%w: %q has an empty versioned part", ErrMalformedFilename, base)
	}
	return name, strings.ReplaceAll(suffix, ".", "/"), nil
}

// VersionedName joins name and identifier into the "name#a.b" incoming form.
func VersionedName(name, identifier string) string {
	return name + VersionSeparator + strings.ReplaceAll(identifier, "/", ".")
}
