// Package bytesize renders byte counts as binary-unit strings ("2.00 MB")
// and parses them back.
package bytesize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Zero is the rendering of any non-positive byte count.
const Zero = "0B"

// Units is the binary unit ladder, index i meaning 1024^i bytes.
var Units = [...]string{"B", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

var (
	// ErrMalformed is returned when a string is not "<value> <unit>" or "0B".
	ErrMalformed = errors.New("bytesize: malformed size")

	// ErrUnknownUnit is returned for a unit outside Units.
	ErrUnknownUnit = errors.New("bytesize: unknown unit")

	// ErrOverflow is returned when the parsed size does not fit in an int64.
	ErrOverflow = errors.New("bytesize: size overflows int64")
)

// Format renders n using the largest unit whose magnitude does not exceed n,
// rounded to two decimals.
func Format(n int64) string {
	if n <= 0 {
		return Zero
	}
	return FormatFloat(float64(n))
}

// FormatFloat is Format for fractional byte counts such as averages.
func FormatFloat(n float64) string {
	if n <= 0 || math.IsNaN(n) {
		return Zero
	}
	if math.IsInf(n, 1) {
		n = math.MaxFloat64
	}

	// Repeated division is floor(log_1024(n)) without the float error that
	// math.Log shows on exact powers of 1024.
	i := 0
	v := n
	for v >= 1024 && i < len(Units)-1 {
		v /= 1024
		i++
	}

	return fmt.Sprintf("%.2f %s", math.Round(v*100)/100, Units[i])
}

// Parse converts a Format rendering back to bytes.
func Parse(s string) (int64, error) {
	f, err := ParseFloat(s)
	if err != nil {
		return 0, err
	}
	// float64(math.MaxInt64) is 2^63, which is what "8.00 EB" parses to.
	// Format renders the top of the int64 range that way, so that exact
	// value clamps instead of overflowing.
	switch {
	case f > math.MaxInt64:
		return 0, fmt.Errorf("%w: %q", ErrOverflow, s)
	case f == math.MaxInt64:
		return math.MaxInt64, nil
	}
	return int64(f), nil
}

// ParseFloat converts a Format rendering back to a fractional byte count.
func ParseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == Zero {
		return 0, nil
	}

	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || value < 0 || math.IsNaN(value) {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	idx := UnitIndex(fields[1])
	if idx < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, fields[1])
	}

	return value * math.Pow(1024, float64(idx)), nil
}

// UnitIndex returns the position of unit in Units, or -1.
func UnitIndex(unit string) int {
	for i, u := range Units {
		if u == unit {
			return i
		}
	}
	return -1
}
