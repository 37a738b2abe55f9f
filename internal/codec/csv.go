// Package codec serializes batches to and from delimited text.
package codec

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/sensorsplit/sensorsplit/pkg/types"
)

// WriteCSV writes a header of b.Columns followed by one line per row in
// row order. Missing and nil values are written as empty fields.
func WriteCSV(w io.Writer, b types.Batch) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(b.Columns); err != nil {
		return fmt.Errorf("codec: failed to write header: %w", err)
	}

	line := make([]string, len(b.Columns))
	for i, row := range b.Rows {
		for j, col := range b.Columns {
			s, err := FormatValue(row[col])
			if err != nil {
				return fmt.Errorf("codec: row %d column %q: %w", i, col, err)
			}
			line[j] = s
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("codec: failed to write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a batch written by WriteCSV. Values that parse as numbers
// come back as float64; everything else stays a string.
func ReadCSV(r io.Reader, tenant string) (types.Batch, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return types.Batch{Tenant: tenant}, nil
	}
	if err != nil {
		return types.Batch{}, fmt.Errorf("codec: failed to read header: %w", err)
	}

	b := types.Batch{Tenant: tenant, Columns: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.Batch{}, fmt.Errorf("codec: failed to read row %d: %w", len(b.Rows), err)
		}
		row := make(types.Record, len(header))
		for j, col := range header {
			if rec[j] == "" {
				continue
			}
			if f, ok := parseNumber(rec[j]); ok {
				row[col] = f
			} else {
				row[col] = rec[j]
			}
		}
		b.Rows = append(b.Rows, row)
	}
	return b, nil
}

// FormatValue renders a scalar field value.
func FormatValue(v types.Value) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// Float converts a numeric field value to float64.
func Float(v types.Value) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case string:
		return parseNumber(x)
	default:
		return 0, false
	}
}

// parseNumber parses plain finite decimal numbers. Go literal syntax such
// as digit separators ("1_1" would read as 11) is rejected so identifiers
// survive a round trip, and so are "NaN" and "Inf".
func parseNumber(s string) (float64, bool) {
	if strings.ContainsAny(s, "_xXpP") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
