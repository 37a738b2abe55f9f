package bytesize

import (
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0B"},
		{-42, "0B"},
		{1, "1.00 B"},
		{1023, "1023.00 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{2097152, "2.00 MB"},
		{45000000, "42.92 MB"},
		{37500000, "35.76 MB"},
		{1 << 30, "1.00 GB"},
		{1 << 60, "1.00 EB"},
	}

	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatFloat_ClampsToLargestUnit(t *testing.T) {
	got := FormatFloat(math.Pow(1024, 9))
	if got != "1024.00 YB" {
		t.Errorf("got %q, want %q", got, "1024.00 YB")
	}
	if FormatFloat(math.NaN()) != Zero {
		t.Error("NaN should format as 0B")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0B", 0},
		{"1.00 MB", 1048576},
		{"2.00 MB", 2097152},
		{"3.00 MB", 3145728},
		{"1.50 KB", 1536},
		{" 7.00 B ", 7},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"", ErrMalformed},
		{"12", ErrMalformed},
		{"abc MB", ErrMalformed},
		{"-1.00 MB", ErrMalformed},
		{"1.00 XB", ErrUnknownUnit},
		{"1.00 mb", ErrUnknownUnit},
		{"9.00 YB", ErrOverflow},
	}

	for _, tt := range tests {
		_, err := Parse(tt.in)
		if !errors.Is(err, tt.want) {
			t.Errorf("Parse(%q) error = %v, want %v", tt.in, err, tt.want)
		}
	}
}

func TestParseTopOfRange(t *testing.T) {
	for _, b := range []int64{math.MaxInt64, math.MaxInt64 - 1<<50, 1 << 62, 8*1<<60 - 1<<53} {
		s := Format(b)
		parsed, err := Parse(s)
		if err != nil {
			t.Errorf("Parse(Format(%d)) = %q: %v", b, s, err)
			continue
		}
		if diff := math.Abs(float64(parsed) - float64(b)); diff > float64(b)*0.01 {
			t.Errorf("Parse(%q) = %d, want within 1%% of %d", s, parsed, b)
		}
	}

	for _, s := range []string{"8.01 EB", "1.00 ZB", "16.00 EB"} {
		if _, err := Parse(s); !errors.Is(err, ErrOverflow) {
			t.Errorf("Parse(%q) error = %v, want ErrOverflow", s, err)
		}
	}
}

// TestProperty_FormatParseRoundTrip checks that parsing a rendered size
// recovers the original byte count within 1%.
func TestProperty_FormatParseRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("Parse(Format(b)) is within 1% of b", prop.ForAll(
		func(b int64) bool {
			parsed, err := Parse(Format(b))
			if err != nil {
				return false
			}
			diff := math.Abs(float64(parsed) - float64(b))
			return diff <= float64(b)*0.01
		},
		gen.Int64Range(1, math.MaxInt64),
	))

	properties.Property("small sizes round trip exactly", prop.ForAll(
		func(b int64) bool {
			parsed, err := Parse(Format(b))
			return err == nil && parsed == b
		},
		gen.Int64Range(1, 1023),
	))

	properties.TestingRun(t)
}
