package symbol

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := map[string]string{
		"aapl":   "AAPL",
		" msft ": "MSFT",
		"brk.b":  "BRK.B",
		"RDS-A":  "RDS-A",
		"^gspc":  "^GSPC",
		"7203":   "7203",
		"NFLX\n": "NFLX",
	}
	for in, want := range tests {
		got, err := Parse(in)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Parse(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParse_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\t"} {
		if _, err := Parse(in); !errors.Is(err, ErrEmpty) {
			t.Errorf("Parse(%q): expected ErrEmpty, got %v", in, err)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"AA PL",
		"AAPL;DROP",
		"$AAPL",
		"TOOLONGTICKER1",
		".AAPL",
		"ÄPPL",
	}
	for _, in := range tests {
		if _, err := Parse(in); !errors.Is(err, ErrInvalid) {
			t.Errorf("Parse(%q): expected ErrInvalid, got %v", in, err)
		}
	}
}
