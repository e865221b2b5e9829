package models

import (
	"testing"

	"pgregory.net/rapid"
)

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in      string
		want    Price
		wantErr bool
	}{
		{in: "45000.12345678", want: 4_500_012_345_678},
		{in: "0.00000001", want: 1},
		{in: "1", want: 100_000_000},
		{in: "0.1", want: 10_000_000},
		{in: "-2.5", want: -250_000_000},
		{in: "+3", want: 300_000_000},
		{in: ".5", want: 50_000_000},
		{in: "45000.123456789", wantErr: true}, // 9 fractional digits
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "-", wantErr: true},
		{in: "1.2.3", wantErr: true},
		{in: "1.+2", wantErr: true}, // embedded sign in the fraction
		{in: "1.-5", wantErr: true},
		{in: "--3", wantErr: true},
		{in: "+-3", wantErr: true},
		{in: "1e5", wantErr: true},
	}

	for _, c := range cases {
		got, err := ParsePrice(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("ParsePrice(%q): expected error, got %v", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParsePrice(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParsePrice(%q)=%d, want %d", c.in, got, c.want)
		}
	}
}

func TestPriceString(t *testing.T) {
	cases := []struct {
		in   Price
		want string
	}{
		{4_500_012_345_678, "45000.12345678"},
		{1, "0.00000001"},
		{100_000_000, "1.00000000"},
		{-250_000_000, "-2.50000000"},
		{0, "0.00000000"},
	}
	for _, c := range cases {
		if got := c.in.String(); got != c.want {
			t.Fatalf("Price(%d).String()=%q, want %q", int64(c.in), got, c.want)
		}
	}
}

func TestProperty_PriceRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Int64Range(-1_000_000_000_000_000, 1_000_000_000_000_000).Draw(t, "scaled")
		p := Price(v)
		back, err := ParsePrice(p.String())
		if err != nil {
			t.Fatalf("ParsePrice(%q): %v", p.String(), err)
		}
		if back != p {
			t.Fatalf("round-trip failed: %d -> %q -> %d", v, p.String(), back)
		}
	})
}
