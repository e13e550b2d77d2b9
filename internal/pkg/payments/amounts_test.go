package payments

import (
	"encoding/json"
	"testing"
)

func TestMinorToMajorString(t *testing.T) {
	cases := []struct {
		minor int64
		want  string
	}{
		{10000, "100.00"},
		{2500, "25.00"},
		{99, "0.99"},
		{5, "0.05"},
		{0, "0.00"},
		{-1250, "-12.50"},
	}
	for _, c := range cases {
		if got := minorToMajorString(c.minor); got != c.want {
			t.Errorf("minorToMajorString(%d) = %q, want %q", c.minor, got, c.want)
		}
	}
}

func TestMajorStringToMinor(t *testing.T) {
	cases := []struct {
		value string
		want  int64
	}{
		{"250.00", 25000},
		{"100", 10000},
		{"0.99", 99},
		{"25.5", 2550},
		{"", 0},
		{"-12.50", -1250},
		{"not-a-number", 0},
	}
	for _, c := range cases {
		if got := majorStringToMinor(c.value); got != c.want {
			t.Errorf("majorStringToMinor(%q) = %d, want %d", c.value, got, c.want)
		}
	}
}

func TestAmountRoundTrip(t *testing.T) {
	for _, minor := range []int64{0, 1, 99, 100, 12345, 10000000} {
		if got := majorStringToMinor(minorToMajorString(minor)); got != minor {
			t.Errorf("round trip of %d returned %d", minor, got)
		}
	}
}

func TestMajorNumberToMinor(t *testing.T) {
	if got := majorNumberToMinor(json.Number("250.00")); got != 25000 {
		t.Errorf("majorNumberToMinor(250.00) = %d, want 25000", got)
	}
	if got := majorNumberToMinor(json.Number("")); got != 0 {
		t.Errorf("majorNumberToMinor(\"\") = %d, want 0", got)
	}
}
