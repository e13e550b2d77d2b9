package payments

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Amounts inside the system are always minor units (cents, kobo,
// pesewas). PayPal and Flutterwave speak major decimal units on the wire,
// so their adapters convert at the boundary with these helpers.

// minorToMajorString renders a minor-unit amount as a decimal string:
// 10000 -> "100.00".
func minorToMajorString(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// majorStringToMinor parses a decimal amount string back to minor units:
// "250.00" -> 25000.
func majorStringToMinor(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	parts := strings.SplitN(value, ".", 2)
	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0
	}
	var cents int64
	if len(parts) == 2 {
		frac := parts[1]
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		cents, _ = strconv.ParseInt(frac, 10, 64)
	}
	if whole < 0 || strings.HasPrefix(parts[0], "-") {
		return whole*100 - cents
	}
	return whole*100 + cents
}

// majorNumberToMinor converts a JSON major-unit amount to minor units.
func majorNumberToMinor(n json.Number) int64 {
	return majorStringToMinor(n.String())
}
