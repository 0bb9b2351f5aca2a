// Package compare decides whether a program's output matches the expected
// output of a test case.
package compare

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Tier names the comparison that accepted (or rejected) an output.
type Tier string

const (
	TierExact    Tier = "exact"
	TierFloat    Tier = "float≈"
	TierJSON     Tier = "json-eq"
	TierMismatch Tier = "mismatch"
)

const relTolerance = 1e-6

// Normalize trims the whole string, then strips trailing spaces, tabs and
// carriage returns from every line.
func Normalize(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	return strings.Join(lines, "\n")
}

// Compare tries exact, float and JSON equality in that order and reports
// the first tier that accepts. It never fails.
func Compare(actual, expected string) (bool, Tier) {
	a, e := Normalize(actual), Normalize(expected)
	if a == e {
		return true, TierExact
	}
	if floatEqual(a, e) {
		return true, TierFloat
	}
	if jsonEqual(a, e) {
		return true, TierJSON
	}
	return false, TierMismatch
}

func floatEqual(a, e string) bool {
	av, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return false
	}
	ev, err := strconv.ParseFloat(e, 64)
	if err != nil {
		return false
	}
	if math.IsNaN(av) || math.IsNaN(ev) || math.IsInf(av, 0) || math.IsInf(ev, 0) {
		return false
	}
	return math.Abs(av-ev) <= relTolerance*math.Max(1, math.Abs(ev))
}

func jsonEqual(a, e string) bool {
	av, ok := decodeJSON(a)
	if !ok {
		return false
	}
	ev, ok := decodeJSON(e)
	if !ok {
		return false
	}
	return reflect.DeepEqual(av, ev)
}

// decodeJSON accepts exactly one JSON value; trailing data is a failure.
func decodeJSON(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if strings.TrimSpace(s[dec.InputOffset():]) != "" {
		return nil, false
	}
	return v, true
}
