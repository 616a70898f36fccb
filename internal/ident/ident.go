package ident

import (
	"fmt"
	"strconv"
	"strings"
)

// CompareID orders two decimal numeric-string IDs without parsing them.
// Upstream IDs exceed the 53-bit float range, so all ordering goes through
// string comparison: empty sorts lowest, then length (no leading zeros),
// then lexicographic. Returns -1, 0, or 1.
func CompareID(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// MaxID returns the greater of two IDs under CompareID.
func MaxID(a, b string) string {
	if CompareID(a, b) >= 0 {
		return a
	}
	return b
}

// MinID returns the lesser of two IDs under CompareID, preferring a non-empty
// value when one side is absent.
func MinID(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if CompareID(a, b) <= 0 {
		return a
	}
	return b
}

// EqualProfile reports whether two profile snapshots are materially equal.
// Identity fields, counter fields, and fields that are falsy on both sides
// do not count as differences; old only needs to cover new's keys, since the
// upstream trims attributes unpredictably between deliveries.
func EqualProfile(old, new map[string]any) bool {
	return equalObject(old, new)
}

func ignoredKey(k string) bool {
	return k == "id" || k == "id_str" || strings.HasSuffix(k, "_count")
}

func equalObject(old, new map[string]any) bool {
	for k, nv := range new {
		if ignoredKey(k) {
			continue
		}
		ov, ok := old[k]
		if !ok {
			if falsy(nv) {
				continue
			}
			return false
		}
		if !equalValue(ov, nv) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if falsy(a) && falsy(b) {
		return true
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return false
		}
		return equalObject(av, bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalValue(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	if an, ok := toNumber(a); ok {
		if bn, ok2 := toNumber(b); ok2 {
			return an == bn
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// falsy mirrors the loose emptiness test the comparison policy is defined
// against: nil, empty string, zero, and false all mean "not set".
func falsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case int:
		return t == 0
	case int64:
		return t == 0
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
