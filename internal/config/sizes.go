package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize parses a human byte size like "512MB", "1.5GiB" or "1048576".
// Decimal (KB, MB, GB, TB) and binary (KiB, MiB, GiB, TiB) suffixes are
// accepted, case-insensitively. A bare number is bytes.
func ParseSize(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty size")
	}

	upper := strings.ToUpper(trimmed)
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		factor int64
	}{
		{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30}, {"TIB", 1 << 40},
		{"KB", 1000}, {"MB", 1000 * 1000}, {"GB", 1000 * 1000 * 1000}, {"TB", 1000 * 1000 * 1000 * 1000},
		{"B", 1},
	} {
		if strings.HasSuffix(upper, unit.suffix) {
			multiplier = unit.factor
			upper = strings.TrimSpace(strings.TrimSuffix(upper, unit.suffix))
			break
		}
	}

	value, err := strconv.ParseFloat(upper, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return int64(value * float64(multiplier)), nil
}
