package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var sizeRegexp = regexp.MustCompile(`^([\d.]+)\s*([A-Za-z]+)$`)

// Decimal units are powers of 1000; IEC units and single letters are powers
// of 1024.
var sizeUnits = map[string]int64{
	"B": 1, "BYTE": 1, "BYTES": 1,
	"KB": 1e3, "MB": 1e6, "GB": 1e9, "TB": 1e12,
	"K": 1 << 10, "KIB": 1 << 10,
	"M": 1 << 20, "MIB": 1 << 20,
	"G": 1 << 30, "GIB": 1 << 30,
	"T": 1 << 40, "TIB": 1 << 40,
}

// ParseSize parses sizes such as "512", "16MiB" or "1.5GB" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative size: %s", s)
		}
		return n, nil
	}

	m := sizeRegexp.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size format: %s (expected format like '512MB' or '16MiB')", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %s", m[1])
	}
	mult, ok := sizeUnits[strings.ToUpper(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown unit: %s", m[2])
	}
	return int64(value * float64(mult)), nil
}

// FormatSize renders bytes with a binary unit.
func FormatSize(n int64) string {
	if n < 0 {
		return "invalid"
	}
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	units := []string{"KB", "MB", "GB", "TB"}
	value := float64(n) / 1024
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%.2f", value), "0"), ".0") + " " + units[i]
}
