package scale

import (
	"strconv"
	"strings"
	"time"
)

// Sample is one parsed weight reading.
type Sample struct {
	Value float64
	Unit  string
	At    time.Duration
}

// ParseWeight decodes one scale line: optional sign, digits with
// optional decimals, then an optional unit which is stored verbatim
// ("g", "kg", "oz", whatever the scale says). A line whose first
// token is not numeric yields no sample.
func ParseWeight(line string) (val float64, unit string, ok bool) {
	s := strings.TrimSpace(line)
	if s == "" {
		return 0, "", false
	}

	i := 0
	if s[i] == '+' || s[i] == '-' {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0, "", false
	}

	val, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, "", false
	}
	return val, strings.TrimSpace(s[i:]), true
}
