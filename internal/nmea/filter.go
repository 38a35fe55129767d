package nmea

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilter is wrapped by ValidateFilter for malformed patterns.
var ErrInvalidFilter = errors.New("nmea: invalid filter pattern")

// MatchesFilter reports whether line passes the filter patterns.
//
// Pattern forms:
//
//	^<pattern>  inverted: a match rejects the line
//	$ / !       every sentence with that start delimiter
//	$RMC        formatter of a '$' sentence regardless of talker ($GPRMC, $GNRMC)
//	$GPRMC, !AI prefix of the line
//	GPRMC, RMC  prefix or suffix of the address field
//
// The first matching pattern decides. When nothing matches the line passes
// only if all patterns are inverted. An empty filter passes everything.
func MatchesFilter(line string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	hasPositive := false
	for _, p := range patterns {
		inverted := strings.HasPrefix(p, "^")
		if inverted {
			p = p[1:]
		}
		if p == "" {
			continue
		}
		if !inverted {
			hasPositive = true
		}
		if matchPattern(line, p) {
			return !inverted
		}
	}
	return !hasPositive
}

func matchPattern(line, p string) bool {
	switch p[0] {
	case '$', '!':
		if len(p) == 1 {
			return strings.HasPrefix(line, p)
		}
		if p[0] == '$' && len(p) == 4 && isUpperAlpha(p[1:]) {
			return strings.HasPrefix(line, "$") && len(line) >= 6 && line[3:6] == p[1:]
		}
		return strings.HasPrefix(line, p)
	default:
		addr := Address(line)
		return strings.HasPrefix(addr, p) || strings.HasSuffix(addr, p)
	}
}

func isUpperAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// ValidateFilter rejects empty patterns and a lone inversion marker.
func ValidateFilter(patterns []string) error {
	for i, p := range patterns {
		if strings.TrimPrefix(p, "^") == "" {
			return fmt.Errorf("%w: entry %d is %q", ErrInvalidFilter, i, p)
		}
		if strings.TrimSpace(p) != p {
			return fmt.Errorf("%w: entry %d %q has surrounding spaces", ErrInvalidFilter, i, p)
		}
	}
	return nil
}

// ParseFilter splits a comma separated filter definition such as
// "$RMC,^$GSV,!AIVDM" into patterns. Blank items are dropped.
func ParseFilter(s string) []string {
	var result []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		result = append(result, p)
	}
	return result
}
