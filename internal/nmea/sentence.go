// Package nmea holds the NMEA 0183 text helpers used on the forwarding path
// (sanitizing and filtering) and the small decoders used for position
// tracking.
package nmea

import (
	"fmt"
	"strconv"
	"strings"
)

// Sanitize removes every byte outside printable ASCII (0x20..0x7E).
func Sanitize(line string) string {
	clean := true
	for i := 0; i < len(line); i++ {
		if line[i] < 0x20 || line[i] > 0x7e {
			clean = false
			break
		}
	}
	if clean {
		return line
	}

	var b strings.Builder
	b.Grow(len(line))
	for i := 0; i < len(line); i++ {
		if c := line[i]; c >= 0x20 && c <= 0x7e {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Checksum returns the XOR of all bytes between the start delimiter and '*'
// (or the end of the sentence).
func Checksum(line string) byte {
	body := line
	if strings.HasPrefix(body, "$") || strings.HasPrefix(body, "!") {
		body = body[1:]
	}
	if idx := strings.IndexByte(body, '*'); idx >= 0 {
		body = body[:idx]
	}
	var calc byte
	for i := 0; i < len(body); i++ {
		calc ^= body[i]
	}
	return calc
}

// ValidChecksum checks the two hex digits after '*'.
func ValidChecksum(line string) bool {
	idx := strings.IndexByte(line, '*')
	if idx < 0 || idx+3 > len(line) {
		return false
	}
	expected, err := strconv.ParseUint(line[idx+1:idx+3], 16, 8)
	if err != nil {
		return false
	}
	return byte(expected) == Checksum(line)
}

// AppendChecksum returns body with "*hh" appended.
func AppendChecksum(body string) string {
	return fmt.Sprintf("%s*%02X", body, Checksum(body))
}

// Split splits a sentence into its fields and strips the start delimiter and
// the checksum suffix.
func Split(line string) []string {
	if idx := strings.IndexByte(line, '*'); idx >= 0 {
		line = line[:idx]
	}
	if strings.HasPrefix(line, "$") || strings.HasPrefix(line, "!") {
		line = line[1:]
	}
	return strings.Split(line, ",")
}

// Address returns the address field of a sentence (talker id + formatter,
// e.g. "GPRMC") without the start delimiter.
func Address(line string) string {
	if strings.HasPrefix(line, "$") || strings.HasPrefix(line, "!") {
		line = line[1:]
	}
	if idx := strings.IndexAny(line, ",*"); idx >= 0 {
		line = line[:idx]
	}
	return line
}
