package nmea

import (
	"math"
	"strconv"
)

// Fix holds the position data decoded from RMC and GGA sentences.
type Fix struct {
	Valid      bool    `json:"valid"`      // RMC status 'A'
	Latitude   float64 `json:"latitude"`   // Decimal degrees
	Longitude  float64 `json:"longitude"`  // Decimal degrees
	SpeedKnots float64 `json:"speedKnots"` // Speed over ground
	Course     float64 `json:"course"`     // Degrees true
	Altitude   float64 `json:"altitude"`   // Meters
	Satellites int     `json:"satellites"` // Sats in use
	FixQuality int     `json:"fixQuality"` // 0=none, 1=GPS, 2=DGPS
	HDOP       float64 `json:"hdop"`
	Time       string  `json:"time"` // UTC hhmmss.ss
	Date       string  `json:"date"` // ddmmyy
}

// Formatter returns the three letter sentence formatter ("RMC") of a '$'
// sentence, or "" when there is none.
func Formatter(line string) string {
	addr := Address(line)
	if len(addr) < 5 || line == "" || line[0] != '$' {
		return ""
	}
	return addr[len(addr)-3:]
}

// ParseRMC updates fix from an RMC sentence. It reports false when the
// sentence has too few fields.
func ParseRMC(line string, fix *Fix) bool {
	// $GPRMC,hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,x.x,x.x,ddmmyy,x.x,a*hh
	parts := Split(line)
	if len(parts) < 10 {
		return false
	}

	fix.Time = parts[1]
	fix.Valid = parts[2] == "A"
	fix.Date = parts[9]

	if fix.Valid {
		fix.Latitude = parseCoord(parts[3], parts[4])
		fix.Longitude = parseCoord(parts[5], parts[6])

		if spd, err := strconv.ParseFloat(parts[7], 64); err == nil {
			fix.SpeedKnots = spd
		}
		if hdg, err := strconv.ParseFloat(parts[8], 64); err == nil {
			fix.Course = hdg
		}
	}
	return true
}

// ParseGGA updates fix from a GGA sentence.
func ParseGGA(line string, fix *Fix) bool {
	// $GPGGA,hhmmss.ss,llll.ll,a,yyyyy.yy,a,x,xx,x.x,x.x,M,x.x,M,x.x,xxxx*hh
	parts := Split(line)
	if len(parts) < 11 {
		return false
	}

	if q, err := strconv.Atoi(parts[6]); err == nil {
		fix.FixQuality = q
	}
	if sats, err := strconv.Atoi(parts[7]); err == nil {
		fix.Satellites = sats
	}
	if hdop, err := strconv.ParseFloat(parts[8], 64); err == nil {
		fix.HDOP = hdop
	}
	if alt, err := strconv.ParseFloat(parts[9], 64); err == nil {
		fix.Altitude = alt
	}
	return true
}

// parseCoord converts NMEA ddmm.mmmm format to decimal degrees.
func parseCoord(raw, dir string) float64 {
	if raw == "" || dir == "" {
		return 0
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	deg := math.Floor(val / 100)
	min := val - deg*100
	result := deg + min/60

	if dir == "S" || dir == "W" {
		result = -result
	}
	return result
}
