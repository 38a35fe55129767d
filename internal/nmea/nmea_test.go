package nmea

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rmcSentence = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	ggaSentence = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
)

func TestSanitize(t *testing.T) {
	var testCases = []struct {
		name   string
		when   string
		expect string
	}{
		{name: "clean line is untouched", when: rmcSentence, expect: rmcSentence},
		{name: "strips control chars", when: "\x00$GPGGA,1\x07,2\r", expect: "$GPGGA,1,2"},
		{name: "strips high bytes", when: "$GP\xffRMC,\x80A", expect: "$GPRMC,A"},
		{name: "strips DEL", when: "$GP\x7fRMC", expect: "$GPRMC"},
		{name: "empty", when: "", expect: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, Sanitize(tc.when))
		})
	}
}

func TestMatchesFilter(t *testing.T) {
	var testCases = []struct {
		name   string
		line   string
		filter []string
		expect bool
	}{
		{name: "nil filter accepts", line: "$GPGGA,1", filter: nil, expect: true},
		{name: "empty filter accepts", line: "$GPGGA,1", filter: []string{}, expect: true},
		{name: "bare address match", line: rmcSentence, filter: []string{"GPRMC"}, expect: true},
		{name: "bare address mismatch", line: ggaSentence, filter: []string{"GPRMC"}, expect: false},
		{name: "bare formatter suffix", line: "$GNRMC,1", filter: []string{"RMC"}, expect: true},
		{name: "bare talker prefix", line: "$GNRMC,1", filter: []string{"GP"}, expect: false},
		{name: "dollar formatter any talker", line: "$GNRMC,1", filter: []string{"$RMC"}, expect: true},
		{name: "dollar formatter mismatch", line: "$GNGGA,1", filter: []string{"$RMC"}, expect: false},
		{name: "dollar prefix", line: "$GPRMC,1", filter: []string{"$GPRMC"}, expect: true},
		{name: "dollar prefix other talker", line: "$GNRMC,1", filter: []string{"$GPRMC"}, expect: false},
		{name: "dollar alone matches nmea", line: "$IIMWV,1", filter: []string{"$"}, expect: true},
		{name: "dollar alone rejects ais", line: "!AIVDM,1", filter: []string{"$"}, expect: false},
		{name: "ais prefix", line: "!AIVDM,1,1", filter: []string{"!AIVDM"}, expect: true},
		{name: "inverted only rejects match", line: "$GPGSV,1", filter: []string{"^$GSV"}, expect: false},
		{name: "inverted only accepts others", line: "$GPRMC,1", filter: []string{"^$GSV"}, expect: true},
		{name: "first match wins", line: "$GPGSV,1", filter: []string{"^$GSV", "$"}, expect: false},
		{name: "positive then inverted", line: "$GPGSV,1", filter: []string{"$", "^$GSV"}, expect: true},
		{name: "no match with positive rejects", line: "$GPGSV,1", filter: []string{"^$RMC", "!"}, expect: false},
		{name: "empty patterns are skipped", line: "$GPRMC,1", filter: []string{"", "^"}, expect: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, MatchesFilter(tc.line, tc.filter))
		})
	}
}

func TestValidateFilter(t *testing.T) {
	assert.NoError(t, ValidateFilter(nil))
	assert.NoError(t, ValidateFilter([]string{"$RMC", "^!AIVDM"}))
	assert.ErrorIs(t, ValidateFilter([]string{"$RMC", ""}), ErrInvalidFilter)
	assert.ErrorIs(t, ValidateFilter([]string{"^"}), ErrInvalidFilter)
	assert.ErrorIs(t, ValidateFilter([]string{" $RMC"}), ErrInvalidFilter)
}

func TestParseFilter(t *testing.T) {
	assert.Equal(t, []string{"$RMC", "^$GSV", "!AIVDM"}, ParseFilter(" $RMC, ^$GSV,,!AIVDM "))
	assert.Nil(t, ParseFilter(""))
}

func TestChecksum(t *testing.T) {
	assert.True(t, ValidChecksum(rmcSentence))
	assert.True(t, ValidChecksum(ggaSentence))
	assert.False(t, ValidChecksum("$GPRMC,123519,A*00"))
	assert.False(t, ValidChecksum("$GPRMC,123519,A"))
	assert.False(t, ValidChecksum("$GPRMC,123519,A*Z"))

	s := AppendChecksum("$IIMWV,045.0,R,10.5,N,A")
	assert.True(t, ValidChecksum(s))
}

func TestSplitAndAddress(t *testing.T) {
	assert.Equal(t, []string{"GPGGA", "1", "2"}, Split("$GPGGA,1,2*55"))
	assert.Equal(t, "GPRMC", Address(rmcSentence))
	assert.Equal(t, "AIVDM", Address("!AIVDM,1,1,,A,xx,0*00"))
	assert.Equal(t, "RMC", Formatter(rmcSentence))
	assert.Equal(t, "", Formatter("!AIVDM,1"))
	assert.Equal(t, "", Formatter(""))
}

func TestParseRMCAndGGA(t *testing.T) {
	fix := Fix{}

	require.True(t, ParseRMC(rmcSentence, &fix))
	assert.True(t, fix.Valid)
	assert.InDelta(t, 48.1173, fix.Latitude, 0.0001)
	assert.InDelta(t, 11.516666, fix.Longitude, 0.0001)
	assert.Equal(t, 22.4, fix.SpeedKnots)
	assert.Equal(t, 84.4, fix.Course)
	assert.Equal(t, "123519", fix.Time)
	assert.Equal(t, "230394", fix.Date)

	require.True(t, ParseGGA(ggaSentence, &fix))
	assert.Equal(t, 1, fix.FixQuality)
	assert.Equal(t, 8, fix.Satellites)
	assert.Equal(t, 0.9, fix.HDOP)
	assert.Equal(t, 545.4, fix.Altitude)

	assert.False(t, ParseRMC("$GPRMC,1,2", &fix))
	assert.False(t, ParseGGA("$GPGGA,1,2", &fix))
}

func TestParseCoordSouthWest(t *testing.T) {
	assert.InDelta(t, -33.5, parseCoord("3330.000", "S"), 0.0001)
	assert.InDelta(t, -70.25, parseCoord("07015.000", "W"), 0.0001)
	assert.Equal(t, 0.0, parseCoord("", "N"))
	assert.Equal(t, 0.0, parseCoord("abc", "N"))
}
