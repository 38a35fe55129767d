package connection

import (
	"fmt"
	"time"

	"github.com/shaunagostinho/nmeahub/internal/nmea"
)

// Properties describe filtering and timing of one connection. An engine
// keeps its own copy, so changing a Properties value after New has no
// effect on a running engine.
type Properties struct {
	SourceName string `yaml:"source_name" json:"sourceName"`

	ReadData  bool `yaml:"read_data" json:"readData"`
	WriteData bool `yaml:"write_data" json:"writeData"`

	ReadFilter  []string `yaml:"read_filter" json:"readFilter"`
	WriteFilter []string `yaml:"write_filter" json:"writeFilter"`
	// Blacklist names queue sources that are never written to this
	// connection, typically its own SourceName to stop echoing.
	Blacklist []string `yaml:"blacklist" json:"blacklist"`

	// CloseOnReadTimeout, ConnectTimeout and WriteTimeout are applied by
	// the transport, not by the engine.
	CloseOnReadTimeout bool `yaml:"close_on_read_timeout" json:"closeOnReadTimeout"`
	NoDataTime         int  `yaml:"no_data_time" json:"noDataTime"` // seconds
	ConnectTimeout     int  `yaml:"connect_timeout" json:"connectTimeout"`
	WriteTimeout       int  `yaml:"write_timeout" json:"writeTimeout"`
}

// DefaultProperties returns read-only properties with no filters.
func DefaultProperties(sourceName string) Properties {
	return Properties{
		SourceName: sourceName,
		ReadData:   true,
	}
}

// maxNoDataTime caps the liveness window (ten years) so that adding it to a
// unix nanosecond timestamp cannot overflow.
const maxNoDataTime = 10 * 365 * 24 * 60 * 60

// NoDataWindow returns NoDataTime as a duration, capped at ten years.
func (p Properties) NoDataWindow() time.Duration {
	n := p.NoDataTime
	if n > maxNoDataTime {
		n = maxNoDataTime
	}
	return time.Duration(n) * time.Second
}

// Validate checks the filter definitions and the liveness window.
func (p Properties) Validate() error {
	if p.NoDataTime < 0 {
		return fmt.Errorf("no_data_time must not be negative, got %d", p.NoDataTime)
	}
	if err := nmea.ValidateFilter(p.ReadFilter); err != nil {
		return fmt.Errorf("read filter: %w", err)
	}
	if err := nmea.ValidateFilter(p.WriteFilter); err != nil {
		return fmt.Errorf("write filter: %w", err)
	}
	return nil
}

func (p Properties) clone() Properties {
	c := p
	c.ReadFilter = append([]string(nil), p.ReadFilter...)
	c.WriteFilter = append([]string(nil), p.WriteFilter...)
	c.Blacklist = append([]string(nil), p.Blacklist...)
	return c
}
