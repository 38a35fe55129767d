// Package position follows the sentence queue and keeps the latest GPS fix
// decoded from RMC and GGA sentences, plus the distance travelled since
// start.
package position

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/shaunagostinho/nmeahub/internal/nmea"
	"github.com/shaunagostinho/nmeahub/internal/queue"
)

// fetchTimeout bounds a single wait on the queue so Run notices ctx promptly.
const fetchTimeout = time.Second

// Source is the part of the queue the tracker reads from.
type Source interface {
	Head() int64
	Fetch(ctx context.Context, after int64, timeout time.Duration) (queue.Entry, bool, error)
}

// Position is the latest decoded fix together with where it came from.
type Position struct {
	nmea.Fix
	Source   string    `json:"source"`
	Sequence int64     `json:"seq"`
	Updated  time.Time `json:"updated"`
	TripKm   float64   `json:"tripKm"`
}

// Tracker decodes position sentences from a queue.
type Tracker struct {
	src Source

	mu      sync.Mutex
	pos     Position
	has     bool
	lastLat float64
	lastLon float64
	seeded  bool

	timeNow func() time.Time
}

// New creates a tracker reading from src.
func New(src Source) *Tracker {
	return &Tracker{src: src, timeNow: time.Now}
}

// Run consumes the queue from its current head until ctx is done or the
// queue is closed.
func (t *Tracker) Run(ctx context.Context) error {
	cursor := t.src.Head()
	log.Printf("[position] tracking from sequence %d", cursor)
	for {
		e, ok, err := t.src.Fetch(ctx, cursor, fetchTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			continue
		}
		cursor = e.Sequence
		t.handle(e)
	}
}

// Snapshot returns the latest position; ok is false until the first RMC or
// GGA sentence has been decoded.
func (t *Tracker) Snapshot() (pos Position, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos, t.has
}

// handle decodes a single entry and reports whether it updated the position.
func (t *Tracker) handle(e queue.Entry) bool {
	var parse func(string, *nmea.Fix) bool
	switch nmea.Formatter(e.Data) {
	case "RMC":
		parse = nmea.ParseRMC
	case "GGA":
		parse = nmea.ParseGGA
	default:
		return false
	}
	if !nmea.ValidChecksum(e.Data) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fix := t.pos.Fix
	if !parse(e.Data, &fix) {
		return false
	}
	t.pos.Fix = fix
	t.pos.Source = e.Source
	t.pos.Sequence = e.Sequence
	t.pos.Updated = t.timeNow()
	t.has = true

	// only accumulate while moving (> 1 kn)
	if fix.Valid && fix.SpeedKnots > 1 {
		t.updateTripLocked(fix.Latitude, fix.Longitude)
	}
	return true
}

// updateTripLocked accumulates distance from position changes.
func (t *Tracker) updateTripLocked(lat, lon float64) {
	if !t.seeded {
		// First valid fix: seed position, don't accumulate
		t.lastLat, t.lastLon = lat, lon
		t.seeded = true
		return
	}

	dist := haversineKm(t.lastLat, t.lastLon, lat, lon)

	// ignore jumps > 500m between two fixes (GPS glitch)
	if dist > 0.5 {
		t.lastLat, t.lastLon = lat, lon
		return
	}
	// Minimum movement threshold: ~2 meters
	if dist > 0.002 {
		t.pos.TripKm += dist
		t.lastLat, t.lastLon = lat, lon
	}
}

// haversineKm calculates the great-circle distance between two lat/lon points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0 // Earth radius km
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
