// Package logger records the tracked position to CSV files.
package logger

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/nmeahub/internal/position"
)

// Logger records timestamped positions to CSV files with automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file    *os.File
	writer  *csv.Writer
	lastTs  time.Time
	lastSeq int64
	rows    int

	timeNow func() time.Time
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // Rotate after 100k rows (~28 hrs at 1 Hz)
)

var csvHeader = []string{
	"timestamp", "fix_time", "fix_date", "source", "seq",
	"valid", "lat", "lon", "sog_kn", "cog_deg",
	"alt_m", "sats", "fix_quality", "hdop", "trip_km",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/nmeahub"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 100*time.Millisecond {
		interval = time.Second // Default 1 Hz
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		timeNow:  time.Now,
	}
}

// Run samples src every interval until ctx is done, then closes the file.
func (l *Logger) Run(ctx context.Context, src func() (position.Position, bool)) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	defer l.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pos, ok := src(); ok {
				l.Record(pos)
			}
		}
	}
}

// Record writes a position if it is valid, newer than the last recorded one
// and the minimum interval has elapsed. It reports whether a row was written.
func (l *Logger) Record(pos position.Position) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || !pos.Valid || pos.Sequence == l.lastSeq {
		return false
	}

	now := l.timeNow()
	if now.Sub(l.lastTs) < l.interval {
		return false
	}

	// Open/rotate file if needed
	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return false
		}
	}

	if err := l.writer.Write(buildRow(now, pos)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return false
	}
	l.writer.Flush()
	l.lastTs = now
	l.lastSeq = pos.Sequence
	l.rows++
	return true
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("track_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	// Write header
	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, p position.Position) []string {
	return []string{
		ts.Format(time.RFC3339Nano),
		p.Time,
		p.Date,
		p.Source,
		strconv.FormatInt(p.Sequence, 10),
		boolStr(p.Valid),
		fmt.Sprintf("%.6f", p.Latitude),
		fmt.Sprintf("%.6f", p.Longitude),
		fmt.Sprintf("%.1f", p.SpeedKnots),
		fmt.Sprintf("%.1f", p.Course),
		fmt.Sprintf("%.1f", p.Altitude),
		strconv.Itoa(p.Satellites),
		strconv.Itoa(p.FixQuality),
		fmt.Sprintf("%.1f", p.HDOP),
		fmt.Sprintf("%.3f", p.TripKm),
	}
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
