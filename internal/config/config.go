package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/nmeahub/internal/connection"
	"github.com/shaunagostinho/nmeahub/internal/nmea"
	"github.com/shaunagostinho/nmeahub/internal/queue"
	"github.com/shaunagostinho/nmeahub/internal/transport"
)

// Connection types.
const (
	TypeSerial = "serial"
	TypeTCP    = "tcp"
)

// Config holds all hub configuration.
type Config struct {
	Server      ServerConfig       `yaml:"server" json:"server"`
	Queue       QueueConfig        `yaml:"queue" json:"queue"`
	Connections []ConnectionConfig `yaml:"connections" json:"connections"`
	TrackLog    TrackLogConfig     `yaml:"track_log" json:"trackLog"`
	Verbose     bool               `yaml:"verbose" json:"verbose"` // per-sentence engine logging

	path string // file path the config was loaded from
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

type QueueConfig struct {
	Size int `yaml:"size" json:"size"`
}

type TrackLogConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"`
}

// ConnectionConfig describes one transport and the engine running on it.
type ConnectionConfig struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`          // "serial" or "tcp"
	PortPath string `yaml:"port_path" json:"portPath"` // serial, e.g. /dev/ttyUSB0
	BaudRate int    `yaml:"baud_rate" json:"baudRate"` // serial
	Address  string `yaml:"address" json:"address"`    // tcp, host:port

	ReadData           *bool    `yaml:"read_data" json:"readData"` // default true
	WriteData          bool     `yaml:"write_data" json:"writeData"`
	ReadFilter         FilterList `yaml:"read_filter" json:"readFilter"`
	WriteFilter        FilterList `yaml:"write_filter" json:"writeFilter"`
	Blacklist          []string   `yaml:"blacklist" json:"blacklist"`
	CloseOnReadTimeout bool       `yaml:"close_on_read_timeout" json:"closeOnReadTimeout"`
	NoDataTime         int        `yaml:"no_data_time" json:"noDataTime"`        // seconds
	ConnectTimeout     int        `yaml:"connect_timeout" json:"connectTimeout"` // seconds
	WriteTimeout       int        `yaml:"write_timeout" json:"writeTimeout"`     // seconds
	ReconnectDelay     int        `yaml:"reconnect_delay" json:"reconnectDelay"` // seconds
}

// FilterList is a filter pattern list. In YAML it is either a sequence or a
// single comma separated string ("$RMC,$GGA,^$GSV").
type FilterList []string

func (f *FilterList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*f = nmea.ParseFilter(value.Value)
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*f = list
	return nil
}

// Default returns a config with sensible defaults and no connections.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Queue: QueueConfig{
			Size: queue.DefaultSize,
		},
		TrackLog: TrackLogConfig{
			Enabled:  false,
			Path:     "/var/log/nmeahub",
			Interval: 1000,
		},
	}
}

// Load reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if the file is missing or broken.
func Load(path string) *Config {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = Default()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// Parse decodes YAML config data on top of the defaults without touching
// the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: LISTEN_ADDR, QUEUE_SIZE, NMEA_VERBOSE.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.Size = n
		}
	}
	if v := os.Getenv("NMEA_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Verbose = b
		}
	}
}

// Validate checks every connection and rejects duplicate names.
func (c *Config) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for i, cc := range c.Connections {
		if err := cc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("connection %d: %w", i, err))
			continue
		}
		if seen[cc.Name] {
			errs = append(errs, fmt.Errorf("connection %d: duplicate name %q", i, cc.Name))
		}
		seen[cc.Name] = true
	}
	return errors.Join(errs...)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

// Validate checks a single connection definition.
func (cc ConnectionConfig) Validate() error {
	if cc.Name == "" {
		return errors.New("missing name")
	}
	switch cc.Type {
	case TypeSerial:
		if cc.PortPath == "" {
			return fmt.Errorf("%s: serial connection needs port_path", cc.Name)
		}
	case TypeTCP:
		if cc.Address == "" {
			return fmt.Errorf("%s: tcp connection needs address", cc.Name)
		}
	default:
		return fmt.Errorf("%s: unknown type %q", cc.Name, cc.Type)
	}
	if err := cc.Properties().Validate(); err != nil {
		return fmt.Errorf("%s: %w", cc.Name, err)
	}
	return nil
}

// Properties returns the engine properties of this connection.
func (cc ConnectionConfig) Properties() connection.Properties {
	p := connection.DefaultProperties(cc.Name)
	if cc.ReadData != nil {
		p.ReadData = *cc.ReadData
	}
	p.WriteData = cc.WriteData
	p.ReadFilter = cc.ReadFilter
	p.WriteFilter = cc.WriteFilter
	p.Blacklist = cc.Blacklist
	p.CloseOnReadTimeout = cc.CloseOnReadTimeout
	p.NoDataTime = cc.NoDataTime
	p.ConnectTimeout = cc.ConnectTimeout
	p.WriteTimeout = cc.WriteTimeout
	return p
}

// ReconnectWait returns the pause between two connection attempts after a
// running connection ended.
func (cc ConnectionConfig) ReconnectWait() time.Duration {
	if cc.ReconnectDelay <= 0 {
		return 5 * time.Second
	}
	return time.Duration(cc.ReconnectDelay) * time.Second
}

// TransportOptions returns the transport level timeouts of this connection.
func (cc ConnectionConfig) TransportOptions() []transport.Option {
	var opts []transport.Option
	if cc.WriteTimeout > 0 {
		opts = append(opts, transport.WithWriteTimeout(time.Duration(cc.WriteTimeout)*time.Second))
	}
	if cc.CloseOnReadTimeout && cc.NoDataTime > 0 {
		opts = append(opts, transport.WithReadTimeout(time.Duration(cc.NoDataTime)*time.Second))
	}
	return opts
}

// SerialConfig returns the serial port settings.
func (cc ConnectionConfig) SerialConfig() transport.SerialConfig {
	return transport.SerialConfig{PortPath: cc.PortPath, BaudRate: cc.BaudRate}
}

// TCPConfig returns the TCP client settings.
func (cc ConnectionConfig) TCPConfig() transport.TCPConfig {
	return transport.TCPConfig{
		Address:        cc.Address,
		ConnectTimeout: time.Duration(cc.ConnectTimeout) * time.Second,
	}
}
