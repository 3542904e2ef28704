// Package config defines runtime defaults, environment overrides and flag
// bindings for the relay server.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/omochice/socket-relay/internal/stream"
	"github.com/omochice/socket-relay/internal/textenc"
)

// Handler modes for raw TCP connections.
const (
	ModeEcho = "echo"
	ModeChat = "chat"
)

// Config holds the server configuration.
type Config struct {
	// Addr is the single port serving both raw TCP and HTTP/WebSocket.
	// It is ignored when TCPAddr and WSAddr are both set.
	Addr    string
	TCPAddr string
	WSAddr  string

	// TCPMode selects the handler for raw TCP connections.
	TCPMode string

	SegmentSize int
	MaxBuffered int

	// Encoding is the WHATWG label used for the echo welcome line.
	Encoding string

	SendTimeout     time.Duration
	MetricsInterval time.Duration

	// SniffTimeout bounds how long single-port mode waits for the first
	// bytes before treating a silent peer as raw TCP.
	SniffTimeout time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:            ":8080",
		TCPMode:         ModeChat,
		SegmentSize:     stream.DefaultSegmentSize,
		MaxBuffered:     stream.DefaultMaxBuffered,
		Encoding:        "utf-8",
		MetricsInterval: time.Minute,
		SniffTimeout:    300 * time.Millisecond,
	}
}

// FromEnv overlays RELAY_* environment variables on cfg. Malformed values
// are reported and leave the field unchanged.
func FromEnv(cfg Config) (Config, error) {
	return fromLookup(cfg, os.LookupEnv)
}

func fromLookup(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("RELAY_ADDR", &cfg.Addr)
	str("RELAY_TCP_ADDR", &cfg.TCPAddr)
	str("RELAY_WS_ADDR", &cfg.WSAddr)
	str("RELAY_TCP_MODE", &cfg.TCPMode)
	str("RELAY_ENCODING", &cfg.Encoding)
	num("RELAY_SEGMENT_SIZE", &cfg.SegmentSize)
	num("RELAY_MAX_BUFFERED", &cfg.MaxBuffered)
	dur("RELAY_SEND_TIMEOUT", &cfg.SendTimeout)
	dur("RELAY_METRICS_INTERVAL", &cfg.MetricsInterval)
	dur("RELAY_SNIFF_TIMEOUT", &cfg.SniffTimeout)

	return cfg, errors.Join(errs...)
}

// RegisterFlags binds cfg's fields to fs, using the current values as
// defaults.
func (cfg *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "single port for both TCP and WebSocket (e.g., :8080)")
	fs.StringVar(&cfg.TCPAddr, "tcp-addr", cfg.TCPAddr, "separate raw TCP address; requires -ws-addr")
	fs.StringVar(&cfg.WSAddr, "ws-addr", cfg.WSAddr, "separate WebSocket/HTTP address; requires -tcp-addr")
	fs.StringVar(&cfg.TCPMode, "tcp-mode", cfg.TCPMode, "handler for raw TCP connections: echo or chat")
	fs.IntVar(&cfg.SegmentSize, "segment-size", cfg.SegmentSize, "stream segment size in bytes")
	fs.IntVar(&cfg.MaxBuffered, "max-buffered", cfg.MaxBuffered, "unacknowledged inbound bytes per connection")
	fs.StringVar(&cfg.Encoding, "encoding", cfg.Encoding, "encoding of the echo welcome line")
	fs.DurationVar(&cfg.SendTimeout, "send-timeout", cfg.SendTimeout, "per-connection broadcast write timeout (0 disables)")
	fs.DurationVar(&cfg.MetricsInterval, "metrics.tick", cfg.MetricsInterval, "metrics: duration between reports (0 disables)")
	fs.DurationVar(&cfg.SniffTimeout, "sniff-timeout", cfg.SniffTimeout, "single-port wait for the first bytes before assuming raw TCP")
}

// DualPort reports whether TCP and WebSocket listen on separate addresses.
func (cfg Config) DualPort() bool {
	return cfg.TCPAddr != "" && cfg.WSAddr != ""
}

// StreamOptions returns the stream sizing derived from cfg.
func (cfg Config) StreamOptions() stream.Options {
	return stream.Options{SegmentSize: cfg.SegmentSize, MaxBuffered: cfg.MaxBuffered}
}

// Validate reports every invalid field.
func (cfg Config) Validate() error {
	var errs []error
	if cfg.TCPMode != ModeEcho && cfg.TCPMode != ModeChat {
		errs = append(errs, fmt.Errorf("tcp mode must be %q or %q, got %q", ModeEcho, ModeChat, cfg.TCPMode))
	}
	if (cfg.TCPAddr == "") != (cfg.WSAddr == "") {
		errs = append(errs, errors.New("tcp-addr and ws-addr must be set together"))
	}
	if !cfg.DualPort() && cfg.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if cfg.SegmentSize <= 0 {
		errs = append(errs, fmt.Errorf("segment size must be positive, got %d", cfg.SegmentSize))
	}
	if cfg.MaxBuffered < cfg.SegmentSize {
		errs = append(errs, fmt.Errorf("max buffered (%d) must be at least the segment size (%d)", cfg.MaxBuffered, cfg.SegmentSize))
	}
	if cfg.SendTimeout < 0 || cfg.MetricsInterval < 0 || cfg.SniffTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if _, err := textenc.Lookup(cfg.Encoding); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
