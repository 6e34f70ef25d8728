package core

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

type Mode int

const (
	ModeWhole Mode = iota
	ModeRanged
	ModeStream
)

func (m Mode) String() string {
	switch m {
	case ModeWhole:
		return "whole"
	case ModeRanged:
		return "ranged"
	case ModeStream:
		return "stream"
	}
	return "<Unknown>"
}

func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "whole":
		return ModeWhole, nil
	case "ranged":
		return ModeRanged, nil
	case "stream":
		return ModeStream, nil
	}
	return 0, fmt.Errorf("unknown mode: %q", s)
}

// Target is the server every request of a fetch cycle connects to.
type Target struct {
	Host string
	Port int
}

func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.Addr()
}

const (
	DefaultSegmentSize = 64 * 1024
	DefaultTimeout     = 30 * time.Second
	DefaultReadTimeout = 5 * time.Second
	DefaultDialTimeout = 5 * time.Second
	DefaultScratchSize = 4 * 1024
)

type Config struct {
	Target Target
	Mode   Mode
	// SegmentSize is the range width requested per connection in ModeRanged.
	SegmentSize int64
	// Timeout bounds a whole fetch cycle.
	// ModeRanged also checks it before every segment request.
	Timeout time.Duration
	// ReadTimeout is the window of a single payload read call in ModeStream.
	ReadTimeout time.Duration
	DialTimeout time.Duration
	// ScratchSize is the read buffer size used in ModeStream.
	ScratchSize int
	// PollBackoff paces ModeRanged after a segment comes back empty.
	// It is reset whenever a segment carries data.
	PollBackoff backoff.BackOff
	Inspectors  []Inspector
	// OnDownload will be called for every completed request/response exchange.
	OnDownload OnDownloadHandler
	OnReport   OnReportHandler
}

func NewConfig(host string, port int, mode Mode) *Config {
	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = 50 * time.Millisecond
	poll.MaxInterval = time.Second
	poll.MaxElapsedTime = 0
	return &Config{
		Target:      Target{Host: host, Port: port},
		Mode:        mode,
		SegmentSize: DefaultSegmentSize,
		Timeout:     DefaultTimeout,
		ReadTimeout: DefaultReadTimeout,
		DialTimeout: DefaultDialTimeout,
		ScratchSize: DefaultScratchSize,
		PollBackoff: poll,
	}
}

func (c *Config) Validate() error {
	if c.Target.Host == "" {
		return errors.New("config: host is required")
	}
	if c.Target.Port <= 0 || c.Target.Port > 65535 {
		return fmt.Errorf("config: invalid port: %d", c.Target.Port)
	}
	if c.Mode < ModeWhole || c.Mode > ModeStream {
		return fmt.Errorf("config: invalid mode: %d", c.Mode)
	}
	if c.Mode == ModeRanged && c.SegmentSize <= 0 {
		return errors.New("config: segment size must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	if c.Mode == ModeStream && c.ReadTimeout <= 0 {
		return errors.New("config: read timeout must be positive")
	}
	return nil
}
