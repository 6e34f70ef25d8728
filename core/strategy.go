package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// FramingStrategy obtains the payload described by metadata from the data
// endpoint.
type FramingStrategy interface {
	Fetch(ctx context.Context, metadata *Metadata) ([]byte, error)
}

// NewStrategy builds the strategy selected by config.Mode for use outside a
// Fetcher. It dials config.Target itself and passes every exchange to
// config.OnDownload.
func NewStrategy(config *Config) FramingStrategy {
	return newStrategy(config, newClient(config.Target, config.DialTimeout, config.OnDownload))
}

func newStrategy(config *Config, client client) FramingStrategy {
	switch config.Mode {
	case ModeRanged:
		return &rangedStrategy{
			client:      client,
			segmentSize: config.SegmentSize,
			timeout:     config.Timeout,
			backoff:     config.PollBackoff,
			onReport:    config.OnReport,
		}
	case ModeStream:
		scratch := config.ScratchSize
		if scratch <= 0 {
			scratch = DefaultScratchSize
		}
		return &streamStrategy{
			client:      client,
			readTimeout: config.ReadTimeout,
			scratchSize: scratch,
			onReport:    config.OnReport,
		}
	default:
		return &wholeStrategy{client: client}
	}
}

type wholeStrategy struct {
	client client
}

func (s *wholeStrategy) Fetch(ctx context.Context, _ *Metadata) ([]byte, error) {
	file, err := s.client.Get(ctx, &request{path: DataPath})
	if err != nil {
		return nil, fmt.Errorf("failed to download payload: %w", err)
	}
	return file.Payload(), nil
}

type rangedStrategy struct {
	client      client
	segmentSize int64
	timeout     time.Duration
	backoff     backoff.BackOff
	onReport    OnReportHandler
}

func (s *rangedStrategy) Fetch(ctx context.Context, metadata *Metadata) ([]byte, error) {
	start := time.Now()
	if s.backoff != nil {
		s.backoff.Reset()
	}
	var payload []byte
	var offset int64
	digest := newRunningDigest()
	for segment := 1; !digest.Matches(metadata.Digest); segment++ {
		if elapsed := time.Since(start); elapsed > s.timeout {
			return nil, fmt.Errorf("%w: no digest match after %s: %d bytes in %d segments",
				ErrTimeout, elapsed.Round(time.Millisecond), len(payload), segment-1)
		}

		file, err := s.client.Get(ctx, &request{path: DataPath, offset: offset, size: s.segmentSize})
		if err != nil {
			return nil, fmt.Errorf("failed to download segment %d: %w", segment, err)
		}
		data := file.Payload()
		payload = append(payload, data...)
		digest.Write(data)
		offset += s.segmentSize
		s.report(&Report{
			Name:     "RangedStrategy",
			Severity: Info,
			Message:  "segment downloaded",
			Values: Values{
				"segment": segment,
				"range":   file.Range,
				"bytes":   len(data),
				"total":   len(payload),
			},
		})

		if len(data) != 0 {
			if s.backoff != nil {
				s.backoff.Reset()
			}
			continue
		}
		if err := s.wait(ctx, start); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// wait sleeps after an empty segment without overrunning the time budget.
func (s *rangedStrategy) wait(ctx context.Context, start time.Time) error {
	if s.backoff == nil {
		return nil
	}
	d := s.backoff.NextBackOff()
	if d == backoff.Stop {
		return nil
	}
	if remaining := s.timeout - time.Since(start); d > remaining {
		d = remaining
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return contextError(ctx)
	}
}

func (s *rangedStrategy) report(report *Report) {
	if s.onReport != nil {
		s.onReport(Reports{report})
	}
}

type streamStrategy struct {
	client      client
	readTimeout time.Duration
	scratchSize int
	onReport    OnReportHandler
}

func (s *streamStrategy) Fetch(ctx context.Context, metadata *Metadata) ([]byte, error) {
	if !metadata.HasLength() {
		return nil, fmt.Errorf("%w: stream mode requires an advertised length", ErrMetadataFormat)
	}
	req := &request{path: DataPath}
	requestTime := time.Now()
	conn, err := s.client.Open(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to download payload: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	scratch := make([]byte, s.scratchSize)
	header, payload, err := s.readHeader(ctx, conn, scratch)
	if err != nil {
		return nil, err
	}

	payload, err = s.readPayload(ctx, conn, scratch, payload, metadata.Length)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 0, len(header)+len(payload))
	raw = append(append(raw, header...), payload...)
	s.client.Notify(s.client.NewFile(req, raw, requestTime))
	return payload, nil
}

// readHeader reads until the blank line shows up. Bytes read past it are
// returned as the beginning of the payload.
func (s *streamStrategy) readHeader(ctx context.Context, conn net.Conn, scratch []byte) ([]byte, []byte, error) {
	var buf []byte
	for {
		n, err := conn.Read(scratch)
		from := len(buf) - len(delimiter) + 1
		if from < 0 {
			from = 0
		}
		buf = append(buf, scratch[:n]...)
		if i := bytes.Index(buf[from:], delimiter); i >= 0 {
			end := from + i + len(delimiter)
			return buf[:end:end], buf[end:], nil
		}
		if err != nil {
			if isEOF(err) {
				return nil, nil, fmt.Errorf("%w: connection closed after %d header bytes", ErrFraming, len(buf))
			}
			return nil, nil, s.fail(ctx, "read header", err)
		}
	}
}

func (s *streamStrategy) readPayload(ctx context.Context, conn net.Conn, scratch, payload []byte, length int64) ([]byte, error) {
	if int64(len(payload)) > length {
		return payload[:length], nil
	}
	// A stall is judged on the whole payload phase: any byte past the header
	// turns a read timeout into a short payload, none turns it into ErrTimeout.
	for int64(len(payload)) < length {
		window := scratch
		if remaining := length - int64(len(payload)); remaining < int64(len(window)) {
			window = window[:remaining]
		}
		n, err := s.readCall(ctx, conn, window)
		payload = append(payload, window[:n]...)
		if err == nil {
			continue
		}
		switch {
		case isEOF(err):
			s.reportShort("connection closed before advertised length", len(payload), length)
			return payload, nil
		case isDeadline(err) && len(payload) > 0 && ctx.Err() == nil:
			s.reportShort("stream stalled before advertised length", len(payload), length)
			return payload, nil
		default:
			return nil, s.fail(ctx, fmt.Sprintf("read payload at %d/%d bytes", len(payload), length), err)
		}
	}
	return payload, nil
}

// readCall fills window within one read timeout. It returns what arrived
// before the peer closed the connection or the timeout hit.
func (s *streamStrategy) readCall(ctx context.Context, conn net.Conn, window []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	deadline := time.Now().Add(s.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	var n int
	for n < len(window) {
		m, err := conn.Read(window[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *streamStrategy) reportShort(msg string, got int, want int64) {
	if s.onReport == nil {
		return
	}
	s.onReport(Reports{{
		Name:     "StreamStrategy",
		Severity: Warn,
		Message:  msg,
		Values: Values{
			"bytes":  got,
			"length": want,
		},
	}})
}

func (s *streamStrategy) fail(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, contextError(ctx))
	}
	return transportError(op, err)
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	return ctx.Err()
}
