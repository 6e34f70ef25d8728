package core

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

var (
	ErrConnection     = errors.New("connection error")
	ErrDecode         = errors.New("decode error")
	ErrMetadataFormat = errors.New("metadata format error")
	ErrFraming        = errors.New("framing error")
	ErrTimeout        = errors.New("timeout")
	ErrDigestMismatch = errors.New("digest mismatch")
)

// Kind returns the sentinel error err was classified as, or nil if err
// carries none of them.
func Kind(err error) error {
	for _, kind := range []error{
		ErrTimeout,
		ErrConnection,
		ErrDecode,
		ErrMetadataFormat,
		ErrFraming,
		ErrDigestMismatch,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

func isDeadline(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// transportError classifies a dial, write or read failure. Deadline hits
// become ErrTimeout, everything else ErrConnection.
func transportError(op string, err error) error {
	if isDeadline(err) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrConnection, op, err)
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
