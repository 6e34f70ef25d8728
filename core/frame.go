package core

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

var delimiter = []byte("\r\n\r\n")

// RawResponse is a response cut at its first blank line.
// Header keeps the delimiter, so Header followed by Payload is the raw input.
type RawResponse struct {
	Header  []byte
	Payload []byte
}

// HeaderText returns the status line and header fields without the trailing
// blank line.
func (r *RawResponse) HeaderText() string {
	return string(r.Header[:len(r.Header)-len(delimiter)])
}

// Split separates framing bytes from payload bytes at the first CR LF CR LF.
// Bytes after the delimiter are never inspected, so they may be arbitrary
// binary data.
func Split(raw []byte) (*RawResponse, error) {
	i := bytes.Index(raw, delimiter)
	if i < 0 {
		return nil, fmt.Errorf("%w: no blank line in %d bytes of response", ErrFraming, len(raw))
	}
	end := i + len(delimiter)
	return &RawResponse{
		Header:  raw[:end:end],
		Payload: raw[end:],
	}, nil
}

type StatusLine struct {
	Proto  string
	Code   int
	Reason string
}

func (s StatusLine) Status() string {
	if s.Reason == "" {
		return strconv.Itoa(s.Code)
	}
	return strconv.Itoa(s.Code) + " " + s.Reason
}

// ParseStatusLine reads the first line of a response header. It is used for
// reporting only; the protocol does not act on status codes.
func ParseStatusLine(header []byte) (StatusLine, error) {
	line := string(header)
	if i := strings.Index(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return StatusLine{}, fmt.Errorf("%w: invalid status line: %q", ErrFraming, line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return StatusLine{}, fmt.Errorf("%w: invalid status code: %q", ErrFraming, parts[1])
	}
	status := StatusLine{Proto: parts[0], Code: code}
	if len(parts) == 3 {
		status.Reason = parts[2]
	}
	return status, nil
}
