package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const (
	MetadataPath = "/info"
	DataPath     = "/"
)

type request struct {
	path string
	// size is the width of the requested range; zero means no Range header.
	offset int64
	size   int64
}

// rangeHeader keeps both ends of [offset, offset+size] in the header value.
func (r *request) rangeHeader() string {
	if r.size == 0 {
		return ""
	}
	return fmt.Sprintf("bytes=%d-%d", r.offset, r.offset+r.size)
}

func (r *request) encode(host string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", r.path)
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	if rng := r.rangeHeader(); rng != "" {
		fmt.Fprintf(&b, "Range: %s\r\n", rng)
	}
	b.WriteString("Connection: close\r\n\r\n")
	return []byte(b.String())
}

type client interface {
	// Get sends req on a fresh connection, reads until the peer closes it and
	// returns the response cut into header and payload.
	Get(ctx context.Context, req *request) (*File, error)
	// Exchange is Get without framing; raw may lack a blank line.
	Exchange(ctx context.Context, req *request) (*File, error)
	// Open sends req on a fresh connection and leaves reading to the caller.
	Open(ctx context.Context, req *request) (net.Conn, error)
	// NewFile describes an exchange whose raw bytes were read by the caller.
	NewFile(req *request, raw []byte, requestTime time.Time) *File
	Notify(file *File)
}

type rawClient struct {
	target  Target
	dialer  *net.Dialer
	handler OnDownloadHandler
}

func newClient(target Target, dialTimeout time.Duration, handler OnDownloadHandler) client {
	return &rawClient{
		target:  target,
		dialer:  &net.Dialer{Timeout: dialTimeout},
		handler: handler,
	}
}

func (c *rawClient) Open(ctx context.Context, req *request) (net.Conn, error) {
	addr := c.target.Addr()
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, c.fail(ctx, "dial "+addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, c.fail(ctx, "set deadline", err)
		}
	}
	if _, err := conn.Write(req.encode(c.target.Host)); err != nil {
		conn.Close()
		return nil, c.fail(ctx, "send "+req.path, err)
	}
	return conn, nil
}

func (c *rawClient) Exchange(ctx context.Context, req *request) (*File, error) {
	requestTime := time.Now()
	conn, err := c.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, c.fail(ctx, "read "+req.path, err)
	}
	return c.NewFile(req, raw, requestTime), nil
}

func (c *rawClient) Get(ctx context.Context, req *request) (*File, error) {
	file, err := c.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := Split(file.Raw); err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.path, req.rangeHeader(), err)
	}
	c.Notify(file)
	return file, nil
}

func (c *rawClient) Notify(file *File) {
	if c.handler != nil {
		c.handler(file)
	}
}

func (c *rawClient) NewFile(req *request, raw []byte, requestTime time.Time) *File {
	file := &File{
		Meta: Meta{
			Addr:             c.target.Addr(),
			Path:             req.path,
			Range:            req.rangeHeader(),
			Offset:           req.offset,
			RequestTimestamp: requestTime,
			DownloadTime:     time.Since(requestTime),
		},
		Raw: raw,
	}
	if i := bytes.Index(raw, delimiter); i >= 0 {
		file.HeaderLength = i + len(delimiter)
	}
	file.PayloadLength = len(raw) - file.HeaderLength
	if status, err := ParseStatusLine(raw); err == nil {
		file.Proto = status.Proto
		file.StatusCode = status.Code
		file.Status = status.Status()
	}
	return file
}

// fail classifies a transport error. A cancelled context is reported as such
// rather than as the deadline it forces onto the connection.
func (c *rawClient) fail(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return transportError(op, err)
}
