// Package testserver runs a raw TCP server that answers HTTP/1.1 style
// requests with hand-written bytes, so tests can reproduce servers that
// close early, stall, or never send a blank line.
package testserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/abema/segfetch/internal/thread"
	"golang.org/x/sync/errgroup"
)

type Request struct {
	Method string
	Path   string
	Proto  string
	// Header keys are lowercased.
	Header map[string]string
}

// Range parses a "bytes=start-end" header.
func (r *Request) Range() (start, end int64, ok bool) {
	v, found := r.Header["range"]
	if !found {
		return 0, 0, false
	}
	v = strings.TrimPrefix(v, "bytes=")
	parts := strings.SplitN(v, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}

type Exchange struct {
	net.Conn
	Request *Request
	done    <-chan struct{}
}

// Done is closed when the server shuts down. Handlers that stall should
// select on it.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

type Handler func(e *Exchange)

type Server struct {
	listener net.Listener
	handler  Handler
	eg       *errgroup.Group
	ctx      context.Context
	cancel   context.CancelFunc

	mutex    sync.Mutex
	requests []*Request
	conns    map[net.Conn]struct{}
}

// New starts a server on a loopback port. It panics if it cannot listen.
func New(handler Handler) *Server {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("testserver: failed to listen: %v", err))
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	s := &Server{
		listener: listener,
		handler:  handler,
		eg:       eg,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
	eg.Go(thread.NoPanic(s.serve))
	return s
}

func (s *Server) Host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Requests returns every request received so far, in arrival order.
func (s *Server) Requests() []*Request {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]*Request(nil), s.requests...)
}

// Close stops accepting, closes open connections and waits for handlers.
// It returns the first handler panic, if any.
func (s *Server) Close() error {
	s.cancel()
	s.listener.Close()
	s.mutex.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mutex.Unlock()
	return s.eg.Wait()
}

func (s *Server) serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.track(conn, true)
		s.eg.Go(thread.NoPanic(func() error {
			defer s.track(conn, false)
			defer conn.Close()
			return s.handle(conn)
		}))
	}
}

func (s *Server) handle(conn net.Conn) error {
	req, err := readRequest(bufio.NewReader(conn))
	if err != nil {
		// the client gave up before sending a full request
		return nil
	}
	s.mutex.Lock()
	s.requests = append(s.requests, req)
	s.mutex.Unlock()
	s.handler(&Exchange{Conn: conn, Request: req, done: s.ctx.Done()})
	return nil
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func readRequest(r *bufio.Reader) (*Request, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid request line: %q", line)
	}
	req := &Request{
		Method: parts[0],
		Path:   parts[1],
		Proto:  parts[2],
		Header: make(map[string]string),
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return req, nil
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) == 2 {
			req.Header[strings.ToLower(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
}

// Response renders a complete response with a Content-Length header.
func Response(status string, body []byte) []byte {
	head := fmt.Sprintf("HTTP/1.1 %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", status, len(body))
	return append([]byte(head), body...)
}

// Head renders only the status line and headers, for handlers that stream
// the body themselves.
func Head(status string, contentLength int) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", status, contentLength))
}
