package testserver

import (
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, s *Server, request string) string {
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(request))
	require.NoError(t, err)
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(b)
}

func TestOrigin(t *testing.T) {
	origin := &Origin{Payload: []byte("0123456789"), AdvertiseLength: true}
	s := New(origin.Handle)
	defer s.Close()

	info := get(t, s, "GET /info HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	assert.Contains(t, info, fmt.Sprintf(`{"length": 10, "sha256": "%s"}`, origin.Digest()))

	whole := get(t, s, "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 10\r\nConnection: close\r\n\r\n0123456789", whole)

	ranged := get(t, s, "GET / HTTP/1.1\r\nHost: x\r\nRange: bytes=8-12\r\nConnection: close\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 206 Partial Content\r\nContent-Length: 2\r\nConnection: close\r\n\r\n89", ranged)

	beyond := get(t, s, "GET / HTTP/1.1\r\nHost: x\r\nRange: bytes=12-16\r\nConnection: close\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 206 Partial Content\r\nContent-Length: 0\r\nConnection: close\r\n\r\n", beyond)

	requests := s.Requests()
	require.Len(t, requests, 4)
	assert.Equal(t, "/info", requests[0].Path)
	assert.Equal(t, "close", requests[1].Header["connection"])
	start, end, ok := requests[2].Range()
	require.True(t, ok)
	assert.Equal(t, int64(8), start)
	assert.Equal(t, int64(12), end)
	_, _, ok = requests[1].Range()
	assert.False(t, ok)
}

func TestCloseReleasesStalledHandlers(t *testing.T) {
	s := New(func(e *Exchange) {
		e.Write(Head("200 OK", 100))
		<-e.Done()
	})
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestHandlerPanic(t *testing.T) {
	s := New(func(e *Exchange) {
		panic("broken fixture")
	})
	get(t, s, "GET / HTTP/1.1\r\n\r\n")
	err := s.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken fixture")
}
