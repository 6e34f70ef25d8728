package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/abema/segfetch/internal/testserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	origin := &testserver.Origin{Payload: []byte("0123456789"), AdvertiseLength: true}
	server := testserver.New(origin.Handle)
	defer server.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "payload.bin")
	metrics := filepath.Join(dir, "segfetch.prom")
	logFile := filepath.Join(dir, "segfetch.log")
	exportDir := filepath.Join(dir, "raw")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-host", server.Host(),
		"-port", strconv.Itoa(server.Port()),
		"-mode", "ranged",
		"-segment.size", "4",
		"-out", out,
		"-metrics.file", metrics,
		"-log.file", logFile,
		"-export.dir", exportDir,
		"-export.meta",
	}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, origin.Payload, b)
	assert.Empty(t, stdout.String())

	m, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(m), `segfetch_fetch_cycles_total{outcome="success"} 1`)
	assert.Contains(t, string(m), `segfetch_exchanges_total{code="206",path="/"} 3`)

	l, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(l), "Verifier: payload verified")

	fetches, err := os.ReadDir(exportDir)
	require.NoError(t, err)
	require.Len(t, fetches, 1)
	exported, err := os.ReadDir(filepath.Join(exportDir, fetches[0].Name()))
	require.NoError(t, err)
	// 4 raw responses, each with a meta file
	assert.Len(t, exported, 8)
}

func TestRunStdout(t *testing.T) {
	origin := &testserver.Origin{Payload: []byte("hello"), AdvertiseLength: true}
	server := testserver.New(origin.Handle)
	defer server.Close()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-mode", "stream",
		"-out", "-",
		"-log.json",
		server.Addr(),
	}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Equal(t, "hello", stdout.String())
	assert.Contains(t, stderr.String(), `"severity":"INFO"`)
}

func TestRunFailures(t *testing.T) {
	payload := []byte("0123456789")
	testCases := []struct {
		name     string
		origin   *testserver.Origin
		args     []string
		expected int
		requests int
	}{
		{
			name:     "missing digest",
			origin:   &testserver.Origin{Payload: payload, Metadata: []byte(`{"length": 10}`)},
			args:     []string{"-mode", "whole"},
			expected: exitMetadataFormat,
			requests: 1,
		},
		{
			name:     "stream without length",
			origin:   &testserver.Origin{Payload: payload},
			args:     []string{"-mode", "stream"},
			expected: exitMetadataFormat,
			requests: 1,
		},
		{
			name:     "digest mismatch",
			origin:   &testserver.Origin{Payload: payload, Metadata: []byte(`{"sha256": "` + (&testserver.Origin{Payload: []byte("x")}).Digest() + `"}`)},
			args:     []string{"-mode", "whole", "-attempts", "3"},
			expected: exitDigestMismatch,
			requests: 6,
		},
	}
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("retry:\n  backoff: 10ms\n  max_backoff: 20ms\n"), 0644))

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := testserver.New(tc.origin.Handle)
			defer server.Close()
			var stdout, stderr bytes.Buffer
			args := append([]string{"-config", configPath, "-target", server.Addr()}, tc.args...)
			code := run(context.Background(), args, &stdout, &stderr)
			assert.Equal(t, tc.expected, code)
			assert.Len(t, server.Requests(), tc.requests)
			assert.Empty(t, stdout.String())
		})
	}
}

func TestRunTimeout(t *testing.T) {
	server := testserver.New(func(e *testserver.Exchange) {
		<-e.Done()
	})
	defer server.Close()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-timeout", "100ms", "-attempts", "3", server.Addr()}, &stdout, &stderr)
	assert.Equal(t, exitTimeout, code)
	assert.Len(t, server.Requests(), 1)
}

func TestRunConnectionRefused(t *testing.T) {
	server := testserver.New(func(e *testserver.Exchange) {})
	addr := server.Addr()
	require.NoError(t, server.Close())

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{addr}, &stdout, &stderr)
	assert.Equal(t, exitConnection, code)
}

func TestRunInterrupted(t *testing.T) {
	server := testserver.New(func(e *testserver.Exchange) {
		<-e.Done()
	})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{server.Addr()}, &stdout, &stderr)
	assert.Equal(t, exitInterrupted, code)
}

func TestRunInvalidArguments(t *testing.T) {
	for name, args := range map[string][]string{
		"no target":    {},
		"mode":         {"-mode", "parallel", "localhost"},
		"segment size": {"-segment.size", "huge", "localhost"},
		"target twice": {"-target", "localhost", "localhost"},
		"scheme":       {"https://localhost/"},
		"severity":     {"-log.severity", "debug", "localhost"},
		"unknown flag": {"-unknown", "localhost"},
	} {
		t.Run(name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), args, &stdout, &stderr)
			assert.Equal(t, exitInvalidArguments, code)
			assert.Contains(t, stderr.String(), "HELP: segfetch -h")
		})
	}

	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitOK, run(context.Background(), []string{"-h"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "USAGE: segfetch")
}
