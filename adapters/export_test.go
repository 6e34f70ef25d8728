package adapters

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abema/segfetch/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnDownloadPathFilter(t *testing.T) {
	testCases := []struct {
		path     string
		expected int
	}{
		{path: core.DataPath, expected: 1},
		{path: core.MetadataPath, expected: 0},
	}
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			var called int
			OnDownloadPathFilter(func(file *core.File) {
				called++
			}, core.DataPath)(&core.File{
				Meta: core.Meta{Path: tc.path},
			})
			assert.Equal(t, tc.expected, called)
		})
	}
}

func newExportedFile() *core.File {
	raw := []byte("HTTP/1.1 206 Partial Content\r\n\r\nfoo")
	return &core.File{
		Meta: core.Meta{
			FetchID:          "f0",
			Path:             "/",
			Range:            "bytes=4-8",
			Offset:           4,
			Status:           "206 Partial Content",
			StatusCode:       206,
			Proto:            "HTTP/1.1",
			HeaderLength:     len(raw) - 3,
			PayloadLength:    3,
			RequestTimestamp: time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
		},
		Raw: raw,
	}
}

func TestRawExchangeExporter(t *testing.T) {
	dir := t.TempDir()
	f := newExportedFile()
	RawExchangeExporter(dir, false)(f)

	name := filepath.Join(dir, "f0", "data-4-20240102-150405.000.raw")
	b, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, f.Raw, b)
	_, err = os.Stat(name + "-meta.json")
	require.Error(t, err)
}

func TestRawExchangeExporterWithMeta(t *testing.T) {
	dir := t.TempDir()
	f := newExportedFile()
	f.Path = core.MetadataPath
	f.Range = ""
	RawExchangeExporter(dir, true)(f)

	name := filepath.Join(dir, "f0", "info-20240102-150405.000.raw")
	b, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, f.Raw, b)
	m, err := os.ReadFile(name + "-meta.json")
	require.NoError(t, err)
	var meta core.Meta
	require.NoError(t, json.Unmarshal(m, &meta))
	assert.Equal(t, f.Meta, meta)
}
