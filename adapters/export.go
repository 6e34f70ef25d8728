package adapters

import (
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/abema/segfetch/core"
	"github.com/abema/segfetch/internal/file"
)

func OnDownloadPathFilter(handler core.OnDownloadHandler, paths ...string) core.OnDownloadHandler {
	return func(f *core.File) {
		for _, p := range paths {
			if f.Path == p {
				handler(f)
				return
			}
		}
	}
}

// RawExchangeExporter writes every response exactly as it came off the wire,
// header included, under baseDir/<fetch ID>/. With enableMeta a JSON file
// describing the exchange is written next to it.
func RawExchangeExporter(baseDir string, enableMeta bool) core.OnDownloadHandler {
	e := &rawExchangeExporter{
		BaseDir:    baseDir,
		EnableMeta: enableMeta,
	}
	return func(f *core.File) {
		if err := e.onDownload(f); err != nil {
			log.Printf("ERROR: failed to export exchange: %s %s: %s", f.Path, f.Range, err)
		}
	}
}

type rawExchangeExporter struct {
	BaseDir    string
	EnableMeta bool
}

func (e *rawExchangeExporter) onDownload(f *core.File) error {
	p := e.resolvePath(f)
	if err := file.WriteAtomic(p, f.Raw); err != nil {
		return err
	}
	if e.EnableMeta {
		if err := e.exportMeta(p+"-meta.json", f); err != nil {
			return err
		}
	}
	return nil
}

// resolvePath names a file after the endpoint and, for ranged requests, the
// offset, e.g. "data-65536-20240102-150405.000.raw".
func (e *rawExchangeExporter) resolvePath(f *core.File) string {
	name := strings.Trim(f.Path, "/")
	if name == "" {
		name = "data"
	}
	name = strings.ReplaceAll(name, "/", "_")
	if f.Range != "" {
		name = fmt.Sprintf("%s-%d", name, f.Offset)
	}
	name += f.RequestTimestamp.Format("-20060102-150405.000") + ".raw"
	dir := f.FetchID
	if dir == "" {
		dir = "unknown"
	}
	return filepath.Join(e.BaseDir, dir, name)
}

func (e *rawExchangeExporter) exportMeta(path string, f *core.File) error {
	w, err := file.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(f.Meta)
}
