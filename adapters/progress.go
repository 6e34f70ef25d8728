package adapters

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/abema/segfetch/core"
	"github.com/schollz/progressbar/v3"
)

// Progress draws a byte counter for payload exchanges. The bar spins until
// the resolver reports an advertised length.
type Progress struct {
	bar *progressbar.ProgressBar
}

func NewProgress(w io.Writer, description string) *Progress {
	return &Progress{
		bar: progressbar.NewOptions64(
			-1,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetDescription(description),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(w)
			}),
		),
	}
}

func (p *Progress) OnDownload() core.OnDownloadHandler {
	return OnDownloadPathFilter(func(f *core.File) {
		if err := p.bar.Add(f.PayloadLength); err != nil {
			log.Printf("WARN: progress: %s", err)
		}
	}, core.DataPath)
}

func (p *Progress) OnReport() core.OnReportHandler {
	return func(reports core.Reports) {
		resolver := reports.Find("Resolver")
		if resolver == nil {
			return
		}
		if length, ok := resolver.Values["length"].(int64); ok {
			p.bar.ChangeMax64(length)
		}
	}
}

// Reset starts over for a new fetch cycle.
func (p *Progress) Reset() {
	p.bar.Reset()
}

func (p *Progress) Finish() error {
	return p.bar.Finish()
}
