package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/abema/segfetch/internal/thread"
	"github.com/google/uuid"
)

// Result is the outcome of one fetch cycle.
type Result struct {
	ID       string
	Mode     Mode
	Metadata *Metadata
	Payload  []byte
	// Verified is false only when the payload was received in full according
	// to the framing rules but its digest differs from the advertised one.
	Verified  bool
	Exchanges []*Meta
	Started   time.Time
	Elapsed   time.Duration
}

type Fetcher interface {
	Fetch(ctx context.Context) (*Result, error)
}

type fetcher struct {
	config *Config
}

func NewFetcher(config *Config) Fetcher {
	return &fetcher{config: config}
}

// Fetch runs one fetch cycle: resolve metadata, download the payload with the
// configured strategy and verify it. On a digest mismatch the result is
// returned along with ErrDigestMismatch.
func (f *fetcher) Fetch(ctx context.Context) (*Result, error) {
	if err := f.config.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	result := &Result{
		ID:      uuid.NewString(),
		Mode:    f.config.Mode,
		Started: time.Now(),
	}
	client := newClient(f.config.Target, f.config.DialTimeout, func(file *File) {
		file.FetchID = result.ID
		meta := file.Meta
		result.Exchanges = append(result.Exchanges, &meta)
		if f.config.OnDownload != nil {
			f.config.OnDownload(file)
		}
	})
	config := *f.config
	config.OnReport = f.tag(result.ID, f.config.OnReport)

	metadata, err := newResolver(client, config.Mode == ModeStream).Resolve(ctx)
	if err != nil {
		f.onError(&config, "Resolver", "failed to resolve metadata", err)
		return nil, err
	}
	result.Metadata = metadata
	f.onReport(&config, Reports{{
		Name:     "Resolver",
		Severity: Info,
		Message:  "metadata resolved",
		Values:   metadataValues(metadata),
	}})

	payload, err := newStrategy(&config, client).Fetch(ctx, metadata)
	if err != nil {
		f.onError(&config, fmt.Sprintf("%sStrategy", modeName(config.Mode)), "failed to download payload", err)
		return nil, err
	}
	result.Payload = payload
	result.Elapsed = time.Since(result.Started)
	result.Verified = Verify(payload, metadata.Digest)

	reports := f.inspect(result)
	if !result.Verified {
		err = fmt.Errorf("%w: got %s, want %s (%d bytes)", ErrDigestMismatch, Digest(payload), metadata.Digest, len(payload))
		reports = append(reports, &Report{
			Name:     "Verifier",
			Severity: Error,
			Message:  "digest mismatch",
			Values: Values{
				"expected": metadata.Digest,
				"actual":   Digest(payload),
				"bytes":    len(payload),
			},
		})
	} else {
		reports = append(reports, &Report{
			Name:     "Verifier",
			Severity: Info,
			Message:  "payload verified",
			Values: Values{
				"bytes":   len(payload),
				"elapsed": result.Elapsed.Round(time.Millisecond),
			},
		})
	}
	f.onReport(&config, reports)
	return result, err
}

func (f *fetcher) inspect(result *Result) Reports {
	reports := make(Reports, 0, len(f.config.Inspectors))
	for _, inspector := range f.config.Inspectors {
		var report *Report
		err := thread.NoPanic(func() error {
			report = inspector.Inspect(result)
			return nil
		})()
		if err != nil {
			report = &Report{
				Name:     "Fetcher",
				Severity: Error,
				Message:  "inspector panicked",
				Values:   Values{"error": err.Error()},
			}
		}
		if report != nil {
			reports = append(reports, report)
		}
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Name < reports[j].Name
	})
	return reports
}

// tag stamps every report with the fetch cycle ID.
func (f *fetcher) tag(id string, handler OnReportHandler) OnReportHandler {
	if handler == nil {
		return nil
	}
	return func(reports Reports) {
		for _, report := range reports {
			if report.Values == nil {
				report.Values = Values{}
			}
			report.Values["fetch"] = id
		}
		handler(reports)
	}
}

func (f *fetcher) onError(config *Config, name, msg string, err error) {
	f.onReport(config, Reports{{
		Name:     name,
		Severity: Error,
		Message:  msg,
		Values: Values{
			"error": err.Error(),
		},
	}})
}

func (f *fetcher) onReport(config *Config, reports Reports) {
	if config.OnReport != nil {
		config.OnReport(reports)
	}
}

func metadataValues(metadata *Metadata) Values {
	values := Values{"sha256": metadata.Digest}
	if metadata.HasLength() {
		values["length"] = metadata.Length
	}
	return values
}

func modeName(mode Mode) string {
	switch mode {
	case ModeRanged:
		return "Ranged"
	case ModeStream:
		return "Stream"
	}
	return "Whole"
}
