package inspectors

import (
	"time"

	"github.com/abema/segfetch/core"
	"github.com/abema/segfetch/inspectors/internal"
	"github.com/dustin/go-humanize"
)

type ThroughputInspectorConfig struct {
	// Interval is the window the rate is measured over. Zero means the whole
	// fetch cycle.
	Interval time.Duration
	// Warn and Error are minimum rates in bytes per second. Zero disables the
	// check.
	Warn  float64
	Error float64
	// MinBytes skips payloads too small for a meaningful rate.
	MinBytes int64
}

func DefaultThroughputInspectorConfig() *ThroughputInspectorConfig {
	return &ThroughputInspectorConfig{
		Interval: 10 * time.Second,
		Warn:     64 * 1024,
		Error:    4 * 1024,
		MinBytes: 1024 * 1024,
	}
}

// NewThroughputInspector returns ThroughputInspector.
// It inspects how fast payload bytes arrived during the fetch cycle.
func NewThroughputInspector() core.Inspector {
	return NewThroughputInspectorWithConfig(DefaultThroughputInspectorConfig())
}

func NewThroughputInspectorWithConfig(config *ThroughputInspectorConfig) core.Inspector {
	return &throughputInspector{config: config}
}

type throughputInspector struct {
	config *ThroughputInspectorConfig
}

func (ins *throughputInspector) Inspect(result *core.Result) *core.Report {
	meter := internal.NewMeter(ins.config.Interval.Seconds())
	var total int64
	for _, ex := range result.Exchanges {
		if ex.Path != core.DataPath {
			continue
		}
		if meter.LatestTimePoint() == nil {
			meter.AddTimePoint(&internal.TimePoint{
				RealTime: seconds(result.Started, ex.RequestTimestamp),
			})
		}
		total += int64(ex.PayloadLength)
		meter.AddTimePoint(&internal.TimePoint{
			RealTime: seconds(result.Started, ex.RequestTimestamp.Add(ex.DownloadTime)),
			Bytes:    total,
		})
	}
	if total < ins.config.MinBytes {
		return &core.Report{
			Name:     "ThroughputInspector",
			Severity: core.Info,
			Message:  "skip small payload",
			Values:   core.Values{"bytes": total},
		}
	}
	if !meter.Satisfied() {
		return &core.Report{
			Name:     "ThroughputInspector",
			Severity: core.Info,
			Message:  "not enough data",
			Values:   core.Values{"bytes": total},
		}
	}
	rate := meter.Rate()
	values := core.Values{
		"rate":  humanize.IBytes(uint64(rate)) + "/s",
		"bytes": humanize.IBytes(uint64(meter.BytesElapsed())),
		"time":  time.Duration(meter.RealTimeElapsed() * float64(time.Second)).Round(time.Millisecond),
	}
	if ins.config.Error != 0 && rate < ins.config.Error {
		return &core.Report{
			Name:     "ThroughputInspector",
			Severity: core.Error,
			Message:  "slow transfer",
			Values:   values,
		}
	} else if ins.config.Warn != 0 && rate < ins.config.Warn {
		return &core.Report{
			Name:     "ThroughputInspector",
			Severity: core.Warn,
			Message:  "slow transfer",
			Values:   values,
		}
	}
	return &core.Report{
		Name:     "ThroughputInspector",
		Severity: core.Info,
		Message:  "good",
		Values:   values,
	}
}

func seconds(origin, t time.Time) float64 {
	return t.Sub(origin).Seconds()
}
