package inspectors

import (
	"github.com/abema/segfetch/core"
)

// NewLengthInspector returns LengthInspector.
// It compares the payload size with the length advertised by the metadata
// endpoint. A short payload is what a stalled or truncated stream leaves.
func NewLengthInspector() core.Inspector {
	return &lengthInspector{}
}

type lengthInspector struct{}

func (ins *lengthInspector) Inspect(result *core.Result) *core.Report {
	if result.Metadata == nil || !result.Metadata.HasLength() {
		return &core.Report{
			Name:     "LengthInspector",
			Severity: core.Info,
			Message:  "no length advertised",
			Values:   core.Values{"bytes": len(result.Payload)},
		}
	}
	size := int64(len(result.Payload))
	values := core.Values{
		"bytes":  size,
		"length": result.Metadata.Length,
	}
	switch {
	case size < result.Metadata.Length:
		values["missing"] = result.Metadata.Length - size
		return &core.Report{
			Name:     "LengthInspector",
			Severity: core.Warn,
			Message:  "payload is shorter than advertised",
			Values:   values,
		}
	case size > result.Metadata.Length:
		return &core.Report{
			Name:     "LengthInspector",
			Severity: core.Error,
			Message:  "payload is longer than advertised",
			Values:   values,
		}
	}
	return &core.Report{
		Name:     "LengthInspector",
		Severity: core.Info,
		Message:  "good",
		Values:   values,
	}
}
