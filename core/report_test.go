package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity(t *testing.T) {
	assert.Equal(t, "INFO", Info.String())
	assert.Equal(t, "WARNING", Warn.String())
	assert.Equal(t, "ERROR", Error.String())

	assert.True(t, Error.WorseThan(Warn))
	assert.False(t, Warn.WorseThan(Warn))
	assert.True(t, Info.BetterThanOrEqual(Info))
	assert.False(t, Error.BetterThanOrEqual(Warn))

	assert.Equal(t, Info, WorstSeverity(Info, Info, Info))
	assert.Equal(t, Warn, WorstSeverity(Info, Warn, Info))
	assert.Equal(t, Error, WorstSeverity(Error, Warn, Info))

	for _, tc := range []struct {
		in       string
		expected Severity
	}{
		{in: "info", expected: Info},
		{in: "WARN", expected: Warn},
		{in: "warning", expected: Warn},
		{in: "error", expected: Error},
	} {
		s, err := ParseSeverity(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, s)
	}
	_, err := ParseSeverity("fatal")
	assert.Error(t, err)

	var s Severity
	require.NoError(t, s.UnmarshalText([]byte("WARNING")))
	assert.Equal(t, Warn, s)
	assert.Error(t, s.UnmarshalText([]byte("warn")))
}

func TestValues(t *testing.T) {
	values := Values{
		"offset": 4,
		"addr":   "127.0.0.1:8080",
		"ranges": []string{"0-4", "4-8"},
	}
	assert.Equal(t, []string{"addr", "offset", "ranges"}, values.Keys())
	assert.Equal(t, "addr=[127.0.0.1:8080] offset=[4] ranges=[[0-4 4-8]]", values.String())
	assert.Equal(t, "", Values{}.String())
}

func TestReports(t *testing.T) {
	reports := Reports{
		{Name: "Resolver", Severity: Info},
		{Name: "Segment", Severity: Info},
		{Name: "Verifier", Severity: Error},
		{Name: "LengthInspector", Severity: Warn},
	}
	assert.Equal(t, Error, reports.WorstSeverity())
	assert.Len(t, reports.Infos(), 2)
	assert.Len(t, reports.Warns(), 1)
	assert.Len(t, reports.Errors(), 1)
	assert.Equal(t, reports[2], reports.Find("Verifier"))
	assert.Nil(t, reports.Find("Throughput"))
	assert.Equal(t, Info, Reports{}.WorstSeverity())
}
