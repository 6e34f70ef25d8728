package adapters

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abema/segfetch/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlarm(t *testing.T) {
	var a int
	var r int
	handler := Alarm(&AlarmConfig{
		OnAlarm: func(reports core.Reports) {
			a++
		},
		OnRecover: func(reports core.Reports) {
			r++
		},
		Window:                        5,
		AlarmIfErrorGreaterThanEqual:  3,
		RecoverIfInfoGreaterThanEqual: 4,
	})
	verified := core.Reports{{Name: "Verifier", Severity: core.Info}}
	mismatch := core.Reports{{Name: "Verifier", Severity: core.Error}}
	timeout := core.Reports{{Name: "RangedStrategy", Severity: core.Error}}
	progress := core.Reports{{Name: "RangedStrategy", Severity: core.Info}}

	handler(mismatch)
	handler(verified)
	handler(verified)
	handler(timeout)
	handler(verified)
	handler(mismatch)
	require.Equal(t, 0, a)
	// mid-cycle reports do not move the window
	handler(progress)
	handler(progress)
	require.Equal(t, 0, a)
	handler(timeout)
	require.Equal(t, 1, a)
	handler(core.Reports{{Name: "LengthInspector", Severity: core.Warn}, {Name: "Verifier", Severity: core.Info}})
	handler(verified)
	handler(verified)
	handler(verified)
	require.Equal(t, 0, r)
	require.Equal(t, 1, a)
	handler(verified)
	require.Equal(t, 1, r)
	require.Equal(t, 1, a)
	handler(verified)
	require.Equal(t, 1, r)
	require.Equal(t, 1, a)
}

func testReports() core.Reports {
	return core.Reports{
		{
			Name: "r1", Severity: core.Info, Message: "Report 1", Values: core.Values{
				"int": 1, "string": "foo", "fetch": "f0",
			},
		}, {
			Name: "r2", Severity: core.Warn, Message: "Report 2", Values: core.Values{
				"int": 2, "string": "bar",
			},
		}, {
			Name: "r3", Severity: core.Error, Message: "Report 3", Values: core.Values{
				"int": 3, "string": "baz",
			},
		},
	}
}

func TestReportLogger(t *testing.T) {
	w := bytes.NewBuffer(nil)
	ReportLogger(&ReportLogConfig{
		JSON: true,
	}, w)(testReports())
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Bytes(), &out))
	assert.Len(t, out["reports"], 3)
	r1 := out["reports"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{
		"name":     "r1",
		"severity": "INFO",
		"message":  "Report 1",
		"values":   map[string]interface{}{"int": float64(1), "string": "foo", "fetch": "f0"},
	}, r1)
	assert.Equal(t, "ERROR", out["severity"])
	assert.Equal(t, "f0", out["fetch"])
}

func TestReportLoggerSeverity(t *testing.T) {
	w := bytes.NewBuffer(nil)
	ReportLogger(&ReportLogConfig{
		JSON:     true,
		Severity: core.Error,
	}, w)(testReports()[:2])
	assert.Empty(t, w.String())

	ReportLogger(&ReportLogConfig{
		Severity: core.Warn,
	}, w)(testReports())
	assert.Equal(t, "ERROR: r3: Report 3: int=[3] string=[baz]\n"+
		"WARNING: r2: Report 2: int=[2] string=[bar]\n", w.String())
}

func TestFileReportLogger(t *testing.T) {
	name := filepath.Join(t.TempDir(), "logs", "test.log")
	FileReportLogger(&ReportLogConfig{
		Summary: true,
	}, name)(testReports()[:2])
	b, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "WARNING: Summary info=1 warn=1 error=0\n"+
		"WARNING: r2: Report 2: int=[2] string=[bar]\n"+
		"INFO: r1: Report 1: fetch=[f0] int=[1] string=[foo]\n", string(b))
}

func TestRotatingReportLogger(t *testing.T) {
	name := filepath.Join(t.TempDir(), "rotate.log")
	handler, closer := RotatingReportLogger(&ReportLogConfig{}, &RotateConfig{
		Filename: name,
		MaxSize:  1,
	})
	handler(testReports())
	handler(testReports())
	require.NoError(t, closer.Close())
	b, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(b), "ERROR: r3: Report 3"))
	assert.Equal(t, 6, strings.Count(string(b), "\n"))
}
