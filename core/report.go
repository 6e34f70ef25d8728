package core

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Severity int

const (
	Info Severity = iota
	Warn
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Warn:
		return "WARNING"
	case Error:
		return "ERROR"
	}
	return ""
}

func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "info":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	}
	return 0, fmt.Errorf("unknown severity: %q", s)
}

func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case Info.String():
		*s = Info
	case Warn.String():
		*s = Warn
	case Error.String():
		*s = Error
	default:
		return errors.New("unknown severity")
	}
	return nil
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Severity) WorseThan(o Severity) bool {
	return s > o
}

func (s Severity) BetterThanOrEqual(o Severity) bool {
	return s <= o
}

func WorstSeverity(ss ...Severity) Severity {
	worst := Info
	for _, s := range ss {
		if s.WorseThan(worst) {
			worst = s
		}
	}
	return worst
}

type Values map[string]interface{}

func (values Values) Keys() []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (values Values) String() string {
	buf := bytes.NewBuffer(nil)
	for _, key := range values.Keys() {
		if buf.Len() != 0 {
			buf.WriteString(" ")
		}
		fmt.Fprintf(buf, "%s=[%v]", key, values[key])
	}
	return string(buf.Bytes())
}

type Report struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Values   Values   `json:"values"`
}

type Reports []*Report

func (reports Reports) WorstSeverity() Severity {
	var worst Severity
	for _, report := range reports {
		worst = WorstSeverity(worst, report.Severity)
	}
	return worst
}

func (reports Reports) Infos() Reports {
	return reports.only(Info)
}

func (reports Reports) Warns() Reports {
	return reports.only(Warn)
}

func (reports Reports) Errors() Reports {
	return reports.only(Error)
}

func (reports Reports) only(severity Severity) Reports {
	filtered := make(Reports, 0, len(reports))
	for _, report := range reports {
		if report.Severity == severity {
			filtered = append(filtered, report)
		}
	}
	return filtered
}

// Find returns the first report with the given name.
func (reports Reports) Find(name string) *Report {
	for _, report := range reports {
		if report.Name == name {
			return report
		}
	}
	return nil
}
