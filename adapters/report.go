package adapters

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/abema/segfetch/core"
	"github.com/abema/segfetch/internal/file"
	"gopkg.in/natefinch/lumberjack.v2"
)

type AlarmConfig struct {
	OnAlarm                       core.OnReportHandler
	OnRecover                     core.OnReportHandler
	Window                        int
	AlarmIfErrorGreaterThanEqual  int
	RecoverIfInfoGreaterThanEqual int
}

// Alarm watches the outcome of consecutive fetch cycles. Progress reports
// emitted in the middle of a cycle are not counted.
func Alarm(config *AlarmConfig) core.OnReportHandler {
	history := make([]core.Severity, 0, config.Window+1)
	var alarm bool
	return func(reports core.Reports) {
		if !isOutcome(reports) {
			return
		}
		history = append(history, reports.WorstSeverity())
		if len(history) > config.Window {
			history = history[1:]
		}
		var infoCnt, errCnt int
		for _, hist := range history {
			switch hist {
			case core.Info:
				infoCnt++
			case core.Error:
				errCnt++
			}
		}
		if errCnt >= config.AlarmIfErrorGreaterThanEqual {
			if !alarm {
				config.OnAlarm(reports)
				alarm = true
			}
		} else if infoCnt >= config.RecoverIfInfoGreaterThanEqual {
			if alarm {
				config.OnRecover(reports)
				alarm = false
			}
		}
	}
}

// isOutcome reports whether reports close a fetch cycle: either the payload
// was verified or something failed.
func isOutcome(reports core.Reports) bool {
	return reports.Find("Verifier") != nil || len(reports.Errors()) != 0
}

type ReportLogConfig struct {
	// Flag is log flag defined standard log package.
	// When JSON option is true, this option is ignored.
	Flag int
	// Summary represents whether to output summary line.
	// When JSON option is true, this option is ignored.
	Summary  bool
	JSON     bool
	Severity core.Severity
}

func ReportLogger(config *ReportLogConfig, w io.Writer) core.OnReportHandler {
	return func(reports core.Reports) {
		writeReport(config, w, reports)
	}
}

func FileReportLogger(config *ReportLogConfig, name string) core.OnReportHandler {
	return func(reports core.Reports) {
		file, err := file.Append(name)
		if err != nil {
			log.Printf("ERROR: failed to open log file: %s: %s", name, err)
			return
		}
		defer file.Close()
		writeReport(config, file, reports)
	}
}

type RotateConfig struct {
	Filename string
	// MaxSize is the size in megabytes a log file reaches before rotation.
	MaxSize    int
	MaxBackups int
	// MaxAge is the number of days rotated files are kept.
	MaxAge   int
	Compress bool
}

// RotatingReportLogger writes reports to a size-rotated file. Close the
// returned io.Closer when done.
func RotatingReportLogger(config *ReportLogConfig, rotate *RotateConfig) (core.OnReportHandler, io.Closer) {
	w := &lumberjack.Logger{
		Filename:   rotate.Filename,
		MaxSize:    rotate.MaxSize,
		MaxBackups: rotate.MaxBackups,
		MaxAge:     rotate.MaxAge,
		Compress:   rotate.Compress,
	}
	var mutex sync.Mutex
	return func(reports core.Reports) {
		mutex.Lock()
		defer mutex.Unlock()
		writeReport(config, w, reports)
	}, w
}

func writeReport(config *ReportLogConfig, w io.Writer, reports core.Reports) {
	if config.JSON {
		writeReportJSON(config, w, reports)
	} else {
		writeReportDefault(config, w, reports)
	}
}

func writeReportDefault(config *ReportLogConfig, w io.Writer, reports core.Reports) {
	logger := log.New(w, "", config.Flag)
	if config.Summary {
		severity := reports.WorstSeverity()
		if config.Severity <= severity {
			logger.Printf("%s: Summary info=%d warn=%d error=%d", severity, len(reports.Infos()), len(reports.Warns()), len(reports.Errors()))
		}
	}
	for _, severity := range []core.Severity{core.Error, core.Warn, core.Info} {
		if !config.Severity.BetterThanOrEqual(severity) {
			continue
		}
		for _, report := range reports {
			if report.Severity == severity {
				logger.Printf("%s: %s: %s: %s", severity, report.Name, report.Message, report.Values)
			}
		}
	}
}

func writeReportJSON(config *ReportLogConfig, w io.Writer, reports core.Reports) {
	severity := reports.WorstSeverity()
	if config.Severity > severity {
		return
	}
	entry := map[string]interface{}{
		"reports":  reports,
		"severity": severity.String(),
		"time":     time.Now().Format(time.RFC3339),
	}
	for _, report := range reports {
		if id, ok := report.Values["fetch"]; ok {
			entry["fetch"] = id
			break
		}
	}
	if err := json.NewEncoder(w).Encode(entry); err != nil {
		log.Printf("ERROR: failed to write report: %s", err)
	}
}
