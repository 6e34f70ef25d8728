package adapters

import (
	"strconv"

	"github.com/abema/segfetch/core"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics turns exchanges and reports into Prometheus collectors.
type Metrics struct {
	Exchanges     *prometheus.CounterVec
	ReceivedBytes *prometheus.CounterVec
	ExchangeTime  *prometheus.HistogramVec
	Reports       *prometheus.CounterVec
	Cycles        *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchanges_total",
				Help:      "Count of request/response exchanges by path and status code.",
			},
			[]string{"path", "code"},
		),
		ReceivedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "received_bytes_total",
				Help:      "Bytes read off the wire, header included.",
			},
			[]string{"path"},
		),
		ExchangeTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "exchange_duration_seconds",
				Help:      "Time from dialing to the end of the response.",
			},
			[]string{"path"},
		),
		Reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_total",
				Help:      "Count of reports by name and severity.",
			},
			[]string{"name", "severity"},
		),
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_cycles_total",
				Help:      "Count of finished fetch cycles by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Exchanges, m.ReceivedBytes, m.ExchangeTime, m.Reports, m.Cycles} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) OnDownload() core.OnDownloadHandler {
	return func(f *core.File) {
		m.Exchanges.WithLabelValues(f.Path, strconv.Itoa(f.StatusCode)).Inc()
		m.ReceivedBytes.WithLabelValues(f.Path).Add(float64(len(f.Raw)))
		m.ExchangeTime.WithLabelValues(f.Path).Observe(f.DownloadTime.Seconds())
	}
}

func (m *Metrics) OnReport() core.OnReportHandler {
	return func(reports core.Reports) {
		for _, report := range reports {
			m.Reports.WithLabelValues(report.Name, report.Severity.String()).Inc()
		}
		if !isOutcome(reports) {
			return
		}
		if reports.WorstSeverity() == core.Error {
			m.Cycles.WithLabelValues("failure").Inc()
		} else {
			m.Cycles.WithLabelValues("success").Inc()
		}
	}
}
