package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	blocks  prometheus.Counter
	records prometheus.Counter
	height  prometheus.Gauge
}

// newMetrics регистрирует метрики сканера; с nil-реестром они просто не видны снаружи.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		blocks: f.NewCounter(prometheus.CounterOpts{
			Name: "avail_scanner_blocks_total",
			Help: "Blocks scanned and committed",
		}),
		records: f.NewCounter(prometheus.CounterOpts{
			Name: "avail_scanner_records_total",
			Help: "Owned records stored by the scanner",
		}),
		height: f.NewGauge(prometheus.GaugeOpts{
			Name: "avail_scanner_height",
			Help: "Next block height to scan",
		}),
	}
}
