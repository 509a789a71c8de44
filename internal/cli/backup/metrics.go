package backup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	pushed    prometheus.Counter
	recovered prometheus.Counter
	messages  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		pushed: f.NewCounter(prometheus.CounterOpts{
			Name: "avail_backup_rows_pushed_total",
			Help: "Rows uploaded to the backup server",
		}),
		recovered: f.NewCounter(prometheus.CounterOpts{
			Name: "avail_backup_rows_recovered_total",
			Help: "Rows restored from the backup server",
		}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "avail_backup_messages_total",
			Help: "Incoming transfer messages by result",
		}, []string{"result"}),
	}
}
