package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WSConns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_conns",
		Help:      "Active websocket connections.",
	})
	WSConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_conn_close_total",
		Help:      "Websocket connections closed, by close code and reason.",
	}, []string{"code", "reason"})

	WSSubOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_sub_ops_total",
		Help:      "Subscription operations.",
	}, []string{"op"}) // sub / unsub / bad

	WSMsgsOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_msgs_out_total",
		Help:      "Logical messages written to websocket clients.",
	})
	WSBytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_bytes_out_total",
		Help:      "Bytes written to websocket clients.",
	})
	WSWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_write_errors_total",
		Help:      "Websocket write errors.",
	})
	WSPingErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_ping_errors_total",
		Help:      "Ping send errors.",
	})

	WSWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ws_write_duration_seconds",
		Help:      "Duration of a websocket write batch.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms ~ 4s
	})
	WSBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ws_batch_size",
		Help:      "Messages per websocket write batch.",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})
)

func WSOnOpen() { WSConns.Inc() }

func WSOnClose(code int, reason string) {
	WSConns.Dec()
	WSConnCloseTotal.WithLabelValues(strconv.Itoa(code), reason).Inc()
}

func WSObserveWrite(batchN int, bytes int, dur time.Duration, err error) {
	if batchN > 0 {
		WSMsgsOutTotal.Add(float64(batchN))
		WSBatchSize.Observe(float64(batchN))
	}
	if bytes > 0 {
		WSBytesOutTotal.Add(float64(bytes))
	}
	WSWriteDuration.Observe(dur.Seconds())
	if err != nil {
		WSWriteErrorsTotal.Inc()
	}
}
