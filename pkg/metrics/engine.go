package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "matchcore"

var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_commands_total",
		Help:      "Commands applied by market actors.",
	}, []string{"market", "type"})

	RejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_rejects_total",
		Help:      "Rejected commands by reason.",
	}, []string{"market", "reason"})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_executions_total",
		Help:      "Execution records produced (two per fill).",
	}, []string{"market"})

	ExecutedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_executed_volume",
		Help:      "Base size executed, counted on the taker side.",
	}, []string{"market"})

	MailboxFullTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_mailbox_full_total",
		Help:      "Commands refused because the actor mailbox was full.",
	}, []string{"market"})

	BatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "engine_batch_size",
		Help:      "Commands drained per actor batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1 ~ 512
	}, []string{"market"})

	ApplyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "engine_apply_duration_seconds",
		Help:      "Time to apply one batch to the book, outbox flush included.",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16), // 10us ~ 0.3s
	}, []string{"market"})

	WalFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "wal_flush_duration_seconds",
		Help:      "bufio flush + fsync latency.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms ~ 1.6s
	}, []string{"market", "log"})

	WalBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wal_bytes_total",
		Help:      "Bytes made durable per log.",
	}, []string{"market", "log"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_events_published_total",
		Help:      "Events moved from the outbox to the event bus.",
	}, []string{"market"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_events_dropped_total",
		Help:      "Events dropped by non-blocking publish on a full bus.",
	}, []string{"market"})

	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_total",
		Help:      "Book snapshots written.",
	}, []string{"market", "status"})

	BrokerPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broker_publish_total",
		Help:      "Messages forwarded to the downstream broker.",
	}, []string{"broker", "topic", "status"})

	RateLimitBlockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_block_total",
		Help:      "Total number of rate limit blocks.",
	}, []string{"route"})

	GoroutinePanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "goroutine_panics_total",
		Help:      "Panics recovered by safe.Go.",
	}, []string{"goroutine"})
)

var (
	KlineTradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "kline_trades_total",
		Help:      "Taker executions offered to the kline aggregator.",
	}, []string{"status"}) // ok / dropped

	KlineBarsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "kline_bars_total",
		Help:      "Bars closed by the kline aggregator.",
	}, []string{"tf"})
)
