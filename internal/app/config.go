package app

import (
	"matchcore.com/internal/api"
	"matchcore.com/internal/broker"
	"matchcore.com/internal/kline"
	"matchcore.com/internal/stream"
	"matchcore.com/pkg/ratelimit"
	"matchcore.com/pkg/trace"
)

type Cfg struct {
	Name    string     `yaml:"name" mapstructure:"name"`
	Log     LogCfg     `yaml:"log" mapstructure:"log"`
	HTTP    HTTPCfg    `yaml:"http" mapstructure:"http"`
	Metrics MetricsCfg `yaml:"metrics" mapstructure:"metrics"`
	Engine  EngineCfg  `yaml:"engine" mapstructure:"engine"`
	Broker  BrokerCfg  `yaml:"broker" mapstructure:"broker"`
	Quotes  QuotesCfg  `yaml:"quotes" mapstructure:"quotes"`
	// endpoint 为空不开链路追踪
	Trace trace.Config `yaml:"trace" mapstructure:"trace"`
	// 启动时注册的交易对，例如 BTC/USD；配置热更新时新增的会自动注册
	Markets []string `yaml:"markets" mapstructure:"markets"`
}

type LogCfg struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"` // 空：logs/{name}.log，"-"：只写控制台
}

type HTTPCfg struct {
	Addr string      `yaml:"addr" mapstructure:"addr"`
	API  api.Options `yaml:"api" mapstructure:"api"`
}

type MetricsCfg struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // 空表示不单独起 /metrics
}

type EngineCfg struct {
	WALDir          string `yaml:"wal_dir" mapstructure:"wal_dir"`
	CmdWAL          bool   `yaml:"cmd_wal" mapstructure:"cmd_wal"`
	Outbox          bool   `yaml:"outbox" mapstructure:"outbox"`
	Publisher       bool   `yaml:"publisher" mapstructure:"publisher"`
	PublisherPollMs int    `yaml:"publisher_poll_ms" mapstructure:"publisher_poll_ms"`
	Codec           string `yaml:"codec" mapstructure:"codec"` // binary（默认）| json
	EventBusSize    int    `yaml:"event_bus_size" mapstructure:"event_bus_size"`
	MailboxSize     int    `yaml:"mailbox_size" mapstructure:"mailbox_size"`
	BatchMax        int    `yaml:"batch_max" mapstructure:"batch_max"`
	SnapshotDir     string `yaml:"snapshot_dir" mapstructure:"snapshot_dir"` // pebble 目录，空表示不做快照
	SnapshotEvery   uint64 `yaml:"snapshot_every" mapstructure:"snapshot_every"`
}

type BrokerCfg struct {
	Type    string             `yaml:"type" mapstructure:"type"` // mem（默认）| nats | kafka
	NatsURL string             `yaml:"nats_url" mapstructure:"nats_url"`
	Kafka   broker.KafkaConfig `yaml:"kafka" mapstructure:"kafka"`

	// 按 topic 熔断，broker 持续失败时直接丢弃不再等超时
	Breaker ratelimit.BreakerRule `yaml:"breaker" mapstructure:"breaker"`
}

// QuotesCfg 进程内行情：成交 -> K 线聚合 -> websocket 推送
type QuotesCfg struct {
	Enabled bool                   `yaml:"enabled" mapstructure:"enabled"`
	WSPath  string                 `yaml:"ws_path" mapstructure:"ws_path"` // 默认 /ws
	Kline   kline.ShardedAggConfig `yaml:"kline" mapstructure:"kline"`
	WS      stream.Options         `yaml:"ws" mapstructure:"ws"`
}
