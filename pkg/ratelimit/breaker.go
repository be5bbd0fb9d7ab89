package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerRule 熔断规则，字段为零值时用默认值
type BreakerRule struct {
	// Half-Open 状态允许通过的探测请求数
	MaxRequests uint32 `yaml:"max_requests" mapstructure:"max_requests"`
	// Closed 状态计数窗口
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// >0 启用滚动窗口
	BucketPeriod time.Duration `yaml:"bucket_period" mapstructure:"bucket_period"`
	// Open 状态持续时间，到期进入 Half-Open
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// 触发熔断条件，满足其一即可
	TripConsecutiveFailures uint32  `yaml:"trip_consecutive_failures" mapstructure:"trip_consecutive_failures"`
	TripFailureRate         float64 `yaml:"trip_failure_rate" mapstructure:"trip_failure_rate"`
	TripMinRequests         uint32  `yaml:"trip_min_requests" mapstructure:"trip_min_requests"`
}

func (r BreakerRule) withDefaults() BreakerRule {
	if r.MaxRequests == 0 {
		r.MaxRequests = 1
	}
	if r.Timeout <= 0 {
		r.Timeout = 5 * time.Second
	}
	if r.Interval <= 0 {
		r.Interval = 10 * time.Second
	}
	if r.TripConsecutiveFailures == 0 && r.TripFailureRate == 0 {
		r.TripConsecutiveFailures = 5
	}
	if r.TripMinRequests == 0 {
		r.TripMinRequests = 20
	}
	return r
}

// Breakers 每个 key（broker topic）一个熔断器，懒创建
type Breakers struct {
	mu    sync.RWMutex
	m     map[string]*gobreaker.CircuitBreaker[struct{}]
	def   BreakerRule
	rules map[string]BreakerRule

	// OnStateChange 可选，状态切换时回调（打日志）
	OnStateChange func(key string, from, to gobreaker.State)
}

func NewBreakers(def BreakerRule, perKey map[string]BreakerRule) *Breakers {
	return &Breakers{
		m:     make(map[string]*gobreaker.CircuitBreaker[struct{}], 16),
		def:   def.withDefaults(),
		rules: perKey,
	}
}

func (b *Breakers) Get(key string) *gobreaker.CircuitBreaker[struct{}] {
	b.mu.RLock()
	cb := b.m[key]
	b.mu.RUnlock()
	if cb != nil {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb = b.m[key]; cb != nil {
		return cb
	}

	rule := b.def
	if r, ok := b.rules[key]; ok {
		rule = r.withDefaults()
	}
	st := gobreaker.Settings{
		Name:         key,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				return float64(c.TotalFailures)/float64(c.Requests) >= rule.TripFailureRate
			}
			return false
		},
		IsSuccessful: isSuccessfulForBreaker,
	}
	if hook := b.OnStateChange; hook != nil {
		st.OnStateChange = func(name string, from, to gobreaker.State) { hook(name, from, to) }
	}
	cb = gobreaker.NewCircuitBreaker[struct{}](st)
	b.m[key] = cb
	return cb
}

// Do 经熔断器执行 fn；熔断中直接返回 gobreaker.ErrOpenState / ErrTooManyRequests
func (b *Breakers) Do(key string, fn func() error) error {
	_, err := b.Get(key).Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// IsOpen 请求是被熔断器挡掉的，没有到下游
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// 调用方自己取消的不算下游故障
func isSuccessfulForBreaker(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
