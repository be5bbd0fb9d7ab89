package broker

import (
	"context"
	"strings"
)

// topic 形如 trades:BTC-USD，各实现按自己的命名规则转换
type Message struct {
	Topic   string
	Payload []byte
}

type Broker interface {
	// publish
	Publish(ctx context.Context, topic string, payload []byte) error
	// 订阅，ctx 结束时关闭返回的 channel
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	// 关闭
	Close() error
}

const (
	TopicTrades = "trades"
	TopicOrders = "orders"
)

// Topic 拼接 kind:BASE-QUOTE
func Topic(kind, marketKey string) string { return kind + ":" + marketKey }

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
func subjectToTopic(subj string) string  { return strings.ReplaceAll(subj, ".", ":") }
