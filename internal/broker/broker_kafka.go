package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"matchcore.com/pkg/logger"
	"matchcore.com/pkg/safe"
)

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

// KafkaBroker 每条消息用 market key 做分区 key，同一 market 的事件保序
type KafkaBroker struct {
	cfg    KafkaConfig
	writer *kafka.Writer
}

func NewKafkaBroker(cfg KafkaConfig) *KafkaBroker {
	return &KafkaBroker{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			Async:                  false,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

// kafka topic 不允许冒号
func kafkaTopic(topic string) string { return topicToSubject(topic) }

func messageKey(topic string) []byte {
	if i := strings.IndexByte(topic, ':'); i >= 0 {
		return []byte(topic[i+1:])
	}
	return []byte(topic)
}

func (b *KafkaBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: kafkaTopic(topic),
		Key:   messageKey(topic),
		Value: payload,
	})
}

func (b *KafkaBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	if len(b.cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	out := make(chan Message, 8192)
	readers := make([]*kafka.Reader, 0, len(topics))
	for _, t := range topics {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  b.cfg.Brokers,
			GroupID:  b.cfg.GroupID,
			Topic:    kafkaTopic(t),
			MinBytes: 1,
			MaxBytes: 10e6,
		}))
	}

	done := make(chan struct{}, len(readers))
	for _, r := range readers {
		r := r
		safe.GoNamed("kafka-reader:"+r.Config().Topic, func() {
			defer func() { done <- struct{}{} }()
			defer r.Close()
			for {
				m, err := r.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						logger.Warn(ctx, "kafka read failed", zap.String("topic", r.Config().Topic), zap.Error(err))
					}
					return
				}
				select {
				case out <- Message{Topic: subjectToTopic(m.Topic), Payload: m.Value}:
				case <-ctx.Done():
					return
				}
			}
		})
	}

	safe.GoNamed("kafka-subscribe-close", func() {
		for range readers {
			<-done
		}
		close(out)
	})
	return out, nil
}

func (b *KafkaBroker) Close() error { return b.writer.Close() }
