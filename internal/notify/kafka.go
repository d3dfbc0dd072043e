package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"challenge-core/internal/events"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes envelopes as JSON, keyed by account ID so one account's
// events stay ordered within a partition.
type KafkaSink struct {
	w      messageWriter
	topic  string
	log    *zap.Logger
	mu     sync.RWMutex
	closed bool
}

func NewKafkaSink(cfg KafkaConfig, log *zap.Logger) *KafkaSink {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newKafkaSink(w, cfg.Topic, log)
}

func newKafkaSink(w messageWriter, topic string, log *zap.Logger) *KafkaSink {
	return &KafkaSink{w: w, topic: topic, log: log.Named("kafka")}
}

func (k *KafkaSink) Send(ctx context.Context, env events.Envelope) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return errors.New("kafka sink is closed")
	}

	body, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	msg := kafka.Message{
		Key:   []byte(env.AccountID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(env.Type)},
		},
		Time: env.At,
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s to %s", env.Type, k.topic)
	}
	k.log.Debug("published", zap.String("type", string(env.Type)), zap.String("account_id", env.AccountID))
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *KafkaSink) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.w.Close()
}
