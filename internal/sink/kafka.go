package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/Shopify/sarama"
)

// Kafka mirrors payloads onto a Kafka topic.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	once     sync.Once
}

// NewKafka connects a synchronous producer to brokers.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaWithProducer(producer, topic), nil
}

func NewKafkaWithProducer(producer sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic}
}

// Send publishes one payload.
func (k *Kafka) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{Topic: k.topic, Value: sarama.ByteEncoder(payload)}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (k *Kafka) Close(context.Context) error {
	return k.Abort()
}

func (k *Kafka) Abort() error {
	var err error
	k.once.Do(func() { err = k.producer.Close() })
	return err
}
