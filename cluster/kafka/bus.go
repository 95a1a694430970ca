// Package kafka carries region changes over a Kafka topic using
// confluent-kafka-go. Messages are keyed by region so the changes of one
// region stay ordered within a partition.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/regioncache/cluster"
)

type Bus struct {
	config *Config
	logger *zap.Logger

	p *kafka.Producer

	mu        sync.Mutex
	consumers []*kafka.Consumer

	wg     sync.WaitGroup
	done   chan struct{}
	closed atomic.Bool
}

var _ cluster.Bus = (*Bus)(nil)

// New builds the producer. Consumers are created per Subscribe call.
func New(config *Config) (*Bus, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	producer, err := kafka.NewProducer(config.ProducerConfigMap())
	if err != nil {
		return nil, ErrConnection(err)
	}

	b := &Bus{
		config: config,
		logger: log,
		p:      producer,
		done:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.handleProducerEvents()

	log.Info("kafka bus initialized",
		zap.Strings("brokers", config.Brokers),
		zap.String("topic", config.Topic),
		zap.String("group_id", config.groupID()),
	)
	return b, nil
}

// handleProducerEvents drains producer-level events; delivery reports go to
// the per-message channel in Publish.
func (b *Bus) handleProducerEvents() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case e, ok := <-b.p.Events():
			if !ok {
				return
			}
			switch ev := e.(type) {
			case kafka.Error:
				b.logger.Error("kafka producer error",
					zap.Int("code", int(ev.Code())),
					zap.String("error", ev.String()),
				)
			default:
				b.logger.Debug("received unknown event", zap.String("type", fmt.Sprintf("%T", ev)))
			}
		}
	}
}

// Publish waits for the broker's delivery report.
func (b *Bus) Publish(ctx context.Context, m cluster.Message) error {
	if b.closed.Load() {
		return cluster.ErrClosed
	}
	raw, err := cluster.Marshal(m)
	if err != nil {
		return err
	}
	topic := b.config.Topic
	delivery := make(chan kafka.Event, 1)
	if err := b.p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(m.Region),
		Value:          raw,
	}, delivery); err != nil {
		return err
	}

	timer := time.NewTimer(b.config.PublishTimeout)
	defer timer.Stop()
	select {
	case e := <-delivery:
		if km, ok := e.(*kafka.Message); ok && km.TopicPartition.Error != nil {
			return ErrDelivery(km.TopicPartition.Error)
		}
		return nil
	case <-timer.C:
		return ErrDelivery(context.DeadlineExceeded)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe starts a consumer in this node's group and returns once the
// consume loop runs.
func (b *Bus) Subscribe(_ context.Context, h cluster.Handler) error {
	if b.closed.Load() {
		return cluster.ErrClosed
	}
	consumer, err := kafka.NewConsumer(b.config.ConsumerConfigMap())
	if err != nil {
		return ErrConnection(err)
	}
	if err := consumer.SubscribeTopics([]string{b.config.Topic}, nil); err != nil {
		_ = consumer.Close()
		return ErrSubscribe(b.config.Topic, err)
	}

	b.mu.Lock()
	b.consumers = append(b.consumers, consumer)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consumeLoop(consumer, h)
	return nil
}

func (b *Bus) consumeLoop(c *kafka.Consumer, h cluster.Handler) {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		default:
		}

		km, err := c.ReadMessage(b.config.PollTimeout)
		if err != nil {
			if kerr, ok := err.(kafka.Error); ok && kerr.IsTimeout() {
				continue
			}
			b.logger.Error("kafka consumer error", zap.Error(err))
			if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrAllBrokersDown {
				return
			}
			continue
		}

		m, err := cluster.Unmarshal(km.Value)
		if err != nil {
			b.logger.Warn("dropping undecodable message",
				zap.Int32("partition", km.TopicPartition.Partition),
				zap.Int64("offset", int64(km.TopicPartition.Offset)),
				zap.Error(err),
			)
			continue
		}
		if err := h(context.Background(), m); err != nil {
			b.logger.Error("kafka bus handler failed",
				zap.String("region", m.Region),
				zap.Stringer("kind", m.Kind),
				zap.Error(err),
			)
		}
	}
}

func (b *Bus) Close(context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.done)
	b.wg.Wait()

	b.mu.Lock()
	consumers := b.consumers
	b.consumers = nil
	b.mu.Unlock()
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			b.logger.Warn("kafka consumer close failed", zap.Error(err))
		}
	}

	if remaining := b.p.Flush(10000); remaining > 0 {
		b.logger.Warn("producer flushed messages before shutdown", zap.Int("remaining", remaining))
	}
	b.p.Close()
	b.logger.Info("kafka bus closed")
	return nil
}
