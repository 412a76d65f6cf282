// Package kafka moves envelopes between domains over Kafka. Each domain
// consumes exactly one topic, named for it; publishing to a peer means
// producing to the peer's topic. Topic fan-in preserves per-partition
// ordering but the directory does not depend on it: consumers tolerate
// reordered and duplicated deliveries.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"chaindir/pkg/domain"
	dErrors "chaindir/pkg/domain-errors"
)

const topicPrefix = "chaindir.updates."

// Topic names the inbound topic for one domain.
func Topic(dom domain.DomainID) string {
	return fmt.Sprintf("%s%d", topicPrefix, uint64(dom))
}

// Producer publishes envelopes to peer topics. It satisfies the outbound
// transport contract.
type Producer struct {
	client *kgo.Client
}

// NewProducer connects a producer to the given brokers.
func NewProducer(brokers []string) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client}, nil
}

// Send produces one envelope to the destination domain's topic. The
// receiver address keys the record so one peer's messages stay on one
// partition.
func (p *Producer) Send(ctx context.Context, dest domain.DomainID, receiver domain.Address, payload []byte) error {
	rec := &kgo.Record{
		Topic: Topic(dest),
		Key:   receiver[:],
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", rec.Topic, err)
	}
	return nil
}

func (p *Producer) Close() {
	p.client.Close()
}

// EnsureTopic creates the home domain's inbound topic if it does not exist.
func EnsureTopic(ctx context.Context, brokers []string, dom domain.DomainID) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create kafka admin client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, 1, 1, nil, Topic(dom))
	if err != nil {
		return fmt.Errorf("create topic %s: %w", Topic(dom), err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", Topic(dom), resp.Err)
	}
	return nil
}

// Receiver consumes inbound envelopes.
type Receiver interface {
	Receive(ctx context.Context, raw []byte) error
}

// Consumer drains the home domain's topic into a Receiver.
type Consumer struct {
	client   *kgo.Client
	receiver Receiver
	logger   *slog.Logger
}

type ConsumerOption func(c *Consumer)

func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = logger }
}

// NewConsumer joins the given consumer group on the home domain's topic.
func NewConsumer(brokers []string, home domain.DomainID, group string, receiver Receiver, opts ...ConsumerOption) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(Topic(home)),
		kgo.ConsumerGroup(group),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	c := &Consumer{client: client, receiver: receiver}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run polls until the context is cancelled. Every record is handed to the
// receiver; a failing record is logged and skipped rather than wedging the
// partition, since the merge guard makes redelivered state convergent.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if c.logger != nil {
				c.logger.ErrorContext(ctx, "kafka fetch error",
					"topic", topic, "partition", partition, "error", err)
			}
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			if err := c.receiver.Receive(ctx, rec.Value); err != nil {
				c.logRejected(ctx, rec, err)
			}
		})
	}
}

func (c *Consumer) logRejected(ctx context.Context, rec *kgo.Record, err error) {
	if c.logger == nil {
		return
	}
	if dErrors.HasCode(err, dErrors.CodeStaleUpdate) {
		c.logger.DebugContext(ctx, "dropped stale update",
			"topic", rec.Topic, "offset", rec.Offset)
		return
	}
	c.logger.WarnContext(ctx, "inbound message not applied",
		"topic", rec.Topic, "offset", rec.Offset, "error", err)
}

func (c *Consumer) Close() {
	c.client.Close()
}
