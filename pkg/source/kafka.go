package source

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/fluxorio/kvpipe/pkg/core"
)

// KafkaConfig configures a consumer group reading one topic
type KafkaConfig struct {
	Brokers []string
	Group   string
	Topic   string
}

// Kafka submits the value of every record on a topic. Offsets are marked
// only once every line of the record was accepted by the pool.
type Kafka struct {
	group   sarama.ConsumerGroup
	topic   string
	handler *KafkaHandler
	logger  core.Logger
}

func NewKafka(cfg KafkaConfig, sub Submitter, logger core.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Group == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers, group and topic are required")
	}
	if logger == nil {
		logger = core.NewNopLogger()
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest

	cg, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.Group, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}
	return NewKafkaWithGroup(cg, cfg.Topic, sub, logger), nil
}

// NewKafkaWithGroup wraps an existing consumer group
func NewKafkaWithGroup(group sarama.ConsumerGroup, topic string, sub Submitter, logger core.Logger) *Kafka {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &Kafka{
		group:   group,
		topic:   topic,
		handler: &KafkaHandler{sub: sub, logger: logger},
		logger:  logger,
	}
}

func (k *Kafka) Name() string { return "kafka:" + k.topic }

// Run consumes until ctx is done or the pool stops accepting input
func (k *Kafka) Run(ctx context.Context) error {
	defer func() { _ = k.group.Close() }()

	k.logger.Infof("%s: consuming", k.Name())
	for ctx.Err() == nil {
		err := k.group.Consume(ctx, []string{k.topic}, k.handler)
		switch {
		case err == nil:
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case stopped(err):
			k.logger.Warnf("%s: pool closed, stopping", k.Name())
			return nil
		default:
			k.logger.Warnf("%s: consume: %v", k.Name(), err)
			select {
			case <-ctx.Done():
			case <-time.After(300 * time.Millisecond):
			}
		}
		if k.handler.closed() {
			return nil
		}
	}
	return nil
}

// KafkaHandler is the sarama.ConsumerGroupHandler behind Kafka
type KafkaHandler struct {
	sub     Submitter
	logger  core.Logger
	stopped atomic.Bool
}

var _ sarama.ConsumerGroupHandler = (*KafkaHandler)(nil)

func (h *KafkaHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *KafkaHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *KafkaHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		batch, err := SubmitLines(h.sub, msg.Value)
		if err != nil {
			if stopped(err) {
				h.stopped.Store(true)
				return err
			}
			// not marked: redelivered after the next rebalance
			h.logger.Warnf("kafka %s/%d@%d: accepted %d lines then: %v",
				msg.Topic, msg.Partition, msg.Offset, batch.Count, err)
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

func (h *KafkaHandler) closed() bool { return h.stopped.Load() }
