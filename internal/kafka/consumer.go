package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const rejoinDelay = 5 * time.Second

// Message is one record from the command topic. The offset is committed only
// once Ack is called, so a command that failed is redelivered after a
// rebalance.
type Message struct {
	Key       string
	Value     []byte
	Partition int32
	Offset    int64

	session sarama.ConsumerGroupSession
	record  *sarama.ConsumerMessage
}

func (m Message) Ack() {
	if m.session != nil {
		m.session.MarkMessage(m.record, "")
	}
}

// Consumer joins a consumer group on one topic and hands records over
// through an unbuffered channel, one at a time.
type Consumer struct {
	group    sarama.ConsumerGroup
	topic    string
	messages chan Message
	closed   chan struct{}
	logger   *zap.SugaredLogger
}

func NewConsumer(brokers []string, groupID, topic string, logger *zap.SugaredLogger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, errors.Wrapf(err, "join consumer group %s", groupID)
	}
	return newConsumer(group, topic, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, topic string, logger *zap.SugaredLogger) *Consumer {
	return &Consumer{
		group:    group,
		topic:    topic,
		messages: make(chan Message),
		closed:   make(chan struct{}),
		logger:   logger.Named("consumer").With("topic", topic),
	}
}

// StartListening consumes in the background until ctx is done. The group is
// rejoined after every rebalance or error. Messages is closed on return.
func (c *Consumer) StartListening(ctx context.Context) {
	handler := &claimHandler{messages: c.messages, closed: c.closed, logger: c.logger}

	go func() {
		defer close(c.messages)
		for ctx.Err() == nil {
			err := c.group.Consume(ctx, []string{c.topic}, handler)
			if ctx.Err() != nil {
				break
			}
			if err == nil {
				c.logger.Debug("group rebalanced, rejoining")
				continue
			}
			c.logger.Warnw("consume error", "error", err, "retry_in", rejoinDelay)
			select {
			case <-ctx.Done():
			case <-c.closed:
				return
			case <-time.After(rejoinDelay):
			}
		}
		c.logger.Info("context cancelled, stopping")
	}()
}

func (c *Consumer) Close() error {
	close(c.closed)
	return errors.Wrap(c.group.Close(), "close consumer group")
}

func (c *Consumer) Messages() <-chan Message {
	return c.messages
}

type claimHandler struct {
	messages chan<- Message
	closed   <-chan struct{}
	logger   *zap.SugaredLogger
}

func (h *claimHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Debugw("claims assigned", "claims", sess.Claims(), "generation", sess.GenerationID())
	return nil
}

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim blocks on each hand-over so the next record is not read
// before the previous one was taken.
func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case record, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			msg := Message{
				Key:       string(record.Key),
				Value:     record.Value,
				Partition: record.Partition,
				Offset:    record.Offset,
				session:   sess,
				record:    record,
			}
			select {
			case h.messages <- msg:
			case <-sess.Context().Done():
				return nil
			case <-h.closed:
				return nil
			}
		case <-sess.Context().Done():
			return nil
		case <-h.closed:
			return nil
		}
	}
}
