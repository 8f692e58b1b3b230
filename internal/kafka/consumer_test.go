package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"go.viam.com/test"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx context.Context

	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context   { return s.ctx }
func (s *fakeSession) Claims() map[string][]int32 { return map[string][]int32{"session-commands": {0}} }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, m.Offset)
}

func (s *fakeSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	records chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.records }

// fakeGroup serves its records in the first session, then idles until the
// context is done.
type fakeGroup struct {
	sarama.ConsumerGroup
	records []*sarama.ConsumerMessage

	mu      sync.Mutex
	calls   int
	session *fakeSession
	closed  bool
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if !first {
		<-ctx.Done()
		return ctx.Err()
	}

	sess := &fakeSession{ctx: ctx}
	g.mu.Lock()
	g.session = sess
	g.mu.Unlock()

	claim := &fakeClaim{records: make(chan *sarama.ConsumerMessage, len(g.records))}
	for _, r := range g.records {
		claim.records <- r
	}
	close(claim.records)

	if err := handler.Setup(sess); err != nil {
		return err
	}
	defer handler.Cleanup(sess)
	return handler.ConsumeClaim(sess, claim)
}

func (g *fakeGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *fakeGroup) currentSession() *fakeSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

func receive(t *testing.T, c *Consumer) (Message, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		return msg, ok
	case <-time.After(5 * time.Second):
		t.Fatal("no message")
	}
	return Message{}, false
}

func TestConsumerHandsOverAndAcks(t *testing.T) {
	group := &fakeGroup{records: []*sarama.ConsumerMessage{
		{Key: []byte("cam-1"), Value: []byte(`{"session_id":"cam-1","action":"start"}`), Partition: 2, Offset: 41},
		{Key: []byte("cam-1"), Value: []byte(`{"session_id":"cam-1","action":"stop"}`), Partition: 2, Offset: 42},
	}}
	c := newConsumer(group, "session-commands", zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartListening(ctx)

	first, ok := receive(t, c)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, first.Key, test.ShouldEqual, "cam-1")
	test.That(t, first.Partition, test.ShouldEqual, int32(2))
	test.That(t, first.Offset, test.ShouldEqual, int64(41))
	test.That(t, string(first.Value), test.ShouldContainSubstring, `"start"`)

	// not acknowledged until handled
	test.That(t, group.currentSession().markedOffsets(), test.ShouldBeEmpty)
	first.Ack()
	test.That(t, group.currentSession().markedOffsets(), test.ShouldResemble, []int64{41})

	second, ok := receive(t, c)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, second.Offset, test.ShouldEqual, int64(42))

	cancel()
	_, ok = receive(t, c)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, group.currentSession().markedOffsets(), test.ShouldResemble, []int64{41})
}

func TestConsumerClose(t *testing.T) {
	group := &fakeGroup{}
	c := newConsumer(group, "session-commands", zap.NewNop().Sugar())
	test.That(t, c.Close(), test.ShouldBeNil)
	test.That(t, group.closed, test.ShouldBeTrue)
}

func TestAckWithoutSession(t *testing.T) {
	// messages built outside a group session, e.g. in tests, are a no-op to ack
	Message{Value: []byte("{}")}.Ack()
}
