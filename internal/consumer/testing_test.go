package consumer

import (
	"context"
	"sync"

	"github.com/Shopify/sarama"
)

type testConsumerGroupClaim struct {
	topic       string
	messageChan chan *sarama.ConsumerMessage
}

var _ sarama.ConsumerGroupClaim = (*testConsumerGroupClaim)(nil)

func (t testConsumerGroupClaim) Topic() string { return t.topic }

func (t testConsumerGroupClaim) Partition() int32 { return 0 }

func (t testConsumerGroupClaim) InitialOffset() int64 { return 0 }

func (t testConsumerGroupClaim) HighWaterMarkOffset() int64 { return 0 }

func (t testConsumerGroupClaim) Messages() <-chan *sarama.ConsumerMessage {
	return t.messageChan
}

type testConsumerGroupSession struct {
	ctx context.Context

	mu      sync.Mutex
	marked  []int64
	commits int
}

var _ sarama.ConsumerGroupSession = (*testConsumerGroupSession)(nil)

func newTestSession(ctx context.Context) *testConsumerGroupSession {
	return &testConsumerGroupSession{ctx: ctx}
}

func (t *testConsumerGroupSession) Claims() map[string][]int32 { return nil }

func (t *testConsumerGroupSession) MemberID() string { return "member-1" }

func (t *testConsumerGroupSession) GenerationID() int32 { return 1 }

func (t *testConsumerGroupSession) MarkOffset(string, int32, int64, string) {}

func (t *testConsumerGroupSession) ResetOffset(string, int32, int64, string) {}

func (t *testConsumerGroupSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marked = append(t.marked, msg.Offset)
}

func (t *testConsumerGroupSession) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commits++
}

func (t *testConsumerGroupSession) Context() context.Context { return t.ctx }

func (t *testConsumerGroupSession) Marked() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.marked...)
}

func (t *testConsumerGroupSession) Commits() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commits
}

// testConsumerGroup sets up the handler once, then blocks until ctx is done.
type testConsumerGroup struct {
	once   sync.Once
	err    error
	errs   chan error
	closed chan struct{}

	mu       sync.Mutex
	consumed int
}

var _ sarama.ConsumerGroup = (*testConsumerGroup)(nil)

func newTestConsumerGroup(err error) *testConsumerGroup {
	return &testConsumerGroup{err: err, errs: make(chan error), closed: make(chan struct{})}
}

func (t *testConsumerGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	t.mu.Lock()
	t.consumed++
	t.mu.Unlock()

	t.once.Do(func() {
		_ = handler.Setup(newTestSession(ctx))
	})
	if t.err != nil {
		return t.err
	}
	select {
	case <-ctx.Done():
		return nil
	case <-t.closed:
		return sarama.ErrClosedConsumerGroup
	}
}

func (t *testConsumerGroup) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consumed
}

func (t *testConsumerGroup) Errors() <-chan error { return t.errs }

func (t *testConsumerGroup) Close() error {
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	return nil
}

func (t *testConsumerGroup) Pause(map[string][]int32) {}

func (t *testConsumerGroup) Resume(map[string][]int32) {}

func (t *testConsumerGroup) PauseAll() {}

func (t *testConsumerGroup) ResumeAll() {}
