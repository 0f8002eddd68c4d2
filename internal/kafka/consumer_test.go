package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/matchrank/internal/config"
	"github.com/matchrank/internal/domain"
)

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []*sarama.ConsumerMessage
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string           { return "test-member" }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {
}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {
}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg)
}
func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) markedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marked)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "match-results" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

type fakeSubmitter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSubmitter) Submit(_ context.Context, result *domain.GameResult) (*domain.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Ack{MatchID: result.MatchID, AppliedAt: time.Now()}, nil
}

func newTestHandler(sub ResultSubmitter) *consumerGroupHandler {
	cfg := &config.KafkaConfig{
		Topic:         "match-results",
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}
	return &consumerGroupHandler{
		consumer: &Consumer{
			config:    cfg,
			submitter: sub,
			logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
		ready: make(chan bool),
	}
}

func message(t *testing.T, result domain.GameResult) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	return &sarama.ConsumerMessage{Topic: "match-results", Value: data}
}

func testResult() domain.GameResult {
	return domain.GameResult{
		MatchID: "m1",
		Participants: []domain.Participant{
			{ID: "alice", Outcome: domain.OutcomeWin},
			{ID: "bob", Outcome: domain.OutcomeLoss},
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestConsumeClaim_MarksAppliedResult(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newTestHandler(sub)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- message(t, testResult())
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if session.markedCount() != 1 {
		t.Errorf("marked %d messages, want 1", session.markedCount())
	}
}

func TestConsumeClaim_MarksMalformedMessage(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newTestHandler(sub)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "match-results", Value: []byte(`{"match_id": `)}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if session.markedCount() != 1 {
		t.Errorf("marked %d messages, want 1 (malformed messages are dropped)", session.markedCount())
	}
	if sub.calls != 0 {
		t.Errorf("submitter called %d times for a malformed message, want 0", sub.calls)
	}
}

func TestConsumeClaim_MarksInvalidResult(t *testing.T) {
	sub := &fakeSubmitter{err: fmt.Errorf("%w: bad outcome", domain.ErrInvalidResult)}
	h := newTestHandler(sub)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- message(t, testResult())
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if session.markedCount() != 1 {
		t.Errorf("marked %d messages, want 1 (invalid results are dropped)", session.markedCount())
	}
	if sub.calls != 1 {
		t.Errorf("submitter called %d times, want 1 (validation errors are not retried)", sub.calls)
	}
}

func TestConsumeClaim_DoesNotMarkUnappliedResult(t *testing.T) {
	// A backend outage must never advance the partition: the result would be
	// lost for good. The claim is surrendered with the message unmarked so it
	// is redelivered.
	sub := &fakeSubmitter{err: fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)}
	h := newTestHandler(sub)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- message(t, testResult())
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	err := h.ConsumeClaim(session, claim)
	if err == nil {
		t.Fatal("ConsumeClaim should surrender the claim when the backend stays unavailable")
	}
	if session.markedCount() != 0 {
		t.Errorf("marked %d messages, want 0 (unapplied result must be redelivered)", session.markedCount())
	}
	if sub.calls != 3 {
		t.Errorf("submitter called %d times, want 3 (initial attempt plus retry budget)", sub.calls)
	}
}

func TestConsumeClaim_RetriesTransientFailure(t *testing.T) {
	// Fails once with a busy error, then succeeds: the message ends up marked.
	h := newTestHandler(&flakySubmitter{inner: &fakeSubmitter{}, failures: 1})

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- message(t, testResult())
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if session.markedCount() != 1 {
		t.Errorf("marked %d messages, want 1 after successful retry", session.markedCount())
	}
}

// flakySubmitter fails the first n submissions, then delegates.
type flakySubmitter struct {
	inner    *fakeSubmitter
	mu       sync.Mutex
	failures int
}

func (f *flakySubmitter) Submit(ctx context.Context, result *domain.GameResult) (*domain.Ack, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, fmt.Errorf("%w", domain.ErrPlayerBusy)
	}
	f.mu.Unlock()
	return f.inner.Submit(ctx, result)
}
