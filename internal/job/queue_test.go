package job

import (
	"context"
	"testing"
	"time"

	xerrors "contract-deployer/internal/errors"
)

func TestDecodeMessage(t *testing.T) {
	enqueued := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	body, err := encodeMessage(Message{JobID: "job-1", Attempt: 2, EnqueuedAt: enqueued})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := decodeMessage(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.JobID != "job-1" || msg.Attempt != 2 || !msg.EnqueuedAt.Equal(enqueued) {
		t.Fatalf("unexpected message %+v", msg)
	}

	legacy, err := decodeMessage([]byte(" job-2\n"))
	if err != nil || legacy.JobID != "job-2" {
		t.Fatalf("plain job id should decode, got %+v %v", legacy, err)
	}

	for _, body := range []string{"", "{", `{"attempt":1}`} {
		if _, err := decodeMessage([]byte(body)); !xerrors.HasCode(err, xerrors.CodeQueueFailure) {
			t.Fatalf("decode %q: expected queue failure, got %v", body, err)
		}
	}
	if _, err := encodeMessage(Message{}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for empty job id, got %v", err)
	}
}

func TestMessageDelay(t *testing.T) {
	now := time.Now()
	if d := (Message{}).Delay(now); d != 0 {
		t.Fatalf("zero NotBefore should not delay, got %s", d)
	}
	if d := (Message{NotBefore: now.Add(-time.Second)}).Delay(now); d != 0 {
		t.Fatalf("past NotBefore should not delay, got %s", d)
	}
	if d := (Message{NotBefore: now.Add(time.Second)}).Delay(now); d != time.Second {
		t.Fatalf("expected 1s delay, got %s", d)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 10 * time.Second}
	cases := map[int]time.Duration{0: 0, 1: 2 * time.Second, 2: 4 * time.Second, 3: 8 * time.Second, 4: 10 * time.Second, 30: 10 * time.Second}
	for attempt, want := range cases {
		if got := b.Delay(attempt); got != want {
			t.Fatalf("attempt %d: want %s, got %s", attempt, want, got)
		}
	}
	if got := (Backoff{}).Delay(3); got != 0 {
		t.Fatalf("zero backoff should retry immediately, got %s", got)
	}
}

func TestRetryMessageCarriesBackoff(t *testing.T) {
	p := NewProcessor(nil, nil, nil, nil, WithRetryBackoff(time.Second, time.Minute))
	msg := p.retryMessage(&Job{ID: "job-1", Attempts: 2})
	if msg.JobID != "job-1" || msg.Attempt != 2 {
		t.Fatalf("unexpected retry message %+v", msg)
	}
	if got := msg.NotBefore.Sub(msg.EnqueuedAt); got != 2*time.Second {
		t.Fatalf("expected 2s backoff, got %s", got)
	}
}

func TestMemoryQueueDelaysMessages(t *testing.T) {
	queue := NewMemoryQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	delayed := Message{JobID: "later", NotBefore: start.Add(50 * time.Millisecond)}
	if err := queue.Publish(ctx, delayed); err != nil {
		t.Fatalf("publish delayed: %v", err)
	}
	if err := queue.Publish(ctx, NewMessage("now")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	received := make(chan Message, 2)
	go func() {
		_ = queue.Consume(ctx, 1, func(_ context.Context, msg Message) error {
			received <- msg
			return nil
		})
	}()

	first := <-received
	if first.JobID != "now" {
		t.Fatalf("ready message should arrive first, got %s", first.JobID)
	}
	second := <-received
	if second.JobID != "later" {
		t.Fatalf("expected delayed message, got %s", second.JobID)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("delayed message delivered after %s", elapsed)
	}
}

func TestMemoryQueueClosed(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	err := queue.Publish(context.Background(), NewMessage("job"))
	if !xerrors.HasCode(err, xerrors.CodeQueueFailure) {
		t.Fatalf("expected queue failure after close, got %v", err)
	}
	if err := queue.Publish(context.Background(), Message{}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestMemoryQueuePublishBlocksUntilContextDone(t *testing.T) {
	queue := NewMemoryQueue(1)
	defer queue.Close()
	if err := queue.Publish(context.Background(), NewMessage("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := queue.Publish(ctx, NewMessage("b")); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded on full queue, got %v", err)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected 1 ready message, got %d", queue.Len())
	}
}
