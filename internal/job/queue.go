package job

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	xerrors "contract-deployer/internal/errors"
)

// Message 是队列中传递的作业信封。
// NotBefore 非零时，消费者在该时间之前不会处理消息，用于重试退避。
type Message struct {
	JobID      string    `json:"job_id"`
	Attempt    int       `json:"attempt,omitempty"`
	NotBefore  time.Time `json:"not_before,omitzero"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewMessage 为新提交的作业构造信封。
func NewMessage(jobID string) Message {
	return Message{JobID: jobID, EnqueuedAt: time.Now().UTC()}
}

// Delay 返回距离 NotBefore 还需等待的时长。
func (m Message) Delay(now time.Time) time.Duration {
	if m.NotBefore.IsZero() {
		return 0
	}
	if d := m.NotBefore.Sub(now); d > 0 {
		return d
	}
	return 0
}

func encodeMessage(msg Message) ([]byte, error) {
	if strings.TrimSpace(msg.JobID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "队列消息缺少 job_id")
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	return json.Marshal(msg)
}

// decodeMessage 兼容旧版本只写入作业 ID 的纯文本消息。
func decodeMessage(body []byte) (Message, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return Message{}, xerrors.New(xerrors.CodeQueueFailure, "队列消息为空")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Message{JobID: trimmed}, nil
	}
	var msg Message
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return Message{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "解析队列消息失败")
	}
	if msg.JobID == "" {
		return Message{}, xerrors.New(xerrors.CodeQueueFailure, "队列消息缺少 job_id")
	}
	return msg, nil
}

// waitUntilDue 阻塞到消息可处理，ctx 结束时返回 false。
func waitUntilDue(ctx context.Context, msg Message) bool {
	delay := msg.Delay(time.Now())
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Handler 处理一条出队的作业消息。
type Handler func(ctx context.Context, msg Message) error

// Producer 负责向队列投递作业。
type Producer interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer 负责从队列中消费作业。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
