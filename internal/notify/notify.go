// Package notify delivers user and operator messages off the request path.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/observability"
	"go.uber.org/zap"
)

// Message is addressed to a Telegram chat id (users and operators alike).
type Message struct {
	ChatID int64
	Text   string
}

// Sink accepts messages without blocking. Enqueue returns false when the
// message was dropped.
type Sink interface {
	Enqueue(msg Message) bool
}

// Sender performs the actual delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Queue is a bounded, fire-and-forget Sink drained by a single goroutine.
type Queue struct {
	sender  Sender
	ch      chan Message
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	started sync.Once
	done    chan struct{}
}

func NewQueue(sender Sender, size int, timeout time.Duration) *Queue {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Queue{
		sender:  sender,
		ch:      make(chan Message, size),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Enqueue implements Sink. Messages without a chat are ignored.
func (q *Queue) Enqueue(msg Message) bool {
	if msg.ChatID == 0 || msg.Text == "" {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		observability.IncrementNotification("dropped")
		return false
	}
	select {
	case q.ch <- msg:
		return true
	default:
		observability.IncrementNotification("dropped")
		zap.L().Warn("notification queue full, dropping message", zap.Int64("chat_id", msg.ChatID))
		return false
	}
}

// Run starts the dispatcher and returns a stop function that drains what is
// already queued.
func (q *Queue) Run(ctx context.Context) func() {
	q.started.Do(func() {
		go q.loop(ctx)
	})
	return q.stop
}

func (q *Queue) stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)
	for msg := range q.ch {
		q.deliver(context.WithoutCancel(ctx), msg)
	}
}

func (q *Queue) deliver(ctx context.Context, msg Message) {
	callCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if err := q.sender.Send(callCtx, msg); err != nil {
		observability.IncrementNotification("failed")
		zap.L().Warn("notification delivery failed", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
		return
	}
	observability.IncrementNotification("sent")
}

// LogSender writes messages to the log. It is used when no bot token is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	zap.L().Info("notification", zap.Int64("chat_id", msg.ChatID), zap.String("text", msg.Text))
	return nil
}
