// Package dispatch keeps the inbound message stream alive and feeds it to
// the dialog handler one message at a time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhouzirui/z-tavern/relaybot/internal/model/chat"
)

// DefaultRetryDelay is the fixed wait after a failed poll.
const DefaultRetryDelay = 5 * time.Second

// Poller fetches the next batch of inbound messages starting at offset and
// returns the offset to use for the following call.
type Poller interface {
	Poll(ctx context.Context, offset int64) ([]chat.Inbound, int64, error)
}

// MessageHandler processes one inbound message to completion.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg chat.Inbound) error
}

// Stats is a snapshot of the loop state.
type Stats struct {
	Running     bool      `json:"running"`
	Restarts    int       `json:"restarts"`
	Offset      int64     `json:"offset"`
	Handled     int64     `json:"handled"`
	LastPollAt  time.Time `json:"lastPollAt,omitzero"`
	LastError   string    `json:"lastError,omitempty"`
	LastErrorAt time.Time `json:"lastErrorAt,omitzero"`
}

// Loop runs the long-poll cycle and restarts it after a fixed delay when it
// fails.
type Loop struct {
	poller     Poller
	handler    MessageHandler
	retryDelay time.Duration
	logger     *slog.Logger

	after func(time.Duration) <-chan time.Time

	mu    sync.Mutex
	stats Stats
}

// New builds a Loop. A non-positive retryDelay falls back to
// DefaultRetryDelay.
func New(poller Poller, handler MessageHandler, retryDelay time.Duration, logger *slog.Logger) *Loop {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		poller:     poller,
		handler:    handler,
		retryDelay: retryDelay,
		logger:     logger.With("component", "dispatch"),
		after:      time.After,
	}
}

// Run polls until ctx is cancelled. Any failure inside a cycle, panics
// included, is logged and the cycle restarts after the retry delay unless
// shutdown has begun. Run returns nil on shutdown.
func (l *Loop) Run(ctx context.Context) error {
	if l.poller == nil || l.handler == nil {
		return errors.New("dispatch: poller and handler are required")
	}

	l.setRunning(true)
	defer l.setRunning(false)

	l.logger.Info("dispatch loop started", "retry_delay", l.retryDelay)
	for {
		err := l.cycle(ctx)
		if ctx.Err() != nil {
			l.logger.Info("dispatch loop stopped", "offset", l.offset())
			return nil
		}

		restarts := l.recordFailure(err)
		l.logger.Error("polling failed, restarting", "error", err, "restarts", restarts, "retry_in", l.retryDelay)

		select {
		case <-ctx.Done():
			l.logger.Info("dispatch loop stopped", "offset", l.offset())
			return nil
		case <-l.after(l.retryDelay):
		}
	}
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Loop) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		messages, next, err := l.poller.Poll(ctx, l.offset())
		if err != nil {
			return err
		}
		l.recordPoll(next)

		for _, msg := range messages {
			if err := l.handler.HandleMessage(ctx, msg); err != nil {
				l.logger.Error("failed to handle message", "chat_id", msg.ChatID, "message_id", msg.MessageID, "error", err)
			}
			l.recordHandled()
		}
	}
}

func (l *Loop) offset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.Offset
}

func (l *Loop) setRunning(running bool) {
	l.mu.Lock()
	l.stats.Running = running
	l.mu.Unlock()
}

func (l *Loop) recordPoll(next int64) {
	l.mu.Lock()
	if next > l.stats.Offset {
		l.stats.Offset = next
	}
	l.stats.LastPollAt = time.Now()
	l.mu.Unlock()
}

func (l *Loop) recordHandled() {
	l.mu.Lock()
	l.stats.Handled++
	l.mu.Unlock()
}

func (l *Loop) recordFailure(err error) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Restarts++
	l.stats.LastError = err.Error()
	l.stats.LastErrorAt = time.Now()
	return l.stats.Restarts
}
