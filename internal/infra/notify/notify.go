// Package notify adapts port.Notifier to the process log.
package notify

import (
	"context"
	"sync"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/port"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the structured log and keeps the
// latest few per user so the UI can poll them.
type LogNotifier struct {
	logger *zap.Logger
	keep   int

	mu     sync.Mutex
	recent map[string][]port.Notification
}

// NewLogNotifier creates a notifier retaining up to keep messages per user.
func NewLogNotifier(logger *zap.Logger, keep int) *LogNotifier {
	if keep <= 0 {
		keep = 10
	}
	return &LogNotifier{
		logger: logger,
		keep:   keep,
		recent: make(map[string][]port.Notification),
	}
}

// Notify implements port.Notifier.
func (n *LogNotifier) Notify(_ context.Context, msg port.Notification) {
	fields := []zap.Field{
		zap.String("user_id", msg.UserID),
		zap.String("title", msg.Title),
		zap.String("message", msg.Message),
	}
	if msg.Level == "error" {
		n.logger.Warn("notification", fields...)
	} else {
		n.logger.Info("notification", fields...)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	list := append(n.recent[msg.UserID], msg)
	if len(list) > n.keep {
		list = list[len(list)-n.keep:]
	}
	n.recent[msg.UserID] = list
}

// Drain returns and forgets the pending notifications of userID, oldest first.
func (n *LogNotifier) Drain(userID string) []port.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := n.recent[userID]
	delete(n.recent, userID)
	return list
}

// Forget drops everything kept for userID.
func (n *LogNotifier) Forget(userID string) {
	n.mu.Lock()
	delete(n.recent, userID)
	n.mu.Unlock()
}
