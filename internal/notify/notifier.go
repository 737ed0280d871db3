// Package notify delivers user-facing notifications. All user-visible
// failures flow through one channel; repeated identical messages coalesce
// into a single visible notification.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/logger"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/metrics"
)

// Level classifies a notification.
type Level string

const (
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Notifier delivers user-facing notifications.
type Notifier interface {
	Notify(ctx context.Context, userID string, level Level, message string)
}

// Sink receives notifications that passed de-duplication.
type Sink interface {
	Deliver(ctx context.Context, userID string, level Level, message string)
}

// Deduper fans notifications out to sinks, coalescing repeats of the same
// user/level/message within a window.
type Deduper struct {
	sinks  []Sink
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewDeduper creates a de-duplicating notifier over the given sinks.
func NewDeduper(window time.Duration, sinks ...Sink) *Deduper {
	return &Deduper{
		sinks:  sinks,
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Notify delivers the message unless an identical one was delivered to the
// same user within the de-duplication window.
func (d *Deduper) Notify(ctx context.Context, userID string, level Level, message string) {
	key := userID + "\x00" + string(level) + "\x00" + message

	d.mu.Lock()
	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		d.mu.Unlock()
		return
	}
	d.seen[key] = now

	// Drop stale entries so the map stays bounded.
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}
	d.mu.Unlock()

	metrics.NotificationsTotal.WithLabelValues(string(level)).Inc()
	for _, sink := range d.sinks {
		sink.Deliver(ctx, userID, level, message)
	}
}

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

// Deliver logs the notification.
func (s *LogSink) Deliver(_ context.Context, userID string, level Level, message string) {
	if level == LevelError {
		s.logger.Warn("user notification", "user_id", userID, "level", level, "message", message)
		return
	}
	s.logger.Info("user notification", "user_id", userID, "level", level, "message", message)
}
