// Package notify delivers terminal outcomes to the user.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hisab-network/hisab/internal/domain"
)

// LogNotifier writes notices through slog at a level matching their
// severity. It is the default sink for CLI use.
type LogNotifier struct{}

var _ domain.Notifier = (*LogNotifier)(nil)

// Notify logs one notice.
func (LogNotifier) Notify(_ context.Context, n domain.Notice) {
	switch n.Severity {
	case domain.SeverityError:
		slog.Error(n.Title, "detail", n.Description)
	case domain.SeverityWarning:
		slog.Warn(n.Title, "detail", n.Description)
	default:
		slog.Info(n.Title, "detail", n.Description)
	}
}

// Recorder captures notices for assertions in tests.
type Recorder struct {
	mu      sync.Mutex
	notices []domain.Notice
}

var _ domain.Notifier = (*Recorder)(nil)

// Notify records the notice.
func (r *Recorder) Notify(_ context.Context, n domain.Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []domain.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Notice, len(r.notices))
	copy(out, r.notices)
	return out
}
