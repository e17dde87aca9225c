// ABOUTME: Interval poller feeding the unread badge shown while the chat surface is closed
// ABOUTME: Independent of the live session; shares the process-wide connection rules

package unread

import (
	"context"
	"log/slog"
	"time"
)

// defaultBadgeInterval is how often the badge refreshes its count.
const defaultBadgeInterval = 30 * time.Second

// UnreadCounter is the server-side unread count contract.
type UnreadCounter interface {
	GetUnreadCount(ctx context.Context, customerID int64) (int, error)
}

// BadgePoller fetches the customer's unread count on a fixed interval so
// an unread indicator can show even when the chat surface is closed.
// Fetch failures are logged and skipped; the badge keeps its last value.
type BadgePoller struct {
	api        UnreadCounter
	customerID int64
	interval   time.Duration
	onUpdate   func(count int)
	logger     *slog.Logger
}

// NewBadgePoller creates a poller for one customer. onUpdate is invoked
// with each successfully fetched count. Pass interval <= 0 for the default.
func NewBadgePoller(api UnreadCounter, customerID int64, interval time.Duration, onUpdate func(int), logger *slog.Logger) *BadgePoller {
	if interval <= 0 {
		interval = defaultBadgeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgePoller{
		api:        api,
		customerID: customerID,
		interval:   interval,
		onUpdate:   onUpdate,
		logger:     logger.With("component", "badge"),
	}
}

// Run polls until ctx is cancelled. The first fetch happens immediately.
func (p *BadgePoller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *BadgePoller) poll(ctx context.Context) {
	count, err := p.api.GetUnreadCount(ctx, p.customerID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("unread poll failed", "customer_id", p.customerID, "err", err)
		}
		return
	}
	if p.onUpdate != nil {
		p.onUpdate(count)
	}
}
