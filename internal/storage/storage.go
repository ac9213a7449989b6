// Package storage is the sqlite persistence layer behind the group registry
// and the payment-intent ledger. All operations are single statements; no
// cross-operation transaction spans registry, ledger, and delivery.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Group is a destination chat registered via the protection portal.
// At most one row exists per ChatID; re-activation refreshes Title/JoinedAt.
type Group struct {
	ChatID       int64
	Title        string
	PortalActive bool
	JoinedAt     time.Time
}

// Payment records a purchase intent, not a confirmed payment.
// Rows are append-only; nothing updates or deletes them.
type Payment struct {
	ID         int64
	TelegramID int64
	AmountUSD  int64
	PlanID     string
	CreatedAt  time.Time
}

// PaymentSummary aggregates intents for operator reporting.
type PaymentSummary struct {
	Count    int
	TotalUSD int64
}

// Store is the persistence API used by the registry, ledger, and digest.
type Store interface {
	UpsertGroup(ctx context.Context, g Group) error
	ListActiveGroups(ctx context.Context) ([]Group, error)
	CountGroups(ctx context.Context) (total, active int, err error)

	AppendPayment(ctx context.Context, p Payment) error
	PaymentSummary(ctx context.Context, since time.Time) (PaymentSummary, error)

	Close() error
}
