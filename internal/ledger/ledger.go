// Package ledger records purchase intents. Entries are append-only and
// record intent, not confirmed payment; confirmation is a human-in-the-loop
// step outside this core.
package ledger

import (
	"context"
	"time"

	"safeguard/internal/storage"
	"safeguard/pkg/logx"
)

type Service struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

func New(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Record appends one purchase-intent entry. Best-effort telemetry: a store
// failure is logged and swallowed; the invoice is shown to the user either way.
func (s *Service) Record(ctx context.Context, requesterID int64, planID string, amountUSD int64) {
	err := s.store.AppendPayment(ctx, storage.Payment{
		TelegramID: requesterID,
		AmountUSD:  amountUSD,
		PlanID:     planID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.Warn("purchase intent not persisted",
			logx.Int64("requester_id", requesterID),
			logx.String("plan_id", planID),
			logx.Err(err),
		)
	}
}

// Summary aggregates intents recorded at or after since. The bot's own flows
// never read the ledger back; this serves operator reporting only.
func (s *Service) Summary(ctx context.Context, since time.Time) (storage.PaymentSummary, error) {
	return s.store.PaymentSummary(ctx, since)
}
