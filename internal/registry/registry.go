// Package registry maintains the durable set of destination groups that
// activated the protection portal.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"safeguard/internal/storage"
	"safeguard/pkg/logx"
)

// ErrUnavailable is returned by ListActive when the backing store cannot be
// read. Callers must report it distinctly instead of treating it as an empty
// registry.
var ErrUnavailable = errors.New("registry store unavailable")

// Destination is a registered chat endpoint that may receive campaigns.
type Destination struct {
	ChatID   int64
	Title    string
	JoinedAt time.Time
}

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

// Register activates (or re-activates) a destination. Upsert semantics:
// repeated calls with the same chat id refresh title and join time without
// duplicating the row.
//
// Best-effort: a store failure is logged and swallowed so the user-facing
// portal flow is never blocked on persistence.
func (s *Service) Register(ctx context.Context, chatID int64, title string) {
	err := s.store.UpsertGroup(ctx, storage.Group{
		ChatID:       chatID,
		Title:        title,
		PortalActive: true,
		JoinedAt:     s.now(),
	})
	if err != nil {
		s.log.Warn("group registration not persisted",
			logx.Int64("chat_id", chatID),
			logx.Err(err),
		)
	}
}

// ListActive returns a point-in-time snapshot of every active destination.
// Registrations that land after the snapshot is taken are not part of it.
func (s *Service) ListActive(ctx context.Context) ([]Destination, error) {
	groups, err := s.store.ListActiveGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	out := make([]Destination, 0, len(groups))
	for _, g := range groups {
		out = append(out, Destination{ChatID: g.ChatID, Title: g.Title, JoinedAt: g.JoinedAt})
	}
	return out, nil
}

// Counts reports total and active registrations for operator digests.
func (s *Service) Counts(ctx context.Context) (total, active int, err error) {
	total, active, err = s.store.CountGroups(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return total, active, nil
}
