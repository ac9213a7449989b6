// Package digest sends the operator a periodic activity summary: how many
// groups are registered and what purchase intent the last day produced.
package digest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"safeguard/internal/ledger"
	"safeguard/internal/registry"
	"safeguard/internal/transport"
	"safeguard/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string // cron expression, default daily at 09:00
	Timezone string // IANA name, default UTC
}

// Notifier delivers the rendered digest to the operator chat.
type Notifier interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Service struct {
	log      logx.Logger
	registry *registry.Service
	ledger   *ledger.Service
	notifier Notifier

	mu         sync.Mutex
	operatorID int64
	cr         *cron.Cron
}

func New(reg *registry.Service, led *ledger.Service, n Notifier, operatorID int64, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:        log,
		registry:   reg,
		ledger:     led,
		notifier:   n,
		operatorID: operatorID,
	}
}

// SetOperator updates the digest recipient on config reload.
func (s *Service) SetOperator(id int64) {
	s.mu.Lock()
	s.operatorID = id
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	spec := cfg.Schedule
	if spec == "" {
		spec = "0 9 * * *"
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("digest timezone: %w", err)
		}
		loc = l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cr != nil {
		return nil
	}
	cr := cron.New(cron.WithLocation(loc))
	if _, err := cr.AddFunc(spec, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("digest schedule %q: %w", spec, err)
	}
	cr.Start()
	s.cr = cr
	s.log.Info("digest scheduled", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	cr := s.cr
	s.cr = nil
	s.mu.Unlock()
	if cr == nil {
		return
	}
	<-cr.Stop().Done()
}

func (s *Service) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	text, err := s.Render(ctx)
	if err != nil {
		s.log.Warn("digest skipped", logx.Err(err))
		return
	}

	s.mu.Lock()
	op := s.operatorID
	s.mu.Unlock()

	_, err = s.notifier.SendText(ctx, transport.ChatTarget{ChatID: op}, text, &transport.SendOptions{ParseMode: "Markdown"})
	if err != nil {
		s.log.Warn("digest not delivered", logx.Err(err))
		return
	}
	s.log.Info("digest delivered", logx.Int64("operator_id", op))
}

// Render builds the digest body from the registry and the last 24h of the
// ledger.
func (s *Service) Render(ctx context.Context) (string, error) {
	total, active, err := s.registry.Counts(ctx)
	if err != nil {
		return "", fmt.Errorf("registry counts: %w", err)
	}
	sum, err := s.ledger.Summary(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return "", fmt.Errorf("ledger summary: %w", err)
	}
	return fmt.Sprintf(
		"📊 *Daily Digest*\n\nGroups: %d (%d active)\nPurchase intents (24h): %d\nIntent volume (24h): $%d",
		total, active, sum.Count, sum.TotalUSD,
	), nil
}
