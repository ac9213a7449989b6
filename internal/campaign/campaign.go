// Package campaign fans a single operator message out to every active
// destination. Delivery is strictly sequential and paced to stay under the
// transport's rate ceiling; a failed destination never aborts the batch.
package campaign

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"safeguard/internal/registry"
	"safeguard/internal/transport"
	"safeguard/pkg/logx"
)

var (
	// ErrNotAuthorized means the caller is not the configured operator.
	// No registry read happens in that case.
	ErrNotAuthorized = errors.New("not permitted")

	// ErrBadPayload means the link or message body is missing.
	ErrBadPayload = errors.New("campaign payload requires a link and a message")
)

const defaultSendInterval = 300 * time.Millisecond

// Sender is the outbound delivery port. Any non-nil error is a delivery
// failure for that destination; error subtypes are not distinguished.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Lister supplies the point-in-time snapshot of active destinations.
type Lister interface {
	ListActive(ctx context.Context) ([]registry.Destination, error)
}

type Config struct {
	// OperatorID is the only identity allowed to run campaigns.
	OperatorID int64
	// SendInterval is the minimum gap between consecutive deliveries,
	// applied unconditionally (also after failures).
	SendInterval time.Duration
}

type Payload struct {
	Link string
	Body string
}

// Result is the per-run accounting reported back to the operator.
// It is ephemeral; nothing persists it.
type Result struct {
	Attempted int
	Succeeded int
	Failed    int
}

type Engine struct {
	lister Lister
	sender Sender
	log    logx.Logger

	cfgMu sync.Mutex
	cfg   Config

	limiter *rate.Limiter

	// runMu serializes campaign runs. Two operator triggers queue up instead
	// of interleaving their rate budget; the later run takes a fresh snapshot.
	runMu sync.Mutex
}

func New(cfg Config, lister Lister, sender Sender, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = defaultSendInterval
	}
	return &Engine{
		lister:  lister,
		sender:  sender,
		log:     log,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.SendInterval), 1),
	}
}

// Apply updates pacing and operator identity at runtime.
func (e *Engine) Apply(cfg Config) {
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = defaultSendInterval
	}
	e.cfgMu.Lock()
	e.cfg = cfg
	e.limiter.SetLimit(rate.Every(cfg.SendInterval))
	e.cfgMu.Unlock()
}

func (e *Engine) snapshotCfg() Config {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.cfg
}

// Run executes one campaign: authorization, payload validation, registry
// snapshot, then one paced delivery attempt per destination. Cancellation is
// checked between iterations; a canceled run returns the partial result with
// the context error.
func (e *Engine) Run(ctx context.Context, callerID int64, p Payload) (Result, error) {
	cfg := e.snapshotCfg()
	if callerID != cfg.OperatorID {
		return Result{}, ErrNotAuthorized
	}
	if strings.TrimSpace(p.Link) == "" || strings.TrimSpace(p.Body) == "" {
		return Result{}, ErrBadPayload
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	dests, err := e.lister.ListActive(ctx)
	if err != nil {
		// Distinguished "did not run": zero attempts, error surfaced.
		return Result{}, err
	}

	text := render(p)
	res := Result{Attempted: len(dests)}
	start := time.Now()

	for _, d := range dests {
		if err := e.limiter.Wait(ctx); err != nil {
			return res, err
		}
		if _, err := e.sender.SendText(ctx, transport.ChatTarget{ChatID: d.ChatID}, text, &transport.SendOptions{
			ParseMode:      "Markdown",
			DisablePreview: false,
		}); err != nil {
			// Kept registered regardless of failure; see DESIGN.md.
			res.Failed++
			e.log.Debug("campaign delivery failed",
				logx.Int64("chat_id", d.ChatID),
				logx.Err(err),
			)
			continue
		}
		res.Succeeded++
	}

	e.log.Info("campaign finished",
		logx.Int("attempted", res.Attempted),
		logx.Int("succeeded", res.Succeeded),
		logx.Int("failed", res.Failed),
		logx.Duration("took", time.Since(start)),
	)
	return res, nil
}

func render(p Payload) string {
	return strings.TrimSpace(p.Body) + "\n\n" + strings.TrimSpace(p.Link)
}
