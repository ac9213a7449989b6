package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"safeguard/internal/campaign"
	"safeguard/internal/catalog"
	"safeguard/internal/config"
	"safeguard/internal/ledger"
	"safeguard/internal/registry"
	rtsup "safeguard/internal/runtime/supervisor"
	"safeguard/internal/transport"
	"safeguard/pkg/logx"
)

// Handlers implements the user/operator command surface on top of the
// registry, catalog, ledger, and campaign engine.
type Handlers struct {
	log      logx.Logger
	registry *registry.Service
	ledger   *ledger.Service
	catalog  *catalog.Catalog
	engine   *campaign.Engine

	mu       sync.Mutex
	operator int64
	payment  config.PaymentConfig
	links    config.LinksConfig

	// sup hosts long campaign runs so they outlive the per-request timeout
	// but still die with the app. Nil (tests) runs the campaign inline.
	sup *rtsup.Supervisor
}

type Deps struct {
	Log      logx.Logger
	Registry *registry.Service
	Ledger   *ledger.Service
	Catalog  *catalog.Catalog
	Engine   *campaign.Engine

	OperatorID int64
	Payment    config.PaymentConfig
	Links      config.LinksConfig
}

func NewHandlers(d Deps) *Handlers {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{
		log:      log,
		registry: d.Registry,
		ledger:   d.Ledger,
		catalog:  d.Catalog,
		engine:   d.Engine,
		operator: d.OperatorID,
		payment:  d.Payment,
		links:    d.Links,
	}
}

// SetSupervisor installs the app supervisor used to host campaign runs.
func (h *Handlers) SetSupervisor(sup *rtsup.Supervisor) {
	h.mu.Lock()
	h.sup = sup
	h.mu.Unlock()
}

// Apply updates the hot-reloadable parts of the surface.
func (h *Handlers) Apply(operatorID int64, pay config.PaymentConfig, links config.LinksConfig) {
	h.mu.Lock()
	h.operator = operatorID
	h.payment = pay
	h.links = links
	h.mu.Unlock()
}

// Register wires every command and callback into the router.
func (h *Handlers) Register(r *Router) {
	r.Handle(
		Command{Name: "start", Description: "Intro and setup links", Handle: h.Start},
		Command{Name: "setup", Description: "Activate the protection portal", Handle: h.Setup},
		Command{Name: "trend", Description: "Show trending plans", Handle: h.Plans},
		Command{Name: "confirm", Description: "Submit a payment transaction hash", Handle: h.Confirm},
		Command{Name: "broadcast", Description: "Operator: send a campaign to all groups", Handle: h.Broadcast},
	)
	r.HandleCallback(
		Callback{Action: "verify", Handle: h.Verify},
		Callback{Action: "plans", Handle: h.PlansCallback},
		Callback{Action: "buy", Handle: h.Buy},
	)
}

func (h *Handlers) Start(ctx context.Context, req *Request) error {
	h.mu.Lock()
	links := h.links
	h.mu.Unlock()
	_, err := req.Adapter.SendText(ctx, req.Chat, startCaption, &transport.SendOptions{
		ParseMode:          "Markdown",
		ReplyMarkupAdapter: startMarkup(links),
	})
	return err
}

// Setup activates the portal for a group. Registration is best-effort: the
// portal message is posted even when the registry write did not persist.
func (h *Handlers) Setup(ctx context.Context, req *Request) error {
	msg := req.Update.Message
	if msg == nil || !msg.IsGroup {
		return req.Reply(ctx, "❌ Use this command inside a group.")
	}

	h.registry.Register(ctx, msg.ChatID, msg.ChatTitle)

	_, err := req.Adapter.SendText(ctx, req.Chat, portalText, &transport.SendOptions{
		ParseMode:          "Markdown",
		ReplyMarkupAdapter: portalMarkup(),
	})
	return err
}

// Verify is the portal acknowledgement. It is intentionally decorative:
// always affirmative, no admission decision, no registry mutation.
func (h *Handlers) Verify(ctx context.Context, req *Request) error {
	return req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, verifyAckText, true)
}

func (h *Handlers) Plans(ctx context.Context, req *Request) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, plansCaption, &transport.SendOptions{
		ParseMode:          "Markdown",
		ReplyMarkupAdapter: plansMarkup(h.catalog.List()),
	})
	return err
}

func (h *Handlers) PlansCallback(ctx context.Context, req *Request) error {
	if cb := req.Update.Callback; cb != nil {
		_ = req.Adapter.AnswerCallback(ctx, cb.ID, "", false)
	}
	return h.Plans(ctx, req)
}

// Buy records the purchase intent and shows the invoice. An unknown plan id
// (callback data is externally sourced) is a soft error with no ledger entry.
func (h *Handlers) Buy(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	if cb == nil {
		return nil
	}
	plan, ok := h.catalog.Lookup(req.Payload)
	if !ok {
		return req.Adapter.AnswerCallback(ctx, cb.ID, "❌ Unknown plan.", true)
	}
	_ = req.Adapter.AnswerCallback(ctx, cb.ID, "", false)

	h.ledger.Record(ctx, req.FromID, plan.ID, plan.PriceUSD)

	h.mu.Lock()
	pay := h.payment
	h.mu.Unlock()
	_, err := req.Adapter.SendText(ctx, req.Chat, invoiceText(plan, pay), &transport.SendOptions{
		ParseMode: "Markdown",
	})
	return err
}

// Confirm forwards an unauthenticated payment claim to the operator.
// No verification happens here; the tx reference is relayed as-is.
func (h *Handlers) Confirm(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "❌ Usage: `/confirm <TX_HASH>`")
	}
	tx := req.Args[0]

	if err := req.Reply(ctx, confirmAckText); err != nil {
		return err
	}

	h.mu.Lock()
	operator := h.operator
	h.mu.Unlock()
	if operator == 0 {
		return nil
	}
	note := fmt.Sprintf("💰 *REVENUE:* `%s` from @%s (%d)", tx, req.FromUsername, req.FromID)
	if _, err := req.Adapter.SendText(ctx, transport.ChatTarget{ChatID: operator}, note, &transport.SendOptions{
		ParseMode: "Markdown",
	}); err != nil {
		h.log.Warn("confirm forward failed", logx.Err(err))
	}
	return nil
}

// Broadcast runs a campaign: /broadcast <link> <message...>.
// The run is hosted on the app supervisor so it is not cut short by the
// per-request timeout; the summary is delivered when the run finishes.
func (h *Handlers) Broadcast(ctx context.Context, req *Request) error {
	var payload campaign.Payload
	if len(req.Args) >= 2 {
		payload = campaign.Payload{
			Link: req.Args[0],
			Body: strings.Join(req.Args[1:], " "),
		}
	}
	// A short or empty args list leaves the payload zero; the engine turns
	// that into ErrBadPayload after the (mandatory, first) operator check.

	h.mu.Lock()
	sup := h.sup
	h.mu.Unlock()

	run := func(runCtx context.Context) {
		res, err := h.engine.Run(runCtx, req.FromID, payload)
		h.reportCampaign(runCtx, req, res, err)
	}

	if sup == nil {
		run(ctx)
		return nil
	}
	sup.Go0("campaign.run", run)
	return nil
}

func (h *Handlers) reportCampaign(ctx context.Context, req *Request, res campaign.Result, err error) {
	switch {
	case err == nil:
		_ = req.Reply(ctx, fmt.Sprintf(
			"📣 Campaign finished.\n\nAttempted: %d\nDelivered: %d\nFailed: %d",
			res.Attempted, res.Succeeded, res.Failed))
	case errors.Is(err, campaign.ErrNotAuthorized):
		_ = req.Reply(ctx, "❌ Not permitted.")
	case errors.Is(err, campaign.ErrBadPayload):
		_ = req.Reply(ctx, "❌ Usage: `/broadcast <link> <message>`")
	case errors.Is(err, registry.ErrUnavailable):
		_ = req.Reply(ctx, "⚠️ Registry unavailable; the campaign did not run.")
	case errors.Is(err, context.Canceled):
		_ = req.Reply(ctx, fmt.Sprintf(
			"⚠️ Campaign interrupted.\n\nAttempted: %d\nDelivered: %d\nFailed: %d",
			res.Attempted, res.Succeeded, res.Failed))
	default:
		h.log.Warn("campaign failed", logx.Err(err))
		_ = req.Reply(ctx, "⚠️ Campaign failed; see logs.")
	}
}
