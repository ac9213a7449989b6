package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"safeguard/internal/campaign"
	"safeguard/internal/catalog"
	"safeguard/internal/config"
	"safeguard/internal/ledger"
	"safeguard/internal/registry"
	"safeguard/internal/storage"
	"safeguard/internal/transport"
	"safeguard/pkg/logx"
)

const testOperator int64 = 777

// memStore is an in-memory storage.Store for handler flow tests.
type memStore struct {
	mu       sync.Mutex
	groups   map[int64]storage.Group
	payments []storage.Payment
	fail     bool
}

func newMemStore() *memStore { return &memStore{groups: map[int64]storage.Group{}} }

func (m *memStore) UpsertGroup(_ context.Context, g storage.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store down")
	}
	m.groups[g.ChatID] = g
	return nil
}

func (m *memStore) ListActiveGroups(context.Context) ([]storage.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("store down")
	}
	var out []storage.Group
	for _, g := range m.groups {
		if g.PortalActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memStore) CountGroups(context.Context) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups), len(m.groups), nil
}

func (m *memStore) AppendPayment(_ context.Context, p storage.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store down")
	}
	m.payments = append(m.payments, p)
	return nil
}

func (m *memStore) PaymentSummary(context.Context, time.Time) (storage.PaymentSummary, error) {
	return storage.PaymentSummary{}, nil
}

func (m *memStore) Close() error { return nil }

type sentMsg struct {
	ChatID int64
	Text   string
}

// fakeAdapter records sends and callback answers.
type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sentMsg
	answered []string
	failFor  map[int64]bool
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[to.ChatID] {
		return transport.MessageRef{}, errors.New("forbidden")
	}
	f.sent = append(f.sent, sentMsg{ChatID: to.ChatID, Text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id string, text string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id+"|"+text)
	return nil
}

func (f *fakeAdapter) sentTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

type fixture struct {
	store    *memStore
	adapter  *fakeAdapter
	handlers *Handlers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	reg := registry.New(store, logx.Nop())
	led := ledger.New(store, logx.Nop())
	cat := catalog.Default()
	eng := campaign.New(campaign.Config{OperatorID: testOperator, SendInterval: time.Millisecond}, reg, &campaignAdapter{}, logx.Nop())
	h := NewHandlers(Deps{
		Registry:   reg,
		Ledger:     led,
		Catalog:    cat,
		Engine:     eng,
		OperatorID: testOperator,
		Payment:    config.PaymentConfig{ETHAddress: "0xabc", SOLAddress: "Sol123"},
	})
	return &fixture{store: store, adapter: &fakeAdapter{}, handlers: h}
}

// campaignAdapter is swapped in after fixture construction so the engine
// sends through the same fake adapter the handlers use.
type campaignAdapter struct{ inner *fakeAdapter }

func (c *campaignAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if c.inner == nil {
		return transport.MessageRef{}, nil
	}
	return c.inner.SendText(ctx, to, text, opt)
}

func msgRequest(f *fixture, chatID, fromID int64, text string, isGroup bool) *Request {
	name, args, _ := parseCommand(text)
	return &Request{
		Update: transport.Update{
			Kind: transport.UpdateMessage,
			Message: &transport.Message{
				ChatID:    chatID,
				ChatTitle: "Test Group",
				FromID:    fromID,
				Text:      text,
				IsGroup:   isGroup,
			},
		},
		Chat:    transport.ChatTarget{ChatID: chatID},
		FromID:  fromID,
		Command: "/" + name,
		Args:    args,
		Adapter: f.adapter,
		Logger:  logx.Nop(),
	}
}

func cbRequest(f *fixture, chatID, fromID int64, data string) *Request {
	action, payload := splitCallbackData(data)
	return &Request{
		Update: transport.Update{
			Kind: transport.UpdateCallback,
			Callback: &transport.Callback{
				ID:     "cb1",
				ChatID: chatID,
				FromID: fromID,
				Data:   data,
			},
		},
		Chat:    transport.ChatTarget{ChatID: chatID},
		FromID:  fromID,
		Command: action,
		Payload: payload,
		Adapter: f.adapter,
		Logger:  logx.Nop(),
	}
}

func TestSetupRegistersGroup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.handlers.Setup(ctx, msgRequest(f, -500, 1, "/setup", true)); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	g, ok := f.store.groups[-500]
	if !ok || !g.PortalActive {
		t.Fatalf("group not registered: %+v", f.store.groups)
	}
	if g.Title != "Test Group" {
		t.Fatalf("Title = %q, want %q", g.Title, "Test Group")
	}
	if msgs := f.adapter.sentTo(-500); len(msgs) != 1 || !strings.Contains(msgs[0], "PORTAL ACTIVATED") {
		t.Fatalf("portal message missing: %v", msgs)
	}
}

func TestSetupRefusedInPrivateChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.handlers.Setup(context.Background(), msgRequest(f, 10, 10, "/setup", false)); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if len(f.store.groups) != 0 {
		t.Fatal("private chat must not be registered")
	}
	if msgs := f.adapter.sentTo(10); len(msgs) != 1 || !strings.Contains(msgs[0], "inside a group") {
		t.Fatalf("expected refusal, got %v", msgs)
	}
}

func TestSetupSurvivesStoreFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.store.fail = true

	if err := f.handlers.Setup(context.Background(), msgRequest(f, -500, 1, "/setup", true)); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	// The interactive acknowledgement must still succeed.
	if msgs := f.adapter.sentTo(-500); len(msgs) != 1 {
		t.Fatalf("portal message missing despite store failure: %v", msgs)
	}
}

func TestVerifyAlwaysAffirmative(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.handlers.Verify(context.Background(), cbRequest(f, -500, 42, "verify")); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(f.adapter.answered) != 1 || !strings.Contains(f.adapter.answered[0], "Verified") {
		t.Fatalf("expected affirmative answer, got %v", f.adapter.answered)
	}
	if len(f.store.groups) != 0 {
		t.Fatal("verify must not mutate the registry")
	}
}

func TestBuyRecordsIntentAndShowsInvoice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.handlers.Buy(context.Background(), cbRequest(f, 42, 42, "buy:fast")); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	if len(f.store.payments) != 1 {
		t.Fatalf("got %d ledger entries, want 1", len(f.store.payments))
	}
	p := f.store.payments[0]
	if p.TelegramID != 42 || p.PlanID != "fast" || p.AmountUSD != 500 {
		t.Fatalf("unexpected ledger entry: %+v", p)
	}

	msgs := f.adapter.sentTo(42)
	if len(msgs) != 1 {
		t.Fatalf("invoice missing: %v", msgs)
	}
	for _, want := range []string{"INVOICE", "$500", "0xabc", "Sol123", "/confirm"} {
		if !strings.Contains(msgs[0], want) {
			t.Fatalf("invoice missing %q:\n%s", want, msgs[0])
		}
	}
}

func TestBuyUnknownPlanSoftError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.handlers.Buy(context.Background(), cbRequest(f, 42, 42, "buy:nonexistent")); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if len(f.store.payments) != 0 {
		t.Fatal("unknown plan must not create a ledger entry")
	}
	if len(f.adapter.answered) != 1 || !strings.Contains(f.adapter.answered[0], "Unknown plan") {
		t.Fatalf("expected soft error answer, got %v", f.adapter.answered)
	}
}

func TestConfirmForwardsToOperator(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	req := msgRequest(f, 42, 42, "/confirm 0xdeadbeef", false)
	req.FromUsername = "buyer"

	if err := f.handlers.Confirm(context.Background(), req); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	if msgs := f.adapter.sentTo(42); len(msgs) != 1 || !strings.Contains(msgs[0], "PAYMENT SUBMITTED") {
		t.Fatalf("user acknowledgement missing: %v", msgs)
	}
	fwd := f.adapter.sentTo(testOperator)
	if len(fwd) != 1 || !strings.Contains(fwd[0], "0xdeadbeef") || !strings.Contains(fwd[0], "@buyer") {
		t.Fatalf("operator forward missing: %v", fwd)
	}
}

func TestConfirmUsageError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.handlers.Confirm(context.Background(), msgRequest(f, 42, 42, "/confirm", false)); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if msgs := f.adapter.sentTo(42); len(msgs) != 1 || !strings.Contains(msgs[0], "Usage") {
		t.Fatalf("expected usage error, got %v", msgs)
	}
	if len(f.adapter.sentTo(testOperator)) != 0 {
		t.Fatal("usage error must not forward anything")
	}
}

func newBroadcastFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	// Rewire the engine so campaign sends go through the fake adapter.
	reg := registry.New(f.store, logx.Nop())
	f.handlers.engine = campaign.New(
		campaign.Config{OperatorID: testOperator, SendInterval: time.Millisecond},
		reg, &campaignAdapter{inner: f.adapter}, logx.Nop())
	return f
}

func TestBroadcastDeliversAndReports(t *testing.T) {
	t.Parallel()
	f := newBroadcastFixture(t)
	ctx := context.Background()

	if err := f.handlers.Setup(ctx, msgRequest(f, -1, 1, "/setup", true)); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := f.handlers.Setup(ctx, msgRequest(f, -2, 1, "/setup", true)); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	req := msgRequest(f, testOperator, testOperator, "/broadcast https://example.org/launch big news today", false)
	if err := f.handlers.Broadcast(ctx, req); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	for _, chat := range []int64{-1, -2} {
		got := f.adapter.sentTo(chat)
		// One portal message plus one campaign message per group.
		if len(got) != 2 {
			t.Fatalf("chat %d messages = %v", chat, got)
		}
		if !strings.Contains(got[1], "big news today") || !strings.Contains(got[1], "https://example.org/launch") {
			t.Fatalf("campaign text wrong: %q", got[1])
		}
	}

	report := f.adapter.sentTo(testOperator)
	if len(report) != 1 {
		t.Fatalf("summary missing: %v", report)
	}
	for _, want := range []string{"Attempted: 2", "Delivered: 2", "Failed: 0"} {
		if !strings.Contains(report[0], want) {
			t.Fatalf("summary missing %q:\n%s", want, report[0])
		}
	}
}

func TestBroadcastRefusedForNonOperator(t *testing.T) {
	t.Parallel()
	f := newBroadcastFixture(t)
	ctx := context.Background()

	if err := f.handlers.Setup(ctx, msgRequest(f, -1, 1, "/setup", true)); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	intruder := int64(12345)
	req := msgRequest(f, intruder, intruder, "/broadcast https://x.y message", false)
	if err := f.handlers.Broadcast(ctx, req); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	if msgs := f.adapter.sentTo(-1); len(msgs) != 1 {
		t.Fatalf("refused broadcast still delivered: %v", msgs)
	}
	if msgs := f.adapter.sentTo(intruder); len(msgs) != 1 || !strings.Contains(msgs[0], "Not permitted") {
		t.Fatalf("expected refusal, got %v", msgs)
	}
}

func TestBroadcastUsageError(t *testing.T) {
	t.Parallel()
	f := newBroadcastFixture(t)

	req := msgRequest(f, testOperator, testOperator, "/broadcast onlylink", false)
	if err := f.handlers.Broadcast(context.Background(), req); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if msgs := f.adapter.sentTo(testOperator); len(msgs) != 1 || !strings.Contains(msgs[0], "Usage") {
		t.Fatalf("expected usage error, got %v", msgs)
	}
}

func TestBroadcastStoreUnavailable(t *testing.T) {
	t.Parallel()
	f := newBroadcastFixture(t)
	f.store.fail = true

	req := msgRequest(f, testOperator, testOperator, "/broadcast https://x.y message", false)
	if err := f.handlers.Broadcast(context.Background(), req); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	msgs := f.adapter.sentTo(testOperator)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "did not run") {
		t.Fatalf("expected distinguished store-unavailable report, got %v", msgs)
	}
}
