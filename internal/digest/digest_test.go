package digest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"safeguard/internal/ledger"
	"safeguard/internal/registry"
	"safeguard/internal/storage"
	"safeguard/internal/transport"
	"safeguard/pkg/logx"
)

type fakeStore struct {
	total    int
	active   int
	summary  storage.PaymentSummary
	payments []storage.Payment
}

func (f *fakeStore) UpsertGroup(ctx context.Context, g storage.Group) error { return nil }
func (f *fakeStore) ListActiveGroups(ctx context.Context) ([]storage.Group, error) {
	return nil, nil
}
func (f *fakeStore) CountGroups(ctx context.Context) (int, int, error) {
	return f.total, f.active, nil
}
func (f *fakeStore) AppendPayment(ctx context.Context, p storage.Payment) error {
	f.payments = append(f.payments, p)
	return nil
}
func (f *fakeStore) PaymentSummary(ctx context.Context, since time.Time) (storage.PaymentSummary, error) {
	return f.summary, nil
}
func (f *fakeStore) Close() error { return nil }

type fakeNotifier struct {
	mu   sync.Mutex
	to   []int64
	text []string
}

func (f *fakeNotifier) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to.ChatID)
	f.text = append(f.text, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func TestRenderIncludesCountsAndVolume(t *testing.T) {
	t.Parallel()

	st := &fakeStore{total: 5, active: 4, summary: storage.PaymentSummary{Count: 3, TotalUSD: 2500}}
	reg := registry.New(st, logx.Nop())
	led := ledger.New(st, logx.Nop())
	svc := New(reg, led, &fakeNotifier{}, 777, logx.Nop())

	text, err := svc.Render(context.Background())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"5 (4 active)", "intents (24h): 3", "$2500"} {
		if !strings.Contains(text, want) {
			t.Errorf("digest missing %q:\n%s", want, text)
		}
	}
}

func TestRunDeliversToOperator(t *testing.T) {
	t.Parallel()

	st := &fakeStore{total: 1, active: 1}
	n := &fakeNotifier{}
	svc := New(registry.New(st, logx.Nop()), ledger.New(st, logx.Nop()), n, 777, logx.Nop())

	svc.run(context.Background())

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.to) != 1 || n.to[0] != 777 {
		t.Fatalf("delivered to %v, want [777]", n.to)
	}
}

func TestSetOperatorRedirects(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	n := &fakeNotifier{}
	svc := New(registry.New(st, logx.Nop()), ledger.New(st, logx.Nop()), n, 777, logx.Nop())
	svc.SetOperator(888)

	svc.run(context.Background())

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.to) != 1 || n.to[0] != 888 {
		t.Fatalf("delivered to %v, want [888]", n.to)
	}
}
