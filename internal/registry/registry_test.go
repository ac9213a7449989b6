package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"safeguard/internal/storage"
	"safeguard/pkg/logx"
)

type fakeStore struct {
	groups map[int64]storage.Group
	fail   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{groups: map[int64]storage.Group{}}
}

func (f *fakeStore) UpsertGroup(_ context.Context, g storage.Group) error {
	if f.fail {
		return errors.New("store down")
	}
	if prev, ok := f.groups[g.ChatID]; ok {
		g.PortalActive = g.PortalActive || prev.PortalActive
	}
	f.groups[g.ChatID] = g
	return nil
}

func (f *fakeStore) ListActiveGroups(context.Context) ([]storage.Group, error) {
	if f.fail {
		return nil, errors.New("store down")
	}
	var out []storage.Group
	for _, g := range f.groups {
		if g.PortalActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeStore) CountGroups(context.Context) (int, int, error) {
	if f.fail {
		return 0, 0, errors.New("store down")
	}
	active := 0
	for _, g := range f.groups {
		if g.PortalActive {
			active++
		}
	}
	return len(f.groups), active, nil
}

func (f *fakeStore) AppendPayment(context.Context, storage.Payment) error { return nil }
func (f *fakeStore) PaymentSummary(context.Context, time.Time) (storage.PaymentSummary, error) {
	return storage.PaymentSummary{}, nil
}
func (f *fakeStore) Close() error { return nil }

func TestRegisterIdempotent(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	svc := New(st, logx.Nop())
	ctx := context.Background()

	svc.Register(ctx, 100, "t1")
	svc.Register(ctx, 100, "t2")

	dests, err := svc.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(dests) != 1 {
		t.Fatalf("got %d destinations, want 1", len(dests))
	}
	if dests[0].Title != "t2" {
		t.Fatalf("Title = %q, want %q", dests[0].Title, "t2")
	}
}

func TestRegisterSwallowsStoreFailure(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.fail = true
	svc := New(st, logx.Nop())

	// Must not panic or propagate; the portal reply still goes out.
	svc.Register(context.Background(), 5, "g")
}

func TestListActiveUnavailable(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.fail = true
	svc := New(st, logx.Nop())

	_, err := svc.ListActive(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
