package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"safeguard/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUpsertGroupIdempotent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertGroup(ctx, Group{ChatID: -100123, Title: "old title", PortalActive: true}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := st.UpsertGroup(ctx, Group{ChatID: -100123, Title: "new title", PortalActive: true}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	groups, err := st.ListActiveGroups(ctx)
	if err != nil {
		t.Fatalf("ListActiveGroups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d rows, want 1", len(groups))
	}
	if groups[0].Title != "new title" {
		t.Fatalf("Title = %q, want %q", groups[0].Title, "new title")
	}
}

func TestListActiveGroupsFiltersInactive(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	seed := []Group{
		{ChatID: 1, Title: "g1", PortalActive: true},
		{ChatID: 2, Title: "g2", PortalActive: true},
		{ChatID: 3, Title: "g3", PortalActive: false},
	}
	for _, g := range seed {
		if err := st.UpsertGroup(ctx, g); err != nil {
			t.Fatalf("UpsertGroup(%d): %v", g.ChatID, err)
		}
	}

	groups, err := st.ListActiveGroups(ctx)
	if err != nil {
		t.Fatalf("ListActiveGroups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d active groups, want 2", len(groups))
	}
	for _, g := range groups {
		if g.ChatID == 3 {
			t.Fatal("inactive group listed as active")
		}
	}

	total, active, err := st.CountGroups(ctx)
	if err != nil {
		t.Fatalf("CountGroups: %v", err)
	}
	if total != 3 || active != 2 {
		t.Fatalf("CountGroups = (%d, %d), want (3, 2)", total, active)
	}
}

func TestReactivationDoesNotClearActive(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertGroup(ctx, Group{ChatID: 7, Title: "g", PortalActive: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// A later write without the active flag must not flip an active row off.
	if err := st.UpsertGroup(ctx, Group{ChatID: 7, Title: "g renamed", PortalActive: false}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	groups, err := st.ListActiveGroups(ctx)
	if err != nil {
		t.Fatalf("ListActiveGroups: %v", err)
	}
	if len(groups) != 1 || groups[0].Title != "g renamed" {
		t.Fatalf("unexpected snapshot: %+v", groups)
	}
}

func TestPaymentsAppendOnly(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	payments := []Payment{
		{TelegramID: 42, AmountUSD: 500, PlanID: "fast", CreatedAt: now},
		{TelegramID: 42, AmountUSD: 1500, PlanID: "slot1", CreatedAt: now},
		{TelegramID: 99, AmountUSD: 1000, PlanID: "slot2", CreatedAt: now.Add(-48 * time.Hour)},
	}
	for i, p := range payments {
		if err := st.AppendPayment(ctx, p); err != nil {
			t.Fatalf("AppendPayment #%d: %v", i, err)
		}
	}

	all, err := st.PaymentSummary(ctx, time.Time{})
	if err != nil {
		t.Fatalf("PaymentSummary: %v", err)
	}
	if all.Count != 3 || all.TotalUSD != 3000 {
		t.Fatalf("summary = %+v, want Count=3 TotalUSD=3000", all)
	}

	recent, err := st.PaymentSummary(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PaymentSummary(24h): %v", err)
	}
	if recent.Count != 2 || recent.TotalUSD != 2000 {
		t.Fatalf("recent summary = %+v, want Count=2 TotalUSD=2000", recent)
	}
}
