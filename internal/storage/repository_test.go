package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"scadenze/internal/core"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "scadenze.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testRule(owner string) core.Rule {
	return core.Rule{
		Owner:       owner,
		Amount:      core.Money{Cents: 85000},
		Description: "Rent",
		Direction:   core.Expense,
		Category:    "Housing",
		Cadence:     core.Monthly{DayOfMonth: 1},
		StartDate:   core.NewDate(2024, 1, 1),
		Active:      true,
	}
}

func TestRepository_RuleRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	rule := testRule("user-1")
	rule.EndDate = core.NewDate(2025, 12, 31)

	id, err := repo.CreateRule(ctx, rule)
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	got, err := repo.GetRule(ctx, "user-1", id)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	if got.Owner != "user-1" || got.Amount.Cents != 85000 || got.Description != "Rent" {
		t.Errorf("GetRule() = %+v, fields not round-tripped", got)
	}
	if got.Cadence.Kind() != core.FrequencyMonthly {
		t.Errorf("GetRule() frequency = %v, want monthly", got.Cadence.Kind())
	}
	if m, ok := got.Cadence.(core.Monthly); !ok || m.DayOfMonth != 1 {
		t.Errorf("GetRule() cadence = %#v, want Monthly{1}", got.Cadence)
	}
	if !got.StartDate.Equal(rule.StartDate.Time) || !got.EndDate.Equal(rule.EndDate.Time) {
		t.Errorf("GetRule() window = %v..%v, want %v..%v",
			got.StartDate, got.EndDate, rule.StartDate, rule.EndDate)
	}
	if !got.LastProcessed.IsZero() {
		t.Errorf("GetRule() marker = %v, want zero for a fresh rule", got.LastProcessed)
	}
}

func TestRepository_GetRuleOwnerScoped(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	id, err := repo.CreateRule(ctx, testRule("user-1"))
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	if _, err := repo.GetRule(ctx, "user-2", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRule() for foreign owner error = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetRule(ctx, "user-1", id+99); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRule() for unknown id error = %v, want ErrNotFound", err)
	}
}

func TestRepository_ListActiveRules(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	active := testRule("user-1")
	inactive := testRule("user-1")
	inactive.Active = false
	other := testRule("user-2")

	activeID, err := repo.CreateRule(ctx, active)
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	if _, err := repo.CreateRule(ctx, inactive); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	otherID, err := repo.CreateRule(ctx, other)
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	scoped, err := repo.ListActiveRules(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListActiveRules(user-1) error = %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != activeID {
		t.Errorf("ListActiveRules(user-1) = %+v, want only rule %d", scoped, activeID)
	}

	all, err := repo.ListActiveRules(ctx, "")
	if err != nil {
		t.Fatalf("ListActiveRules(all) error = %v", err)
	}
	if len(all) != 2 || all[0].ID != activeID || all[1].ID != otherID {
		t.Errorf("ListActiveRules(all) = %+v, want rules %d and %d", all, activeID, otherID)
	}
}

func TestRepository_UpdateRuleKeepsMarker(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	id, err := repo.CreateRule(ctx, testRule("user-1"))
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	rule, err := repo.GetRule(ctx, "user-1", id)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}

	if _, err := repo.Materialize(ctx, rule, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	rule.Amount = core.Money{Cents: 90000}
	rule.Cadence = core.Weekly{DayOfWeek: time.Friday}
	if err := repo.UpdateRule(ctx, rule); err != nil {
		t.Fatalf("UpdateRule() error = %v", err)
	}

	got, err := repo.GetRule(ctx, "user-1", id)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	if got.Amount.Cents != 90000 {
		t.Errorf("amount after update = %d, want 90000", got.Amount.Cents)
	}
	if w, ok := got.Cadence.(core.Weekly); !ok || w.DayOfWeek != time.Friday {
		t.Errorf("cadence after update = %#v, want Weekly{Friday}", got.Cadence)
	}
	if !got.LastProcessed.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("marker after update = %v, want untouched 2024-02-01", got.LastProcessed)
	}
}

func TestRepository_MaterializeAdvancesMarker(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	id, err := repo.CreateRule(ctx, testRule("user-1"))
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	rule, err := repo.GetRule(ctx, "user-1", id)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}

	now := time.Date(2024, 2, 1, 6, 30, 0, 0, time.UTC)
	txn, err := repo.Materialize(ctx, rule, now)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if txn.ID == 0 {
		t.Error("Materialize() transaction id not assigned")
	}
	if !txn.Date.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Materialize() date = %v, want day-truncated run time", txn.Date)
	}

	got, err := repo.GetRule(ctx, "user-1", id)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	if !got.LastProcessed.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("marker = %v, want 2024-02-01", got.LastProcessed)
	}

	txns, err := repo.ListTransactions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(txns) != 1 || txns[0].ID != txn.ID {
		t.Errorf("ListTransactions() = %+v, want the materialized transaction", txns)
	}
}

func TestRepository_MaterializeStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	id, err := repo.CreateRule(ctx, testRule("user-1"))
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	snapshot, err := repo.GetRule(ctx, "user-1", id)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}

	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if _, err := repo.Materialize(ctx, snapshot, now); err != nil {
		t.Fatalf("first Materialize() error = %v", err)
	}

	// Replaying the same pre-advance snapshot must lose the conditional update
	// and leave no second transaction behind.
	_, err = repo.Materialize(ctx, snapshot, now)
	if !errors.Is(err, ErrMarkerAdvanced) {
		t.Fatalf("stale Materialize() error = %v, want ErrMarkerAdvanced", err)
	}

	txns, err := repo.ListTransactions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(txns) != 1 {
		t.Errorf("transactions = %d, want 1 (loser's insert rolled back)", len(txns))
	}
}

func TestRepository_SetRuleActiveAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	id, err := repo.CreateRule(ctx, testRule("user-1"))
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	if err := repo.SetRuleActive(ctx, "user-1", id, false); err != nil {
		t.Fatalf("SetRuleActive() error = %v", err)
	}
	active, err := repo.ListActiveRules(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListActiveRules() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active rules after deactivation = %d, want 0", len(active))
	}

	if err := repo.SetRuleActive(ctx, "user-2", id, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetRuleActive() foreign owner error = %v, want ErrNotFound", err)
	}

	if err := repo.DeleteRule(ctx, "user-1", id); err != nil {
		t.Fatalf("DeleteRule() error = %v", err)
	}
	if _, err := repo.GetRule(ctx, "user-1", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRule() after delete error = %v, want ErrNotFound", err)
	}
	if err := repo.DeleteRule(ctx, "user-1", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteRule() error = %v, want ErrNotFound", err)
	}
}

func TestRepository_MirrorBookkeeping(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	id, err := repo.CreateRule(ctx, testRule("user-1"))
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	rule, err := repo.GetRule(ctx, "user-1", id)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}

	first, err := repo.Materialize(ctx, rule, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	rule, err = repo.GetRule(ctx, "user-1", id)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	second, err := repo.Materialize(ctx, rule, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	pending, err := repo.ListUnmirrored(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnmirrored() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("unmirrored = %d, want 2", len(pending))
	}

	if err := repo.MarkMirrored(ctx, first.ID); err != nil {
		t.Fatalf("MarkMirrored() error = %v", err)
	}
	pending, err = repo.ListUnmirrored(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnmirrored() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Errorf("unmirrored after mark = %+v, want only transaction %d", pending, second.ID)
	}

	if err := repo.MarkMirrored(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkMirrored() unknown id error = %v, want ErrNotFound", err)
	}
}

func TestRepository_Categories(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	if err := repo.CreateCategory(ctx, "user-1", "Housing"); err != nil {
		t.Fatalf("CreateCategory() error = %v", err)
	}
	// Duplicate creation is idempotent.
	if err := repo.CreateCategory(ctx, "user-1", "Housing"); err != nil {
		t.Fatalf("duplicate CreateCategory() error = %v", err)
	}

	ok, err := repo.HasCategory(ctx, "user-1", "Housing")
	if err != nil || !ok {
		t.Errorf("HasCategory(user-1, Housing) = %v, %v, want true", ok, err)
	}
	ok, err = repo.HasCategory(ctx, "user-2", "Housing")
	if err != nil || ok {
		t.Errorf("HasCategory(user-2, Housing) = %v, %v, want false (owner-scoped)", ok, err)
	}

	if err := repo.DeleteCategory(ctx, "user-1", "Housing"); err != nil {
		t.Fatalf("DeleteCategory() error = %v", err)
	}
	ok, err = repo.HasCategory(ctx, "user-1", "Housing")
	if err != nil || ok {
		t.Errorf("HasCategory() after delete = %v, %v, want false", ok, err)
	}
}
