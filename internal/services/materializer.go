package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scadenze/internal/core"
	"scadenze/internal/storage"
)

var (
	// ErrUnknownCategory marks a rule whose category no longer exists for its
	// owner. The rule stays eligible and is retried on the next run.
	ErrUnknownCategory = errors.New("category does not exist for owner")

	// ErrAlreadyProcessed means a concurrent run won the materialization for
	// this period; nothing was created and nothing needs retrying.
	ErrAlreadyProcessed = errors.New("rule already processed for this period")
)

type (
	// TransactionStore creates the transaction and advances the rule marker
	// atomically, refusing to advance a marker that moved since the rule was
	// read.
	TransactionStore interface {
		Materialize(ctx context.Context, rule core.Rule, now time.Time) (core.Transaction, error)
	}

	// CategoryStore is the external category collaborator; rules must
	// reference a category belonging to their own owner.
	CategoryStore interface {
		HasCategory(ctx context.Context, owner, name string) (bool, error)
	}

	// Notifier is the optional side-effect hook fired after a successful
	// materialization.
	Notifier interface {
		TransactionCreated(ctx context.Context, txn core.Transaction, ruleID int64) error
	}
)

// Materializer turns a due rule into a concrete transaction exactly once per
// period. The dueness marker is the only rule field it writes.
type Materializer struct {
	store      TransactionStore
	categories CategoryStore
	notifier   Notifier // nil disables the hook
}

func NewMaterializer(store TransactionStore, categories CategoryStore, notifier Notifier) *Materializer {
	return &Materializer{
		store:      store,
		categories: categories,
		notifier:   notifier,
	}
}

// Materialize creates the transaction for a rule the calculator reported due.
// On success the rule's marker has been durably advanced, so re-checking the
// rule reports not-due until the next period. A notification failure is
// logged but never fails the materialization; the transaction already exists.
func (m *Materializer) Materialize(ctx context.Context, rule core.Rule, now time.Time) (core.Transaction, error) {
	ok, err := m.categories.HasCategory(ctx, rule.Owner, rule.Category)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("check category %q: %w", rule.Category, err)
	}
	if !ok {
		return core.Transaction{}, fmt.Errorf("category %q: %w", rule.Category, ErrUnknownCategory)
	}

	txn, err := m.store.Materialize(ctx, rule, now)
	if errors.Is(err, storage.ErrMarkerAdvanced) {
		return core.Transaction{}, ErrAlreadyProcessed
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("materialize rule %d: %w", rule.ID, err)
	}

	if m.notifier != nil {
		if err := m.notifier.TransactionCreated(ctx, txn, rule.ID); err != nil {
			slog.WarnContext(ctx, "Failed to publish transaction notification",
				"transaction_id", txn.ID,
				"rule_id", rule.ID,
				"error", err)
		}
	}

	return txn, nil
}
