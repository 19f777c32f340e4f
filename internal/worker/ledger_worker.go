package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"scadenze/internal/amqp"
	"scadenze/internal/core"
	"scadenze/internal/sheets"
	"scadenze/internal/storage"
)

// TransactionStore is the slice of the repository the ledger worker needs.
type TransactionStore interface {
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	ListUnmirrored(ctx context.Context, limit int) ([]core.Transaction, error)
	MarkMirrored(ctx context.Context, id int64) error
}

// LedgerWorker mirrors materialized transactions into the external ledger.
// It is driven by AMQP messages with a periodic catch-up pass for anything
// a lost message left behind.
type LedgerWorker struct {
	storage   TransactionStore
	ledger    sheets.LedgerWriter
	batchSize int
}

func NewLedgerWorker(storage TransactionStore, ledger sheets.LedgerWriter, batchSize int) *LedgerWorker {
	return &LedgerWorker{
		storage:   storage,
		ledger:    ledger,
		batchSize: batchSize,
	}
}

// HandleCreatedMessage processes a single transaction created message from AMQP
func (w *LedgerWorker) HandleCreatedMessage(ctx context.Context, msg *amqp.TransactionCreatedMessage) error {
	slog.InfoContext(ctx, "Processing transaction created message",
		"transaction_id", msg.TransactionID,
		"rule_id", msg.RuleID)

	txn, err := w.storage.GetTransaction(ctx, msg.TransactionID)
	if errors.Is(err, storage.ErrNotFound) {
		// The transaction is gone; dropping the message beats requeueing it
		// forever.
		slog.WarnContext(ctx, "Transaction no longer exists, dropping message",
			"transaction_id", msg.TransactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	return w.mirrorTransaction(ctx, txn)
}

// ProcessUnmirrored mirrors transactions that never made it to the ledger.
// This is a backup mechanism in case AMQP messages are lost.
func (w *LedgerWorker) ProcessUnmirrored(ctx context.Context) error {
	pending, err := w.storage.ListUnmirrored(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list unmirrored transactions: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing unmirrored transactions", "count", len(pending))

	for _, txn := range pending {
		if err := w.mirrorTransaction(ctx, txn); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror transaction",
				"transaction_id", txn.ID,
				"error", err)
			continue
		}
	}

	return nil
}

func (w *LedgerWorker) mirrorTransaction(ctx context.Context, txn core.Transaction) error {
	ref, err := w.ledger.Append(ctx, txn)
	if err != nil {
		return fmt.Errorf("append to ledger: %w", err)
	}

	if err := w.storage.MarkMirrored(ctx, txn.ID); err != nil {
		// The append worked; the catch-up pass will retry the flag and the
		// ledger may end up with a duplicate row, which is acceptable.
		slog.ErrorContext(ctx, "Failed to mark transaction as mirrored",
			"transaction_id", txn.ID,
			"error", err)
		return fmt.Errorf("mark transaction mirrored: %w", err)
	}

	slog.InfoContext(ctx, "Transaction mirrored to ledger",
		"transaction_id", txn.ID,
		"ledger_ref", ref,
		"amount_cents", txn.Amount.Cents)

	return nil
}
