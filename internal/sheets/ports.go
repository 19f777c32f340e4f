package sheets

import (
	"context"

	"scadenze/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerWriter mirrors materialized transactions into an external ledger.
	LedgerWriter interface {
		Append(ctx context.Context, txn core.Transaction) (rowRef string, err error)
	}
)
