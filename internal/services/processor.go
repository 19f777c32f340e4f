package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"scadenze/internal/core"
)

// RuleLister loads the active rules in a sweep's scope. An empty owner means
// all owners (the periodic job); a non-empty owner scopes an on-demand run.
type RuleLister interface {
	ListActiveRules(ctx context.Context, owner string) ([]core.Rule, error)
}

type (
	// CreatedTransaction summarizes one materialization for the run report.
	CreatedTransaction struct {
		RuleID        int64  `json:"recurringRuleId"`
		TransactionID int64  `json:"transactionId"`
		Description   string `json:"description"`
		Amount        string `json:"amount"`
		Category      string `json:"category"`
	}

	// RuleError records a rule that failed during a run without stopping it.
	RuleError struct {
		RuleID int64  `json:"recurringRuleId"`
		Error  string `json:"error"`
	}

	// RunResult is one sweep's outcome: what was created and what failed.
	RunResult struct {
		RunID   string               `json:"-"`
		Count   int                  `json:"count"`
		Created []CreatedTransaction `json:"data"`
		Errors  []RuleError          `json:"errors,omitempty"`
	}
)

// Processor is the scheduler driver: one instance serves both the periodic
// sweep and the on-demand API trigger, and concurrent runs are safe because
// the store's conditional marker advance lets only one of them create a
// transaction per rule and period.
type Processor struct {
	rules        RuleLister
	materializer *Materializer
}

func NewProcessor(rules RuleLister, materializer *Materializer) *Processor {
	return &Processor{
		rules:        rules,
		materializer: materializer,
	}
}

// ProcessDue runs one sweep over the active rules in scope at the given
// logical time. A failure on one rule is recorded and the run continues;
// the error return is reserved for not being able to run at all.
func (p *Processor) ProcessDue(ctx context.Context, owner string, now time.Time) (RunResult, error) {
	result := RunResult{
		RunID:   uuid.NewString(),
		Created: []CreatedTransaction{},
	}

	rules, err := p.rules.ListActiveRules(ctx, owner)
	if err != nil {
		return result, fmt.Errorf("load active rules: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring rules",
		"run_id", result.RunID,
		"owner", ownerScope(owner),
		"total_active", len(rules),
		"processing_date", now.Format(time.DateOnly))

	for _, rule := range rules {
		if !IsDue(rule, now) {
			continue
		}

		txn, err := p.materializer.Materialize(ctx, rule, now)
		if errors.Is(err, ErrAlreadyProcessed) {
			// A concurrent run got here first; the rule is already advanced.
			slog.InfoContext(ctx, "Rule materialized by concurrent run, skipping",
				"run_id", result.RunID,
				"rule_id", rule.ID)
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "Failed to materialize rule",
				"run_id", result.RunID,
				"rule_id", rule.ID,
				"description", rule.Description,
				"error", err)
			result.Errors = append(result.Errors, RuleError{RuleID: rule.ID, Error: err.Error()})
			continue
		}

		result.Created = append(result.Created, CreatedTransaction{
			RuleID:        rule.ID,
			TransactionID: txn.ID,
			Description:   txn.Description,
			Amount:        txn.Amount.Decimal(),
			Category:      txn.Category,
		})
	}

	result.Count = len(result.Created)

	slog.InfoContext(ctx, "Recurring rule processing complete",
		"run_id", result.RunID,
		"created", result.Count,
		"errors", len(result.Errors),
		"total_checked", len(rules))

	return result, nil
}

func ownerScope(owner string) string {
	if owner == "" {
		return "all"
	}
	return owner
}
