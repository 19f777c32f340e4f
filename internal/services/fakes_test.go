package services

import (
	"context"
	"errors"
	"time"

	"scadenze/internal/core"
	"scadenze/internal/storage"
)

// fakeStore emulates the repository's conditional marker advance in memory:
// materializing succeeds only when the caller's rule snapshot still carries
// the stored marker value.
type fakeStore struct {
	rules    map[int64]*core.Rule
	nextID   int64
	txns     []core.Transaction
	failWith error
}

func newFakeStore(rules ...core.Rule) *fakeStore {
	s := &fakeStore{rules: make(map[int64]*core.Rule)}
	for i := range rules {
		r := rules[i]
		s.rules[r.ID] = &r
	}
	return s
}

func (s *fakeStore) ListActiveRules(ctx context.Context, owner string) ([]core.Rule, error) {
	var out []core.Rule
	for _, r := range s.rules {
		if !r.Active {
			continue
		}
		if owner != "" && r.Owner != owner {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *fakeStore) Materialize(ctx context.Context, rule core.Rule, now time.Time) (core.Transaction, error) {
	if s.failWith != nil {
		return core.Transaction{}, s.failWith
	}
	stored, ok := s.rules[rule.ID]
	if !ok {
		return core.Transaction{}, storage.ErrNotFound
	}
	if !stored.LastProcessed.Equal(rule.LastProcessed.Time) {
		return core.Transaction{}, storage.ErrMarkerAdvanced
	}

	s.nextID++
	txn := core.Transaction{
		ID:          s.nextID,
		Owner:       rule.Owner,
		Amount:      rule.Amount,
		Description: rule.Description,
		Date:        core.Date{Time: core.DayOf(now)},
		Direction:   rule.Direction,
		Category:    rule.Category,
	}
	s.txns = append(s.txns, txn)
	stored.LastProcessed = core.Date{Time: core.DayOf(now)}
	return txn, nil
}

type fakeCategories struct {
	known map[string]bool // owner + "/" + name
	err   error
}

func newFakeCategories(pairs ...[2]string) *fakeCategories {
	c := &fakeCategories{known: make(map[string]bool)}
	for _, p := range pairs {
		c.known[p[0]+"/"+p[1]] = true
	}
	return c
}

func (c *fakeCategories) HasCategory(ctx context.Context, owner, name string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.known[owner+"/"+name], nil
}

type fakeNotifier struct {
	notified []int64 // transaction ids
	err      error
}

func (n *fakeNotifier) TransactionCreated(ctx context.Context, txn core.Transaction, ruleID int64) error {
	if n.err != nil {
		return n.err
	}
	n.notified = append(n.notified, txn.ID)
	return nil
}

var errStoreDown = errors.New("datastore unavailable")
