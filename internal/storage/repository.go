package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"scadenze/internal/core"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrMarkerAdvanced is returned when the conditional advance of
	// last_processed_date matched zero rows: another run materialized the
	// rule first. The caller must not retry for the same period.
	ErrMarkerAdvanced = errors.New("rule marker already advanced")
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Ping reports whether the database is reachable; the readiness probe uses it.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateRule persists a validated rule and returns its id.
func (r *SQLiteRepository) CreateRule(ctx context.Context, rule core.Rule) (int64, error) {
	dow, dom := cadenceColumns(rule.Cadence)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recurrence_rules
			(owner, amount_cents, description, direction, category,
			 frequency, day_of_week, day_of_month,
			 start_date, end_date, active, last_processed_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		rule.Owner, rule.Amount.Cents, rule.Description, string(rule.Direction), rule.Category,
		string(rule.Cadence.Kind()), dow, dom,
		dateValue(rule.StartDate), dateValue(rule.EndDate), rule.Active,
	)
	if err != nil {
		return 0, fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("rule insert id: %w", err)
	}

	slog.InfoContext(ctx, "Recurrence rule created",
		"id", id,
		"owner", rule.Owner,
		"frequency", rule.Cadence.Kind(),
		"description", rule.Description)

	return id, nil
}

// GetRule loads a rule scoped to its owner. Returns ErrNotFound when the id
// does not exist or belongs to a different owner.
func (r *SQLiteRepository) GetRule(ctx context.Context, owner string, id int64) (core.Rule, error) {
	row := r.db.QueryRowContext(ctx, ruleSelect+` WHERE id = ? AND owner = ?`, id, owner)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Rule{}, ErrNotFound
	}
	if err != nil {
		return core.Rule{}, fmt.Errorf("get rule %d: %w", id, err)
	}
	return rule, nil
}

// ListRules returns all rules for one owner, newest first.
func (r *SQLiteRepository) ListRules(ctx context.Context, owner string) ([]core.Rule, error) {
	rows, err := r.db.QueryContext(ctx, ruleSelect+` WHERE owner = ? ORDER BY id DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListActiveRules returns active rules for a sweep. An empty owner selects
// active rules across all owners (the periodic job's scope).
func (r *SQLiteRepository) ListActiveRules(ctx context.Context, owner string) ([]core.Rule, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if owner == "" {
		rows, err = r.db.QueryContext(ctx, ruleSelect+` WHERE active = 1 ORDER BY id`)
	} else {
		rows, err = r.db.QueryContext(ctx, ruleSelect+` WHERE active = 1 AND owner = ? ORDER BY id`, owner)
	}
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// UpdateRule rewrites the user-editable fields of a rule. The progress marker
// is owned by Materialize and deliberately left untouched here.
func (r *SQLiteRepository) UpdateRule(ctx context.Context, rule core.Rule) error {
	dow, dom := cadenceColumns(rule.Cadence)
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurrence_rules SET
			amount_cents = ?, description = ?, direction = ?, category = ?,
			frequency = ?, day_of_week = ?, day_of_month = ?,
			start_date = ?, end_date = ?, active = ?,
			updated_at = datetime('now')
		WHERE id = ? AND owner = ?`,
		rule.Amount.Cents, rule.Description, string(rule.Direction), rule.Category,
		string(rule.Cadence.Kind()), dow, dom,
		dateValue(rule.StartDate), dateValue(rule.EndDate), rule.Active,
		rule.ID, rule.Owner,
	)
	if err != nil {
		return fmt.Errorf("update rule %d: %w", rule.ID, err)
	}
	return requireRow(res)
}

// SetRuleActive flips the activity flag (soft removal when false).
func (r *SQLiteRepository) SetRuleActive(ctx context.Context, owner string, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurrence_rules SET active = ?, updated_at = datetime('now')
		WHERE id = ? AND owner = ?`,
		active, id, owner,
	)
	if err != nil {
		return fmt.Errorf("set rule %d active: %w", id, err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) DeleteRule(ctx context.Context, owner string, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recurrence_rules WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	return requireRow(res)
}

// Materialize creates the concrete transaction for a due rule and advances
// the rule's last_processed_date, both inside one database transaction.
//
// The marker advance is guarded by the marker value the caller read
// (WHERE last_processed_date IS ?), so of two concurrent runs only one
// commits; the loser's insert is rolled back and ErrMarkerAdvanced returned.
// The marker can therefore only move forward, and a transaction exists for
// every advance.
func (r *SQLiteRepository) Materialize(ctx context.Context, rule core.Rule, now time.Time) (core.Transaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin materialize: %w", err)
	}
	defer tx.Rollback()

	day := core.Date{Time: core.DayOf(now)}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (owner, amount_cents, description, date, direction, category, rule_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rule.Owner, rule.Amount.Cents, rule.Description, dateValue(day),
		string(rule.Direction), rule.Category, rule.ID,
	)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	txnID, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction insert id: %w", err)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE recurrence_rules
		SET last_processed_date = ?, updated_at = datetime('now')
		WHERE id = ? AND last_processed_date IS ?`,
		dateValue(day), rule.ID, dateValue(rule.LastProcessed),
	)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("advance rule marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("advance rows affected: %w", err)
	}
	if n == 0 {
		return core.Transaction{}, ErrMarkerAdvanced
	}

	if err := tx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit materialize: %w", err)
	}

	slog.InfoContext(ctx, "Transaction materialized",
		"transaction_id", txnID,
		"rule_id", rule.ID,
		"owner", rule.Owner,
		"amount_cents", rule.Amount.Cents,
		"date", day.Format(time.DateOnly))

	return core.Transaction{
		ID:          txnID,
		Owner:       rule.Owner,
		Amount:      rule.Amount,
		Description: rule.Description,
		Date:        day,
		Direction:   rule.Direction,
		Category:    rule.Category,
	}, nil
}

// GetTransaction loads a single materialized transaction by id.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, txnSelect+` WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return txn, nil
}

// ListTransactions returns an owner's materialized transactions, newest first.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, owner string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, txnSelect+` WHERE owner = ? ORDER BY id DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []core.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// ListUnmirrored returns transactions not yet written to the ledger mirror.
// This backs the ledger worker's catch-up pass for lost messages.
func (r *SQLiteRepository) ListUnmirrored(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, txnSelect+` WHERE mirrored = 0 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unmirrored transactions: %w", err)
	}
	defer rows.Close()

	var txns []core.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// MarkMirrored records that a transaction reached the ledger mirror.
func (r *SQLiteRepository) MarkMirrored(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transactions SET mirrored = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark transaction mirrored: %w", err)
	}
	return requireRow(res)
}

// HasCategory reports whether the category exists for the owner. Rules must
// reference a category of their own owner, checked at create/update and again
// at materialization time.
func (r *SQLiteRepository) HasCategory(ctx context.Context, owner, name string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM categories WHERE owner = ? AND name = ?`, owner, name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check category: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, owner, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO categories (owner, name) VALUES (?, ?)`, owner, name)
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, owner, name string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM categories WHERE owner = ? AND name = ?`, owner, name)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return nil
}

const ruleSelect = `
	SELECT id, owner, amount_cents, description, direction, category,
	       frequency, day_of_week, day_of_month,
	       start_date, end_date, active, last_processed_date
	FROM recurrence_rules`

const txnSelect = `
	SELECT id, owner, amount_cents, description, date, direction, category
	FROM transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (core.Rule, error) {
	var (
		rule      core.Rule
		direction string
		frequency string
		dow       sql.NullInt64
		dom       sql.NullInt64
		start     string
		end       sql.NullString
		last      sql.NullString
	)
	err := row.Scan(&rule.ID, &rule.Owner, &rule.Amount.Cents, &rule.Description,
		&direction, &rule.Category, &frequency, &dow, &dom,
		&start, &end, &rule.Active, &last)
	if err != nil {
		return core.Rule{}, err
	}

	rule.Direction = core.Direction(direction)
	rule.Cadence, err = core.BuildCadence(core.CadenceKind(frequency), int(dow.Int64), int(dom.Int64))
	if err != nil {
		return core.Rule{}, fmt.Errorf("rule %d: %w", rule.ID, err)
	}

	if rule.StartDate, err = parseDate(start); err != nil {
		return core.Rule{}, fmt.Errorf("rule %d start date: %w", rule.ID, err)
	}
	if end.Valid {
		if rule.EndDate, err = parseDate(end.String); err != nil {
			return core.Rule{}, fmt.Errorf("rule %d end date: %w", rule.ID, err)
		}
	}
	if last.Valid {
		if rule.LastProcessed, err = parseDate(last.String); err != nil {
			return core.Rule{}, fmt.Errorf("rule %d last processed date: %w", rule.ID, err)
		}
	}
	return rule, nil
}

func scanRules(rows *sql.Rows) ([]core.Rule, error) {
	var rules []core.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		txn       core.Transaction
		direction string
		date      string
	)
	err := row.Scan(&txn.ID, &txn.Owner, &txn.Amount.Cents, &txn.Description,
		&date, &direction, &txn.Category)
	if err != nil {
		return core.Transaction{}, err
	}
	txn.Direction = core.Direction(direction)
	if txn.Date, err = parseDate(date); err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %d date: %w", txn.ID, err)
	}
	return txn, nil
}

// cadenceColumns maps a cadence variant to the day_of_week/day_of_month
// columns. Kinds that do not carry a field store NULL, never a stale value.
func cadenceColumns(c core.Cadence) (dayOfWeek, dayOfMonth any) {
	switch v := c.(type) {
	case core.Weekly:
		return int(v.DayOfWeek), nil
	case core.Monthly:
		return nil, v.DayOfMonth
	}
	return nil, nil
}

// dateValue maps a Date to its column value: a YYYY-MM-DD string, or NULL for
// the zero date so the marker guard can compare with IS.
func dateValue(d core.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.Format(time.DateOnly)
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return core.Date{}, err
	}
	return core.Date{Time: t}, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
