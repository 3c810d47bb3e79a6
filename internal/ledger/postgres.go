package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/doint-ledger/internal/amount"
)

const defaultTxTimeout = 30 * time.Second

// PostgresStore is the production Account Store. Transactions run at READ
// COMMITTED; every balance read that precedes a write takes a row lock with
// SELECT ... FOR UPDATE, which is enough to prevent lost updates.
type PostgresStore struct {
	Pool      *pgxpool.Pool
	TxTimeout time.Duration
}

// NewPostgresStore creates a store over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool, TxTimeout: defaultTxTimeout}
}

// InTx runs fn inside one database transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	if s.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.TxTimeout)
		defer cancel()
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Migrate creates the schema and seeds the singleton bank and fee rows.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, s, "migrations/postgres")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.Pool.Close()
	return nil
}

func (s *PostgresStore) ensureMigrationTable(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationTable+` (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

func (s *PostgresStore) migrationApplied(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM "+migrationTable+" WHERE name = $1)", name).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) applyMigration(ctx context.Context, name, upSQL string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, upSQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO "+migrationTable+" (name) VALUES ($1) ON CONFLICT (name) DO NOTHING", name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func parseAmount(s string) (amount.Amount, error) {
	a, err := amount.Parse(s)
	if err != nil {
		return amount.Zero, fmt.Errorf("failed to parse stored amount: %w", err)
	}
	return a, nil
}

func (t *pgTx) Bank(ctx context.Context, forUpdate bool) (Bank, error) {
	var (
		b             Bank
		onHand, total string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT doints_on_hand::text, total_doints::text, tax_rate, ubi_rate
		FROM bank WHERE id = 'B'`+lockClause(forUpdate)).Scan(&onHand, &total, &b.TaxRate, &b.UBIRate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bank{}, ErrBankMissing
		}
		return Bank{}, fmt.Errorf("failed to read bank: %w", err)
	}
	if b.OnHand, err = parseAmount(onHand); err != nil {
		return Bank{}, err
	}
	if b.Total, err = parseAmount(total); err != nil {
		return Bank{}, err
	}
	return b, nil
}

func (t *pgTx) SaveBank(ctx context.Context, b Bank) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bank SET doints_on_hand = $1::numeric, total_doints = $2::numeric
		WHERE id = 'B'`, b.OnHand.String(), b.Total.String())
	if err != nil {
		return fmt.Errorf("failed to save bank: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrBankMissing
	}
	return nil
}

func (t *pgTx) SetRate(ctx context.Context, kind RateKind, rate int) error {
	query := "UPDATE bank SET tax_rate = $1 WHERE id = 'B'"
	if kind == UBIRate {
		query = "UPDATE bank SET ubi_rate = $1 WHERE id = 'B'"
	}
	tag, err := t.tx.Exec(ctx, query, rate)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", kind, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrBankMissing
	}
	return nil
}

func (t *pgTx) FeeSchedule(ctx context.Context) (FeeSchedule, error) {
	var (
		s    FeeSchedule
		flat string
	)
	err := t.tx.QueryRow(ctx,
		"SELECT flat_fee::text, percentage_fee FROM fees WHERE id = 'F'").Scan(&flat, &s.PercentageFee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FeeSchedule{}, nil
		}
		return FeeSchedule{}, fmt.Errorf("failed to read fee schedule: %w", err)
	}
	if s.FlatFee, err = parseAmount(flat); err != nil {
		return FeeSchedule{}, err
	}
	return s, nil
}

func (t *pgTx) SaveFeeSchedule(ctx context.Context, s FeeSchedule) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO fees (id, flat_fee, percentage_fee) VALUES ('F', $1, $2)
		ON CONFLICT (id) DO UPDATE SET flat_fee = EXCLUDED.flat_fee, percentage_fee = EXCLUDED.percentage_fee`,
		s.FlatFee.String(), s.PercentageFee)
	if err != nil {
		return fmt.Errorf("failed to save fee schedule: %w", err)
	}
	return nil
}

func (t *pgTx) User(ctx context.Context, id uint64, forUpdate bool) (User, bool, error) {
	var bal string
	err := t.tx.QueryRow(ctx,
		"SELECT bal::text FROM users WHERE id = $1"+lockClause(forUpdate), int64(id)).Scan(&bal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, fmt.Errorf("failed to read user %d: %w", id, err)
	}
	a, err := parseAmount(bal)
	if err != nil {
		return User{}, false, err
	}
	return User{ID: id, Balance: a}, true, nil
}

func (t *pgTx) SaveUser(ctx context.Context, u User) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE users SET bal = $2::numeric WHERE id = $1", int64(u.ID), u.Balance.String())
	if err != nil {
		return fmt.Errorf("failed to save user %d: %w", u.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrUserNotFound
	}
	return nil
}

func (t *pgTx) CreateUser(ctx context.Context, id uint64) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		"INSERT INTO users (id, bal) VALUES ($1, 0) ON CONFLICT (id) DO NOTHING", int64(id))
	if err != nil {
		return false, fmt.Errorf("failed to create user %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) DeleteUser(ctx context.Context, id uint64) error {
	tag, err := t.tx.Exec(ctx, "DELETE FROM users WHERE id = $1", int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete user %d: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrUserNotFound
	}
	return nil
}

func (t *pgTx) Users(ctx context.Context, positiveOnly bool) ([]User, error) {
	query := "SELECT id, bal::text FROM users ORDER BY id FOR UPDATE"
	if positiveOnly {
		query = "SELECT id, bal::text FROM users WHERE bal > 0 ORDER BY id FOR UPDATE"
	}
	return t.queryUsers(ctx, query)
}

func (t *pgTx) TopUsers(ctx context.Context, limit int, ascending bool) ([]User, error) {
	query := "SELECT id, bal::text FROM users ORDER BY bal DESC, id LIMIT $1"
	if ascending {
		query = "SELECT id, bal::text FROM users ORDER BY bal ASC, id LIMIT $1"
	}
	return t.queryUsers(ctx, query, limit)
}

func (t *pgTx) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var (
			id  int64
			bal string
		)
		if err := rows.Scan(&id, &bal); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		a, err := parseAmount(bal)
		if err != nil {
			return nil, err
		}
		users = append(users, User{ID: uint64(id), Balance: a})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func (t *pgTx) SumBalances(ctx context.Context) (amount.Amount, error) {
	var sum string
	if err := t.tx.QueryRow(ctx,
		"SELECT COALESCE(SUM(bal), 0)::text FROM users").Scan(&sum); err != nil {
		return amount.Zero, fmt.Errorf("failed to sum balances: %w", err)
	}
	return parseAmount(sum)
}

func (t *pgTx) InsertJournal(ctx context.Context, e JournalEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO journal (id, batch_id, kind, reason, sender, recipient, amount, fee, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9)`,
		e.ID.String(), e.BatchID.String(), string(e.Kind), e.Reason,
		e.Sender.String(), e.Recipient.String(), e.Amount.String(), e.Fee.String(), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

func (t *pgTx) Journal(ctx context.Context, limit int) ([]JournalEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id::text, batch_id::text, kind, reason, sender, recipient, amount::text, fee::text, created_at
		FROM journal ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			rec       journalRow
			createdAt time.Time
		)
		if err := rows.Scan(&rec.id, &rec.batchID, &rec.kind, &rec.reason,
			&rec.sender, &rec.recipient, &rec.amount, &rec.fee, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e, err := rec.entry(createdAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal: %w", err)
	}
	return entries, nil
}

// journalRow holds the textual columns shared by both backends.
type journalRow struct {
	id, batchID, kind, reason, sender, recipient, amount, fee string
}

func (r journalRow) entry(createdAt time.Time) (JournalEntry, error) {
	var (
		e   JournalEntry
		err error
	)
	if e.ID, err = uuid.Parse(r.id); err != nil {
		return JournalEntry{}, fmt.Errorf("failed to parse journal id: %w", err)
	}
	if e.BatchID, err = uuid.Parse(r.batchID); err != nil {
		return JournalEntry{}, fmt.Errorf("failed to parse journal batch id: %w", err)
	}
	if e.Sender, err = ParseParty(r.sender); err != nil {
		return JournalEntry{}, err
	}
	if e.Recipient, err = ParseParty(r.recipient); err != nil {
		return JournalEntry{}, err
	}
	if e.Amount, err = parseAmount(r.amount); err != nil {
		return JournalEntry{}, err
	}
	if e.Fee, err = parseAmount(r.fee); err != nil {
		return JournalEntry{}, err
	}
	e.Kind = JournalKind(r.kind)
	e.Reason = r.reason
	e.CreatedAt = createdAt.UTC()
	return e, nil
}
