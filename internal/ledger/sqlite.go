package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/doint-ledger/internal/amount"
)

// SQLiteStore is a single-connection Account Store for development and
// tests. Amounts are kept as exact decimal text, so sums and ordering are
// computed in Go rather than by SQLite's floating point aggregates.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens path (or ":memory:") with one connection, so the whole
// store behaves as a single writer.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_txlock=immediate&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an existing handle. The caller should limit it to a
// single open connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, s, "migrations/sqlite")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureMigrationTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationTable+` (
			name TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`)
	return err
}

func (s *SQLiteStore) migrationApplied(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM "+migrationTable+" WHERE name = ?", name).Scan(&count)
	return count > 0, err
}

func (s *SQLiteStore) applyMigration(ctx context.Context, name, upSQL string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upSQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
		name, time.Now().UTC().UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Bank(ctx context.Context, _ bool) (Bank, error) {
	var b Bank
	err := t.tx.QueryRowContext(ctx,
		"SELECT doints_on_hand, total_doints, tax_rate, ubi_rate FROM bank WHERE id = 'B'").
		Scan(&b.OnHand, &b.Total, &b.TaxRate, &b.UBIRate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Bank{}, ErrBankMissing
		}
		return Bank{}, fmt.Errorf("failed to read bank: %w", err)
	}
	return b, nil
}

func (t *sqliteTx) SaveBank(ctx context.Context, b Bank) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE bank SET doints_on_hand = ?, total_doints = ? WHERE id = 'B'", b.OnHand, b.Total)
	if err != nil {
		return fmt.Errorf("failed to save bank: %w", err)
	}
	return expectOneRow(res, ErrBankMissing)
}

func (t *sqliteTx) SetRate(ctx context.Context, kind RateKind, rate int) error {
	query := "UPDATE bank SET tax_rate = ? WHERE id = 'B'"
	if kind == UBIRate {
		query = "UPDATE bank SET ubi_rate = ? WHERE id = 'B'"
	}
	res, err := t.tx.ExecContext(ctx, query, rate)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", kind, err)
	}
	return expectOneRow(res, ErrBankMissing)
}

func (t *sqliteTx) FeeSchedule(ctx context.Context) (FeeSchedule, error) {
	var s FeeSchedule
	err := t.tx.QueryRowContext(ctx,
		"SELECT flat_fee, percentage_fee FROM fees WHERE id = 'F'").Scan(&s.FlatFee, &s.PercentageFee)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FeeSchedule{}, nil
		}
		return FeeSchedule{}, fmt.Errorf("failed to read fee schedule: %w", err)
	}
	return s, nil
}

func (t *sqliteTx) SaveFeeSchedule(ctx context.Context, s FeeSchedule) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO fees (id, flat_fee, percentage_fee) VALUES ('F', ?, ?)",
		s.FlatFee.String(), s.PercentageFee)
	if err != nil {
		return fmt.Errorf("failed to save fee schedule: %w", err)
	}
	return nil
}

func (t *sqliteTx) User(ctx context.Context, id uint64, _ bool) (User, bool, error) {
	u := User{ID: id}
	err := t.tx.QueryRowContext(ctx, "SELECT bal FROM users WHERE id = ?", int64(id)).Scan(&u.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, fmt.Errorf("failed to read user %d: %w", id, err)
	}
	return u, true, nil
}

func (t *sqliteTx) SaveUser(ctx context.Context, u User) error {
	res, err := t.tx.ExecContext(ctx, "UPDATE users SET bal = ? WHERE id = ?", u.Balance, int64(u.ID))
	if err != nil {
		return fmt.Errorf("failed to save user %d: %w", u.ID, err)
	}
	return expectOneRow(res, ErrUserNotFound)
}

func (t *sqliteTx) CreateUser(ctx context.Context, id uint64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, "INSERT OR IGNORE INTO users (id, bal) VALUES (?, '0')", int64(id))
	if err != nil {
		return false, fmt.Errorf("failed to create user %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *sqliteTx) DeleteUser(ctx context.Context, id uint64) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete user %d: %w", id, err)
	}
	return expectOneRow(res, ErrUserNotFound)
}

func (t *sqliteTx) allUsers(ctx context.Context) ([]User, error) {
	rows, err := t.tx.QueryContext(ctx, "SELECT id, bal FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var (
			id int64
			u  User
		)
		if err := rows.Scan(&id, &u.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.ID = uint64(id)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func (t *sqliteTx) Users(ctx context.Context, positiveOnly bool) ([]User, error) {
	users, err := t.allUsers(ctx)
	if err != nil || !positiveOnly {
		return users, err
	}
	positive := users[:0]
	for _, u := range users {
		if u.Balance.IsPositive() {
			positive = append(positive, u)
		}
	}
	return positive, nil
}

func (t *sqliteTx) TopUsers(ctx context.Context, limit int, ascending bool) ([]User, error) {
	users, err := t.allUsers(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(users, func(i, j int) bool {
		c := users[i].Balance.Cmp(users[j].Balance)
		if ascending {
			return c < 0
		}
		return c > 0
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (t *sqliteTx) SumBalances(ctx context.Context) (amount.Amount, error) {
	users, err := t.allUsers(ctx)
	if err != nil {
		return amount.Zero, err
	}
	sum := amount.Zero
	for _, u := range users {
		sum = sum.Add(u.Balance)
	}
	return sum, nil
}

func (t *sqliteTx) InsertJournal(ctx context.Context, e JournalEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO journal (id, batch_id, kind, reason, sender, recipient, amount, fee, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.BatchID.String(), string(e.Kind), e.Reason,
		e.Sender.String(), e.Recipient.String(), e.Amount.String(), e.Fee.String(), e.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

func (t *sqliteTx) Journal(ctx context.Context, limit int) ([]JournalEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, batch_id, kind, reason, sender, recipient, amount, fee, created_at
		FROM journal ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			rec       journalRow
			createdAt int64
		)
		if err := rows.Scan(&rec.id, &rec.batchID, &rec.kind, &rec.reason,
			&rec.sender, &rec.recipient, &rec.amount, &rec.fee, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e, err := rec.entry(time.Unix(0, createdAt))
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

func expectOneRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 1 {
		return missing
	}
	return nil
}
