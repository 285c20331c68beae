package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// Repository persists accounts keyed by normalized email.
type Repository interface {
	// Create inserts account unless its email is taken, in which case it
	// returns ErrAccountExists and leaves the stored account untouched.
	Create(ctx context.Context, account Account) error

	// FindByEmail returns ErrAccountNotFound for unknown keys.
	FindByEmail(ctx context.Context, email string) (Account, error)

	// Update applies fn to the stored account and writes the result. Calls
	// for the same email are serialized. An error from fn aborts the write
	// and is returned unchanged.
	Update(ctx context.Context, email string, fn func(*Account) error) (Account, error)
}

// pgxPool is the subset of *pgxpool.Pool used by PostgresRepository.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db pgxPool
}

// NewPostgresRepository builds a Postgres-backed account repository.
func NewPostgresRepository(db pgxPool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectAccount = `SELECT id, email, name, password_hash, salt, verified, pending_code, created_at, verified_at FROM accounts`

// Create inserts a new account.
func (r *PostgresRepository) Create(ctx context.Context, account Account) error {
	id, err := uuid.Parse(account.ID)
	if err != nil {
		return oops.With("operation", "parse account id").Wrap(err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO accounts (id, email, name, password_hash, salt, verified, pending_code, created_at, verified_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, account.Email, account.Name, account.PasswordHash, account.Salt,
		account.Verified, nullString(account.PendingCode), account.CreatedAt.UTC(), nullTime(account.VerifiedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrAccountExists
		}
		return oops.With("operation", "insert account").With("email", account.Email).Wrap(err)
	}
	return nil
}

// FindByEmail fetches an account by normalized email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	account, err := scanAccount(r.db.QueryRow(ctx, selectAccount+` WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, oops.With("operation", "select account").With("email", email).Wrap(err)
	}
	return account, nil
}

// Update locks the account row for the duration of fn.
func (r *PostgresRepository) Update(ctx context.Context, email string, fn func(*Account) error) (Account, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Account{}, oops.With("operation", "begin update").Wrap(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	account, err := scanAccount(tx.QueryRow(ctx, selectAccount+` WHERE email = $1 FOR UPDATE`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, oops.With("operation", "lock account").With("email", email).Wrap(err)
	}

	if err := fn(&account); err != nil {
		return Account{}, err
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET verified = $2, pending_code = $3, verified_at = $4 WHERE email = $1`,
		email, account.Verified, nullString(account.PendingCode), nullTime(account.VerifiedAt)); err != nil {
		return Account{}, oops.With("operation", "update account").With("email", email).Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, oops.With("operation", "commit update").Wrap(err)
	}
	committed = true
	return account, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		id          uuid.UUID
		pendingCode *string
		createdAt   time.Time
		verifiedAt  *time.Time
		account     Account
	)
	if err := row.Scan(&id, &account.Email, &account.Name, &account.PasswordHash, &account.Salt,
		&account.Verified, &pendingCode, &createdAt, &verifiedAt); err != nil {
		return Account{}, err
	}
	account.ID = id.String()
	account.CreatedAt = createdAt.UTC()
	if pendingCode != nil {
		account.PendingCode = *pendingCode
	}
	if verifiedAt != nil {
		account.VerifiedAt = verifiedAt.UTC()
	}
	return account, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
