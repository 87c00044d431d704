package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/castlewood/storefront/internal/apperror"
)

// mysqlDuplicateEntry is the MariaDB error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// UserRepository defines the data access contract for user operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	// Create inserts a new user. Returns apperror.Conflict if the email is
	// already taken -- the database unique constraint is the only
	// race-safe duplicate check, so callers must treat this error as the
	// authoritative signal even after a prior EmailExists check.
	Create(ctx context.Context, user *User) error

	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateLastLogin(ctx context.Context, id string) error

	// Password reset. Tokens are matched by hash and only while unexpired;
	// the expiry comparison happens in SQL against the supplied clock so
	// the validity rule lives in exactly one place.
	SaveResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	FindByValidResetToken(ctx context.Context, tokenHash string, now time.Time) (*User, error)
	FindByValidResetTokenForUser(ctx context.Context, tokenHash, userID string, now time.Time) (*User, error)
	UpdatePasswordAndClearResetToken(ctx context.Context, userID, passwordHash string) error
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

// userColumns is the scan list shared by all single-user queries.
const userColumns = `id, email, password_hash, cart, reset_token_hash,
                    reset_token_expires_at, created_at, last_login_at`

// scanUser scans one user row from a QueryRow result.
func scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Cart,
		&user.ResetTokenHash,
		&user.ResetTokenExpiresAt,
		&user.CreatedAt,
		&user.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create inserts a new user row into the users table.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, email, password_hash, cart, created_at)
	          VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Cart,
		user.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return apperror.NewConflict("an account with this email already exists")
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	return nil
}

// FindByID retrieves a user by their UUID.
// Returns apperror.NotFound if no user exists with this ID.
func (r *userRepository) FindByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}

	return user, nil
}

// FindByEmail retrieves a user by their email address.
// Returns apperror.NotFound if no user exists with this email.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}

	return user, nil
}

// EmailExists returns true if a user with the given email already exists.
// Used during signup to check for duplicates before hashing the password.
func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}

	return exists, nil
}

// UpdateLastLogin sets the last_login_at timestamp to now for the given user.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id string) error {
	query := `UPDATE users SET last_login_at = NOW() WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}

	return nil
}

// --- Password Reset ---

// SaveResetToken opens a reset window for the user: both reset columns are
// written in one statement so they can never be half-set. A second reset
// request simply overwrites the previous token.
func (r *userRepository) SaveResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	query := `UPDATE users SET reset_token_hash = ?, reset_token_expires_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, tokenHash, expiresAt, userID)
	if err != nil {
		return fmt.Errorf("saving reset token: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// FindByValidResetToken retrieves the user holding the given token hash,
// but only while the token is unexpired.
// Returns apperror.NotFound for unknown and expired tokens alike.
func (r *userRepository) FindByValidResetToken(ctx context.Context, tokenHash string, now time.Time) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users
	          WHERE reset_token_hash = ? AND reset_token_expires_at > ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, tokenHash, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("invalid or expired reset token")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by reset token: %w", err)
	}

	return user, nil
}

// FindByValidResetTokenForUser is FindByValidResetToken additionally
// constrained to a user id. The set-new-password step uses it to reject a
// token/user mismatch without revealing which of the two was wrong.
func (r *userRepository) FindByValidResetTokenForUser(ctx context.Context, tokenHash, userID string, now time.Time) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users
	          WHERE reset_token_hash = ? AND reset_token_expires_at > ? AND id = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, tokenHash, now, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("invalid or expired reset token")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by reset token: %w", err)
	}

	return user, nil
}

// UpdatePasswordAndClearResetToken stores the new password hash and closes
// the reset window in a single statement, making token consumption atomic:
// once the new hash lands, the token can never match again.
func (r *userRepository) UpdatePasswordAndClearResetToken(ctx context.Context, userID, passwordHash string) error {
	query := `UPDATE users
	          SET password_hash = ?, reset_token_hash = NULL, reset_token_expires_at = NULL
	          WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}
