package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/sealbox/internal/shared"
)

const directorySchema = `
CREATE TABLE IF NOT EXISTS accounts (
	address TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	organization TEXT NOT NULL DEFAULT '',
	salt BLOB NOT NULL,
	verifier BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS push_tokens (
	address TEXT NOT NULL REFERENCES accounts(address) ON DELETE CASCADE,
	token TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (address, token)
);
`

// SQLiteDirectory implements Directory using SQLite.
type SQLiteDirectory struct {
	db *sql.DB
}

var _ Directory = (*SQLiteDirectory)(nil)

// OpenDirectory opens the account directory at dbPath.
func OpenDirectory(dbPath string) (*SQLiteDirectory, error) {
	db, err := open(dbPath, directorySchema, 4)
	if err != nil {
		return nil, err
	}
	return &SQLiteDirectory{db: db}, nil
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// CreateAccount inserts a new account.
func (d *SQLiteDirectory) CreateAccount(ctx context.Context, acct *Account) error {
	query := `
	INSERT INTO accounts (address, name, organization, salt, verifier, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	err := withRetry(ctx, "create account", func() error {
		_, err := d.db.ExecContext(ctx, query,
			normalizeAddress(acct.Address), acct.Name, acct.Organization,
			acct.Salt, acct.Verifier, acct.CreatedAt.Unix(),
		)
		return err
	})
	if shared.IsSQLiteConstraintError(err) {
		return ErrExists
	}
	return err
}

// GetAccount retrieves an account by address.
func (d *SQLiteDirectory) GetAccount(ctx context.Context, address string) (*Account, error) {
	query := `
		SELECT address, name, organization, salt, verifier, created_at
		FROM accounts WHERE address = ?`

	row := d.db.QueryRowContext(ctx, query, normalizeAddress(address))

	var acct Account
	var createdAt int64
	err := row.Scan(&acct.Address, &acct.Name, &acct.Organization, &acct.Salt, &acct.Verifier, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account row: %w", err)
	}
	acct.CreatedAt = time.Unix(createdAt, 0)
	return &acct, nil
}

// AddPushToken registers token for address. Registering twice is harmless.
func (d *SQLiteDirectory) AddPushToken(ctx context.Context, address, token string) error {
	query := `
	INSERT INTO push_tokens (address, token, created_at) VALUES (?, ?, ?)
	ON CONFLICT(address, token) DO NOTHING`

	return withRetry(ctx, "add push token", func() error {
		_, err := d.db.ExecContext(ctx, query, normalizeAddress(address), token, time.Now().Unix())
		return err
	})
}

// RemovePushToken withdraws token for address.
func (d *SQLiteDirectory) RemovePushToken(ctx context.Context, address, token string) error {
	return withRetry(ctx, "remove push token", func() error {
		_, err := d.db.ExecContext(ctx, `DELETE FROM push_tokens WHERE address = ? AND token = ?`,
			normalizeAddress(address), token)
		return err
	})
}

// PushTokens lists the tokens registered for address.
func (d *SQLiteDirectory) PushTokens(ctx context.Context, address string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT token FROM push_tokens WHERE address = ? ORDER BY created_at, token`,
		normalizeAddress(address))
	if err != nil {
		return nil, fmt.Errorf("query push tokens: %w", err)
	}
	defer closeRows(rows, "push tokens")

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate push tokens: %w", err)
	}
	return tokens, nil
}

// Close closes the database connection.
func (d *SQLiteDirectory) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close directory: %w", err)
	}
	return nil
}
