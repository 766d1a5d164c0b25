package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/pkg/models"
)

// AccountStore persists connected social accounts. Payloads arrive already
// encrypted by the vault; this layer never sees plaintext secrets.
type AccountStore struct {
	db *sql.DB
}

// NewAccountStore wraps an opened database.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

// Create inserts a new active account with its encrypted payload.
func (s *AccountStore) Create(ctx context.Context, userID string, platform models.Platform, method models.AuthMethod, handle string, payload []byte) (*models.Account, error) {
	now := time.Now().UTC()
	acct := &models.Account{
		ID:         uuid.New().String(),
		UserID:     userID,
		Platform:   platform,
		AuthMethod: method,
		Handle:     handle,
		Payload:    payload,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, platform, auth_method, handle, payload, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		acct.ID, acct.UserID, acct.Platform, acct.AuthMethod, acct.Handle, acct.Payload, now, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert account")
	}
	return acct, nil
}

// Get returns an active account by ID.
func (s *AccountStore) Get(ctx context.Context, id string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, platform, auth_method, handle, payload, is_active, created_at, updated_at
		FROM accounts WHERE id = ? AND is_active = 1`, id)
	return scanAccount(row)
}

// ListByUser returns all active accounts for a user.
func (s *AccountStore) ListByUser(ctx context.Context, userID string) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, platform, auth_method, handle, payload, is_active, created_at, updated_at
		FROM accounts WHERE user_id = ? AND is_active = 1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query accounts")
	}
	defer rows.Close()

	var accts []*models.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accts = append(accts, acct)
	}
	return accts, rows.Err()
}

// UpdatePayload replaces an account's encrypted payload, used when fresh
// cookies are captured for an existing account.
func (s *AccountStore) UpdatePayload(ctx context.Context, id string, payload []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET payload = ?, updated_at = ? WHERE id = ? AND is_active = 1`,
		payload, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "update payload")
	}
	return requireAccountRow(res, id)
}

// Deactivate soft-deletes an account. Used both for explicit disconnects and
// to flag an account for re-connection after its stored session expires.
func (s *AccountStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`,
		time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "deactivate account")
	}
	return requireAccountRow(res, id)
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var acct models.Account
	err := row.Scan(&acct.ID, &acct.UserID, &acct.Platform, &acct.AuthMethod,
		&acct.Handle, &acct.Payload, &acct.IsActive, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(faults.ErrNotFound, "account")
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan account")
	}
	return &acct, nil
}

func requireAccountRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(faults.ErrNotFound, "account %s", id)
	}
	return nil
}
