// Copyright 2026 The FirmGate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/firmgate/firmgate/internal/authz"
	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/scope"
)

// PrincipalRepository implements identity.Repository
type PrincipalRepository struct {
	db     *DB
	engine *scope.Engine
}

// NewPrincipalRepository creates a new principal repository
func NewPrincipalRepository(db *DB, engine *scope.Engine) *PrincipalRepository {
	return &PrincipalRepository{db: db, engine: engine}
}

const principalColumns = `id, email, role, firm_id, status, failed_login_attempts, locked_until, created_at, updated_at, deleted_at`

// Create creates a new principal
func (r *PrincipalRepository) Create(ctx context.Context, p *identity.Principal) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO principals (id, email, role, firm_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Email, string(p.Role), p.FirmID, p.Status, now, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return identity.ErrPrincipalAlreadyExists
		}
		return fmt.Errorf("failed to insert principal: %w", err)
	}

	p.CreatedAt = now
	p.UpdatedAt = now

	return nil
}

// GetByID retrieves a principal by ID
func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*identity.Principal, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+principalColumns+`
		FROM principals
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanPrincipal(row)
}

// GetByEmail retrieves a principal by email
func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*identity.Principal, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+principalColumns+`
		FROM principals
		WHERE email = $1 AND deleted_at IS NULL
	`, email)
	return scanPrincipal(row)
}

// List retrieves the principals visible to the caller. The tenant scope
// engine attaches the firm predicate; superadmins see everyone.
func (r *PrincipalRepository) List(ctx context.Context, caller *identity.Principal) ([]*identity.Principal, error) {
	q := scope.NewQuery(`
		SELECT u.id, u.email, u.role, u.firm_id, u.status, u.failed_login_attempts, u.locked_until, u.created_at, u.updated_at, u.deleted_at
		FROM principals u
		WHERE u.deleted_at IS NULL`)
	r.engine.Apply(caller, "user", q)
	q.Append(` ORDER BY u.created_at`)

	rows, err := r.db.pool.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var principals []*identity.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	return principals, rows.Err()
}

// UpdateRole changes a principal's role
func (r *PrincipalRepository) UpdateRole(ctx context.Context, id string, role authz.Role) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE principals SET role = $1, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL
	`, string(role), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrPrincipalNotFound
	}
	return nil
}

// UpdateLockout updates failed-attempt tracking
func (r *PrincipalRepository) UpdateLockout(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE principals SET failed_login_attempts = $1, locked_until = $2, updated_at = $3
		WHERE id = $4 AND deleted_at IS NULL
	`, failedAttempts, lockedUntil, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update lockout: %w", err)
	}
	return nil
}

// AddCredentials stores credentials for a principal
func (r *PrincipalRepository) AddCredentials(ctx context.Context, creds *identity.Credentials) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO credentials (principal_id, password_hash, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal_id) DO UPDATE SET password_hash = $2, updated_at = $3
	`, creds.PrincipalID, creds.PasswordHash, now)
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	creds.UpdatedAt = now
	return nil
}

// GetCredentials retrieves a principal's credentials
func (r *PrincipalRepository) GetCredentials(ctx context.Context, principalID string) (*identity.Credentials, error) {
	var creds identity.Credentials
	err := r.db.pool.QueryRow(ctx, `
		SELECT principal_id, password_hash, updated_at
		FROM credentials
		WHERE principal_id = $1
	`, principalID).Scan(&creds.PrincipalID, &creds.PasswordHash, &creds.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &creds, nil
}

func scanPrincipal(row pgx.Row) (*identity.Principal, error) {
	var p identity.Principal
	var role string
	var firmID sql.NullString
	var lockedUntil, deletedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.Email, &role, &firmID, &p.Status,
		&p.FailedLoginAttempts, &lockedUntil,
		&p.CreatedAt, &p.UpdatedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to scan principal: %w", err)
	}

	p.Role = authz.Role(role)
	if firmID.Valid {
		p.FirmID = &firmID.String
	}
	if lockedUntil.Valid {
		p.LockedUntil = &lockedUntil.Time
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}
	return &p, nil
}
