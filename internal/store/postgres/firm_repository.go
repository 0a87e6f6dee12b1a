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
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/firmgate/firmgate/internal/firm"
	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/scope"
)

// FirmRepository implements firm.Repository
type FirmRepository struct {
	db     *DB
	engine *scope.Engine
}

// NewFirmRepository creates a new firm repository
func NewFirmRepository(db *DB, engine *scope.Engine) *FirmRepository {
	return &FirmRepository{db: db, engine: engine}
}

// Create creates a new firm
func (r *FirmRepository) Create(ctx context.Context, f *firm.Firm) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO firms (id, name, type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, f.ID, f.Name, f.Type, f.Status, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert firm: %w", err)
	}
	f.CreatedAt = now
	f.UpdatedAt = now
	return nil
}

// Get retrieves a firm visible to the principal. A firm outside the
// caller's scope is reported as not found, not as forbidden, so its
// existence is not disclosed.
func (r *FirmRepository) Get(ctx context.Context, p *identity.Principal, id string) (*firm.Firm, error) {
	q := scope.NewQuery(`
		SELECT f.id, f.name, f.type, f.status, f.created_at, f.updated_at
		FROM firms f
		WHERE f.id = $1`, id)
	r.engine.Apply(p, "firm", q)

	var f firm.Firm
	err := r.db.pool.QueryRow(ctx, q.SQL, q.Args...).Scan(
		&f.ID, &f.Name, &f.Type, &f.Status, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, firm.ErrFirmNotFound
		}
		return nil, fmt.Errorf("failed to get firm: %w", err)
	}
	return &f, nil
}

// List retrieves the firms visible to the principal: the caller's own firm
// and firms sharing at least one project with it.
func (r *FirmRepository) List(ctx context.Context, p *identity.Principal) ([]*firm.Firm, error) {
	q := scope.NewQuery(`
		SELECT f.id, f.name, f.type, f.status, f.created_at, f.updated_at
		FROM firms f
		WHERE true`)
	r.engine.Apply(p, "firm", q)
	q.Append(` ORDER BY f.name`)

	return r.queryFirms(ctx, q.SQL, q.Args...)
}

// ListUnscoped retrieves all firms; the bypass capability must have been
// granted by the scope engine.
func (r *FirmRepository) ListUnscoped(ctx context.Context, b scope.Bypass) ([]*firm.Firm, error) {
	if !b.Granted() {
		return nil, scope.ErrBypassDenied
	}
	return r.queryFirms(ctx, `
		SELECT f.id, f.name, f.type, f.status, f.created_at, f.updated_at
		FROM firms f
		ORDER BY f.name`)
}

func (r *FirmRepository) queryFirms(ctx context.Context, sql string, args ...any) ([]*firm.Firm, error) {
	rows, err := r.db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list firms: %w", err)
	}
	defer rows.Close()

	var firms []*firm.Firm
	for rows.Next() {
		var f firm.Firm
		if err := rows.Scan(&f.ID, &f.Name, &f.Type, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan firm: %w", err)
		}
		firms = append(firms, &f)
	}
	return firms, rows.Err()
}
