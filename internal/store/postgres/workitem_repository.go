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

	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/project"
	"github.com/firmgate/firmgate/internal/scope"
)

// WorkItemRepository implements project.WorkItemRepository. Tasks,
// requirements and milestones share one table; the kind column keeps them
// distinct entity types for scoping and access checks.
type WorkItemRepository struct {
	db     *DB
	engine *scope.Engine
}

// NewWorkItemRepository creates a new work item repository
func NewWorkItemRepository(db *DB, engine *scope.Engine) *WorkItemRepository {
	return &WorkItemRepository{db: db, engine: engine}
}

// Create stamps the owner firm and inserts the item in one transaction
func (r *WorkItemRepository) Create(ctx context.Context, p *identity.Principal, item *project.WorkItem) error {
	if !item.Kind.Valid() {
		return project.ErrUnknownWorkItemKind
	}

	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	r.engine.StampOwner(p, item)

	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO work_items (id, kind, project_id, firm_id, title, status, assigned_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, string(item.Kind), item.ProjectID, item.FirmID, item.Title, item.Status, item.AssignedUserID, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert work item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit work item: %w", err)
	}

	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

// Get retrieves a work item of the given kind visible to the principal
func (r *WorkItemRepository) Get(ctx context.Context, p *identity.Principal, kind project.WorkItemKind, id string) (*project.WorkItem, error) {
	if !kind.Valid() {
		return nil, project.ErrUnknownWorkItemKind
	}

	q := scope.NewQuery(`
		SELECT w.id, w.kind, w.project_id, w.firm_id, w.title, w.status, w.assigned_user_id, w.created_at, w.updated_at
		FROM work_items w
		WHERE w.id = $1 AND w.kind = $2`, id, string(kind))
	r.engine.Apply(p, string(kind), q)

	item, err := scanWorkItem(r.db.pool.QueryRow(ctx, q.SQL, q.Args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, project.ErrWorkItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// ListByProject retrieves the project's work items of one kind visible to
// the principal
func (r *WorkItemRepository) ListByProject(ctx context.Context, p *identity.Principal, kind project.WorkItemKind, projectID string) ([]*project.WorkItem, error) {
	if !kind.Valid() {
		return nil, project.ErrUnknownWorkItemKind
	}

	q := scope.NewQuery(`
		SELECT w.id, w.kind, w.project_id, w.firm_id, w.title, w.status, w.assigned_user_id, w.created_at, w.updated_at
		FROM work_items w
		WHERE w.project_id = $1 AND w.kind = $2`, projectID, string(kind))
	r.engine.Apply(p, string(kind), q)
	q.Append(` ORDER BY w.created_at`)

	rows, err := r.db.pool.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	defer rows.Close()

	var items []*project.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanWorkItem(row pgx.Row) (*project.WorkItem, error) {
	var item project.WorkItem
	var kind string
	var firmID, assignedUserID sql.NullString

	err := row.Scan(
		&item.ID, &kind, &item.ProjectID, &firmID, &item.Title, &item.Status,
		&assignedUserID, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan work item: %w", err)
	}

	item.Kind = project.WorkItemKind(kind)
	if firmID.Valid {
		item.FirmID = &firmID.String
	}
	if assignedUserID.Valid {
		item.AssignedUserID = &assignedUserID.String
	}
	return &item, nil
}
