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

	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/project"
	"github.com/firmgate/firmgate/internal/scope"
)

// ProjectRepository implements project.Repository
type ProjectRepository struct {
	db     *DB
	engine *scope.Engine
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *DB, engine *scope.Engine) *ProjectRepository {
	return &ProjectRepository{db: db, engine: engine}
}

// Create stamps the owner firm and inserts the project in one transaction.
// The stamped draft never exists unstamped in the database.
func (r *ProjectRepository) Create(ctx context.Context, p *identity.Principal, proj *project.Project) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	r.engine.StampOwner(p, proj)

	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO projects (id, name, status, firm_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, proj.ID, proj.Name, proj.Status, proj.FirmID, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit project: %w", err)
	}

	proj.CreatedAt = now
	proj.UpdatedAt = now
	return nil
}

// Get retrieves a project visible to the principal
func (r *ProjectRepository) Get(ctx context.Context, p *identity.Principal, id string) (*project.Project, error) {
	q := scope.NewQuery(`
		SELECT p.id, p.name, p.status, p.firm_id, p.created_at, p.updated_at
		FROM projects p
		WHERE p.id = $1 AND p.deleted_at IS NULL`, id)
	r.engine.Apply(p, "project", q)

	var proj project.Project
	var firmID sql.NullString
	err := r.db.pool.QueryRow(ctx, q.SQL, q.Args...).Scan(
		&proj.ID, &proj.Name, &proj.Status, &firmID, &proj.CreatedAt, &proj.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, project.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if firmID.Valid {
		proj.FirmID = &firmID.String
	}
	return &proj, nil
}

// List retrieves the projects visible to the principal
func (r *ProjectRepository) List(ctx context.Context, p *identity.Principal) ([]*project.Project, error) {
	q := scope.NewQuery(`
		SELECT p.id, p.name, p.status, p.firm_id, p.created_at, p.updated_at
		FROM projects p
		WHERE p.deleted_at IS NULL`)
	r.engine.Apply(p, "project", q)
	q.Append(` ORDER BY p.created_at`)

	return r.queryProjects(ctx, q.SQL, q.Args...)
}

// ListUnscoped retrieves all projects; requires an audited bypass
func (r *ProjectRepository) ListUnscoped(ctx context.Context, b scope.Bypass) ([]*project.Project, error) {
	if !b.Granted() {
		return nil, scope.ErrBypassDenied
	}
	return r.queryProjects(ctx, `
		SELECT p.id, p.name, p.status, p.firm_id, p.created_at, p.updated_at
		FROM projects p
		WHERE p.deleted_at IS NULL
		ORDER BY p.created_at`)
}

// AssociateFirm adds a firm to a project
func (r *ProjectRepository) AssociateFirm(ctx context.Context, assoc *project.FirmAssociation) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO project_firms (project_id, firm_id, role_in_project, created_at)
		VALUES ($1, $2, $3, $4)
	`, assoc.ProjectID, assoc.FirmID, assoc.RoleInProject, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return project.ErrAssociationExists
		}
		return fmt.Errorf("failed to associate firm: %w", err)
	}
	assoc.CreatedAt = now
	return nil
}

// Associations lists the firm edges of a project
func (r *ProjectRepository) Associations(ctx context.Context, projectID string) ([]*project.FirmAssociation, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT project_id, firm_id, role_in_project, created_at
		FROM project_firms
		WHERE project_id = $1
		ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list associations: %w", err)
	}
	defer rows.Close()

	var assocs []*project.FirmAssociation
	for rows.Next() {
		var a project.FirmAssociation
		if err := rows.Scan(&a.ProjectID, &a.FirmID, &a.RoleInProject, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan association: %w", err)
		}
		assocs = append(assocs, &a)
	}
	return assocs, rows.Err()
}

func (r *ProjectRepository) queryProjects(ctx context.Context, query string, args ...any) ([]*project.Project, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*project.Project
	for rows.Next() {
		var proj project.Project
		var firmID sql.NullString
		if err := rows.Scan(&proj.ID, &proj.Name, &proj.Status, &firmID, &proj.CreatedAt, &proj.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		if firmID.Valid {
			proj.FirmID = &firmID.String
		}
		projects = append(projects, &proj)
	}
	return projects, rows.Err()
}
