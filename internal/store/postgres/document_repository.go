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

// DocumentRepository implements project.DocumentRepository
type DocumentRepository struct {
	db     *DB
	engine *scope.Engine
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *DB, engine *scope.Engine) *DocumentRepository {
	return &DocumentRepository{db: db, engine: engine}
}

// Create stamps the owner firm and inserts the document in one transaction
func (r *DocumentRepository) Create(ctx context.Context, p *identity.Principal, doc *project.Document) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	r.engine.StampOwner(p, doc)

	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, firm_id, project_id, name, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, doc.ID, doc.FirmID, doc.ProjectID, doc.Name, doc.CreatedBy, now)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}

	doc.CreatedAt = now
	return nil
}

// CreateUnscoped inserts a document without owner stamping. Used by
// superadmin tooling to attach documents to arbitrary firms; the bypass
// grant has already been audited by the engine.
func (r *DocumentRepository) CreateUnscoped(ctx context.Context, b scope.Bypass, doc *project.Document) error {
	if !b.Granted() {
		return scope.ErrBypassDenied
	}

	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO documents (id, firm_id, project_id, name, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, doc.ID, doc.FirmID, doc.ProjectID, doc.Name, doc.CreatedBy, now)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	doc.CreatedAt = now
	return nil
}

// Get retrieves a document visible to the principal
func (r *DocumentRepository) Get(ctx context.Context, p *identity.Principal, id string) (*project.Document, error) {
	q := scope.NewQuery(`
		SELECT d.id, d.firm_id, d.project_id, d.name, d.created_by, d.created_at
		FROM documents d
		WHERE d.id = $1`, id)
	r.engine.Apply(p, "document", q)

	doc, err := scanDocument(r.db.pool.QueryRow(ctx, q.SQL, q.Args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, project.ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// List retrieves the documents visible to the principal
func (r *DocumentRepository) List(ctx context.Context, p *identity.Principal) ([]*project.Document, error) {
	q := scope.NewQuery(`
		SELECT d.id, d.firm_id, d.project_id, d.name, d.created_by, d.created_at
		FROM documents d
		WHERE true`)
	r.engine.Apply(p, "document", q)
	q.Append(` ORDER BY d.created_at`)

	return r.queryDocuments(ctx, q.SQL, q.Args...)
}

// Count counts the documents visible to the principal. Scoped counts and
// scoped lists run the same predicate, so the two can never disagree about
// what the caller sees.
func (r *DocumentRepository) Count(ctx context.Context, p *identity.Principal) (int, error) {
	q := scope.NewQuery(`
		SELECT COUNT(*)
		FROM documents d
		WHERE true`)
	r.engine.Apply(p, "document", q)

	var n int
	if err := r.db.pool.QueryRow(ctx, q.SQL, q.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// ListUnscoped retrieves all documents; requires an audited bypass
func (r *DocumentRepository) ListUnscoped(ctx context.Context, b scope.Bypass) ([]*project.Document, error) {
	if !b.Granted() {
		return nil, scope.ErrBypassDenied
	}
	return r.queryDocuments(ctx, `
		SELECT d.id, d.firm_id, d.project_id, d.name, d.created_by, d.created_at
		FROM documents d
		ORDER BY d.created_at`)
}

func (r *DocumentRepository) queryDocuments(ctx context.Context, query string, args ...any) ([]*project.Document, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*project.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(row pgx.Row) (*project.Document, error) {
	var doc project.Document
	var firmID, projectID, createdBy sql.NullString

	err := row.Scan(&doc.ID, &firmID, &projectID, &doc.Name, &createdBy, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	if firmID.Valid {
		doc.FirmID = &firmID.String
	}
	if projectID.Valid {
		doc.ProjectID = &projectID.String
	}
	if createdBy.Valid {
		doc.CreatedBy = createdBy.String
	}
	return &doc, nil
}
