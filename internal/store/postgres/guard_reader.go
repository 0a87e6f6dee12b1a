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

	"github.com/jackc/pgx/v5"

	"github.com/firmgate/firmgate/internal/project"
)

// GuardReader implements guard.ResourceReader. Its lookups run without
// tenant scoping: the access checker is the policy consuming them and
// must see the true owner of a foreign resource to deny it.
type GuardReader struct {
	db *DB
}

// NewGuardReader creates a new guard reader
func NewGuardReader(db *DB) *GuardReader {
	return &GuardReader{db: db}
}

// ProjectExists reports whether the project exists
func (r *GuardReader) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1 AND deleted_at IS NULL)
	`, projectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check project existence: %w", err)
	}
	return exists, nil
}

// ProjectHasFirm reports whether the firm is associated with the project
func (r *GuardReader) ProjectHasFirm(ctx context.Context, projectID, firmID string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM project_firms WHERE project_id = $1 AND firm_id = $2)
	`, projectID, firmID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check project association: %w", err)
	}
	return exists, nil
}

// WorkItemProject resolves the owning project of a work item
func (r *GuardReader) WorkItemProject(ctx context.Context, kind project.WorkItemKind, id string) (string, bool, error) {
	var projectID string
	err := r.db.pool.QueryRow(ctx, `
		SELECT project_id FROM work_items WHERE id = $1 AND kind = $2
	`, id, string(kind)).Scan(&projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to resolve work item project: %w", err)
	}
	return projectID, true, nil
}

// DocumentRefs returns a document's firm and project references
func (r *GuardReader) DocumentRefs(ctx context.Context, id string) (*string, *string, bool, error) {
	var firmID, projectID sql.NullString
	err := r.db.pool.QueryRow(ctx, `
		SELECT firm_id, project_id FROM documents WHERE id = $1
	`, id).Scan(&firmID, &projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("failed to resolve document references: %w", err)
	}

	var f, p *string
	if firmID.Valid {
		f = &firmID.String
	}
	if projectID.Valid {
		p = &projectID.String
	}
	return f, p, true, nil
}

// PrincipalFirm resolves a principal's firm
func (r *GuardReader) PrincipalFirm(ctx context.Context, principalID string) (*string, bool, error) {
	var firmID sql.NullString
	err := r.db.pool.QueryRow(ctx, `
		SELECT firm_id FROM principals WHERE id = $1 AND deleted_at IS NULL
	`, principalID).Scan(&firmID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to resolve principal firm: %w", err)
	}

	if !firmID.Valid {
		return nil, true, nil
	}
	return &firmID.String, true, nil
}
