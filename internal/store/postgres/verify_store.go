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
	"fmt"

	"github.com/firmgate/firmgate/internal/authz"
	"github.com/firmgate/firmgate/internal/verify"
)

// VerifyStore implements verify.Store with unscoped integrity queries.
type VerifyStore struct {
	db *DB
}

// NewVerifyStore creates a new verification store
func NewVerifyStore(db *DB) *VerifyStore {
	return &VerifyStore{db: db}
}

// FirmlessPrincipals lists non-superadmin principals without a firm
func (s *VerifyStore) FirmlessPrincipals(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT id FROM principals
		WHERE firm_id IS NULL AND role <> $1 AND deleted_at IS NULL
		ORDER BY id
	`, string(authz.RoleSuperadmin))
}

// UnassociatedProjects lists projects with no firm association edge
func (s *VerifyStore) UnassociatedProjects(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT p.id FROM projects p
		WHERE p.deleted_at IS NULL
		  AND NOT EXISTS (SELECT 1 FROM project_firms pf WHERE pf.project_id = p.id)
		ORDER BY p.id
	`)
}

// BrokenProjectRefs lists work items and documents referencing missing
// projects
func (s *VerifyStore) BrokenProjectRefs(ctx context.Context) ([]verify.BrokenRef, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT w.kind, w.id, w.project_id
		FROM work_items w
		WHERE NOT EXISTS (SELECT 1 FROM projects p WHERE p.id = w.project_id AND p.deleted_at IS NULL)
		UNION ALL
		SELECT 'document', d.id, d.project_id
		FROM documents d
		WHERE d.project_id IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM projects p WHERE p.id = d.project_id AND p.deleted_at IS NULL)
		ORDER BY 2
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list broken project references: %w", err)
	}
	defer rows.Close()

	var refs []verify.BrokenRef
	for rows.Next() {
		var ref verify.BrokenRef
		if err := rows.Scan(&ref.EntityType, &ref.EntityID, &ref.ProjectID); err != nil {
			return nil, fmt.Errorf("failed to scan broken reference: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// CrossTenantDocuments lists documents whose firm is not associated with
// their referenced project
func (s *VerifyStore) CrossTenantDocuments(ctx context.Context) ([]verify.DocMismatch, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT d.id, d.firm_id, d.project_id
		FROM documents d
		WHERE d.firm_id IS NOT NULL AND d.project_id IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM project_firms pf WHERE pf.project_id = d.project_id AND pf.firm_id = d.firm_id)
		ORDER BY d.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cross-tenant documents: %w", err)
	}
	defer rows.Close()

	var mismatches []verify.DocMismatch
	for rows.Next() {
		var m verify.DocMismatch
		if err := rows.Scan(&m.DocumentID, &m.FirmID, &m.ProjectID); err != nil {
			return nil, fmt.Errorf("failed to scan document mismatch: %w", err)
		}
		mismatches = append(mismatches, m)
	}
	return mismatches, rows.Err()
}

// DeleteWorkItems removes the given work item rows
func (s *VerifyStore) DeleteWorkItems(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.pool.Exec(ctx, `DELETE FROM work_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete work items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *VerifyStore) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
