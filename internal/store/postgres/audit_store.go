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
	"encoding/json"
	"fmt"

	"github.com/firmgate/firmgate/internal/audit"
)

// AuditStore implements audit.Store. Entries are append-only; nothing in
// the application updates or deletes them.
type AuditStore struct {
	db *DB
}

// NewAuditStore creates a new audit store
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

// Insert persists one audit entry
func (s *AuditStore) Insert(ctx context.Context, e *audit.Entry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
	}

	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO audit_entries (id, principal_id, action_type, entity_type, entity_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.PrincipalID, e.ActionType, e.EntityType, e.EntityID, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListRecent returns the most recent entries, newest first. Superadmin
// tooling only; callers gate on the audit view permission.
func (s *AuditStore) ListRecent(ctx context.Context, limit int) ([]*audit.Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.pool.Query(ctx, `
		SELECT id, principal_id, action_type, entity_type, entity_id, metadata, created_at
		FROM audit_entries
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		var e audit.Entry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.PrincipalID, &e.ActionType, &e.EntityType, &e.EntityID, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
