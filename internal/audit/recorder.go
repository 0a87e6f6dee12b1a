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

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firmgate/firmgate/internal/id"
)

// Recorder implements Logger against a Store, mirroring every entry to slog
// so entries remain observable even when operators only have log access.
type Recorder struct {
	store Store
}

// NewRecorder creates a new audit recorder.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Log persists the entry and mirrors it to slog. The store write happens
// first; the slog mirror is best effort and never masks a store failure.
func (r *Recorder) Log(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = id.NewUUIDv7()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	storeErr := r.store.Insert(ctx, &entry)

	attrs := []any{
		slog.String("audit_action", entry.ActionType),
		slog.String("principal_id", entry.PrincipalID),
		slog.String("entity_type", entry.EntityType),
		slog.String("entity_id", entry.EntityID),
		slog.Time("timestamp", entry.CreatedAt),
	}
	if len(entry.Metadata) > 0 {
		group := []any{}
		for k, v := range entry.Metadata {
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}
	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)

	if storeErr != nil {
		return fmt.Errorf("audit store write failed: %w", storeErr)
	}
	return nil
}

// LogPermissionOverride records a superadmin bypass of a sensitive ability.
func LogPermissionOverride(ctx context.Context, l Logger, principalID, ability string) error {
	return l.Log(ctx, Entry{
		PrincipalID: principalID,
		ActionType:  ActionPermissionOverride,
		Metadata: map[string]any{
			AttrAbility:    ability,
			AttrGateBypass: true,
		},
	})
}

// LogCrossTenantAccess records a superadmin reading or writing an entity
// outside their own firm.
func LogCrossTenantAccess(ctx context.Context, l Logger, principalID, entityType, entityID string, write bool) error {
	return l.Log(ctx, Entry{
		PrincipalID: principalID,
		ActionType:  ActionSuperadminAccess,
		EntityType:  entityType,
		EntityID:    entityID,
		Metadata: map[string]any{
			AttrWrite: write,
		},
	})
}
