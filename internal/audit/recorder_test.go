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

package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmgate/firmgate/internal/audit"
)

// memStore keeps inserted entries in memory.
type memStore struct {
	entries []*audit.Entry
	fail    bool
}

func (m *memStore) Insert(_ context.Context, entry *audit.Entry) error {
	if m.fail {
		return errors.New("connection refused")
	}
	m.entries = append(m.entries, entry)
	return nil
}

// TestPurpose: Validates that the recorder assigns identity and timestamp
// to entries and persists them synchronously.
// Scope: Unit Test
// Security: Audit trail completeness
// Expected: Stored entry carries a generated ID, a timestamp, and the
// caller's fields unchanged.
// Test Case ID: AUD-01
func TestRecorder_LogPersistsEntry(t *testing.T) {
	store := &memStore{}
	rec := audit.NewRecorder(store)

	err := rec.Log(context.Background(), audit.Entry{
		PrincipalID: "user-1",
		ActionType:  audit.ActionAccessDenied,
		EntityType:  "project",
		EntityID:    "proj-1",
		Metadata:    map[string]any{audit.AttrReason: "cross_tenant"},
	})
	require.NoError(t, err)

	require.Len(t, store.entries, 1)
	got := store.entries[0]
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, "user-1", got.PrincipalID)
	assert.Equal(t, audit.ActionAccessDenied, got.ActionType)
	assert.Equal(t, "cross_tenant", got.Metadata[audit.AttrReason])
}

// TestPurpose: Validates that a failed store write surfaces to the caller,
// which decides whether the loss is fatal for its operation.
// Scope: Unit Test
// Security: Auditing failures are never silent
// Expected: Log returns a wrapped error when the store rejects the insert.
// Test Case ID: AUD-02
func TestRecorder_StoreFailureSurfaces(t *testing.T) {
	rec := audit.NewRecorder(&memStore{fail: true})

	err := rec.Log(context.Background(), audit.Entry{ActionType: audit.ActionScopeBypass})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit store write failed")
}

// TestPurpose: Validates the convenience helpers record the expected action
// types and metadata for overrides and cross-tenant superadmin access.
// Scope: Unit Test
// Security: Privileged actions leave a queryable trail
// Expected: permission_override with ability and gate_bypass metadata;
// superadmin_access with the write flag.
// Test Case ID: AUD-03
func TestRecorder_PrivilegedActionHelpers(t *testing.T) {
	store := &memStore{}
	rec := audit.NewRecorder(store)
	ctx := context.Background()

	require.NoError(t, audit.LogPermissionOverride(ctx, rec, "root", "roles.assign"))
	require.NoError(t, audit.LogCrossTenantAccess(ctx, rec, "root", "document", "doc-1", true))

	require.Len(t, store.entries, 2)

	override := store.entries[0]
	assert.Equal(t, audit.ActionPermissionOverride, override.ActionType)
	assert.Equal(t, "roles.assign", override.Metadata[audit.AttrAbility])
	assert.Equal(t, true, override.Metadata[audit.AttrGateBypass])

	access := store.entries[1]
	assert.Equal(t, audit.ActionSuperadminAccess, access.ActionType)
	assert.Equal(t, "document", access.EntityType)
	assert.Equal(t, "doc-1", access.EntityID)
	assert.Equal(t, true, access.Metadata[audit.AttrWrite])
}
