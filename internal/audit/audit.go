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

// Package audit records security-relevant events: denials, role changes,
// privileged bypasses and detected leaks. Entries are written synchronously
// at the moment of the event and are never mutated or deleted by the
// application; the store is independent of business-entity persistence so a
// rolled-back business transaction cannot erase the record that it was
// attempted.
package audit

import (
	"context"
	"time"
)

// Action types
const (
	ActionAccessDenied       = "access_denied"
	ActionPermissionOverride = "permission_override"
	ActionScopeBypass        = "scope_bypass"
	ActionSuperadminAccess   = "superadmin_access"
	ActionRoleAssigned       = "role_assigned"
	ActionRoleRevoked        = "role_revoked"
	ActionLoginSuccess       = "login_success"
	ActionLoginFailed        = "login_failed"
	ActionPotentialDataLeak  = "potential_data_leak"
	ActionConfigError        = "config_error"
	ActionVerificationRun    = "verification_run"
	ActionVerificationFix    = "verification_fix"
)

// Common metadata keys
const (
	AttrReason     = "reason"
	AttrAbility    = "ability"
	AttrGateBypass = "gate_bypass"
	AttrBypass     = "bypass"
	AttrWrite      = "write"
	AttrMethod     = "method"
	AttrURL        = "url"
	AttrFirmID     = "firm_id"
	AttrCallerFirm = "caller_firm_id"
)

// Entry is an immutable audit record. PrincipalID is empty for
// unauthenticated failures; EntityType/EntityID are empty when the event
// has no subject entity.
type Entry struct {
	ID          string
	PrincipalID string
	ActionType  string
	EntityType  string
	EntityID    string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// Store persists audit entries. Implementations must be append-only.
type Store interface {
	Insert(ctx context.Context, entry *Entry) error
}

// Logger records audit entries. Log is always synchronous; a non-nil error
// means the entry may not be durable and the caller decides whether that is
// fatal for the request (it is for denials and bypasses, it is not for
// diagnostic leak findings).
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}
