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

package authz

// Role identifies one of the fixed caller roles. The set is closed: every
// role is listed here with an explicit permission set in permissions.go,
// with no inheritance between roles.
type Role string

const (
	// RoleSuperadmin bypasses tenant scoping entirely. Exactly one role
	// carries this privilege; every bypass it performs is audited.
	RoleSuperadmin Role = "superadmin"

	// RoleFirmAdmin manages users and projects within its own firm.
	RoleFirmAdmin Role = "firm_admin"

	// RoleProjectManager manages work items on projects its firm is
	// associated with.
	RoleProjectManager Role = "project_manager"

	// RoleBasic is the default role for newly provisioned principals.
	RoleBasic Role = "basic"
)

// AllRoles enumerates every valid role in descending privilege order. The
// order is the authority for CanAssignRole's "strictly below superadmin"
// rule.
var AllRoles = []Role{RoleSuperadmin, RoleFirmAdmin, RoleProjectManager, RoleBasic}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}
