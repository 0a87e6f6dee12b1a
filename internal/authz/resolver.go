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

// Package authz implements the permission resolver: a closed-world mapping
// from role to permission keys, with helper predicates built on top of it.
package authz

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrUnknownRole       = errors.New("unknown role")
	ErrUnknownPermission = errors.New("unknown permission key")
)

// Resolver maps roles to permission sets. The mapping is fixed at
// construction and validated closed: unknown roles and unknown keys are
// configuration errors, never silently empty grants.
type Resolver struct {
	grants map[Role]map[string]bool
}

// NewResolver builds the resolver from the static role mappings and
// validates the permission set is closed. A non-nil error means the role
// configuration itself is broken and the process must not serve requests.
func NewResolver() (*Resolver, error) {
	r := &Resolver{grants: make(map[Role]map[string]bool)}

	mappings := map[Role][]string{
		RoleFirmAdmin:      FirmAdminPermissions,
		RoleProjectManager: ProjectManagerPermissions,
		RoleBasic:          BasicPermissions,
	}

	known := make(map[string]bool, len(allPermissionKeys))
	for _, key := range allPermissionKeys {
		known[key] = true
	}

	for role, keys := range mappings {
		set := make(map[string]bool, len(keys))
		for _, key := range keys {
			if !known[key] {
				return nil, fmt.Errorf("role %s grants %q: %w", role, key, ErrUnknownPermission)
			}
			set[key] = true
		}
		r.grants[role] = set
	}

	// Superadmin is the full enumeration; it is not listed per-key to keep
	// the role's "always allowed" semantics obvious at the check site.
	full := make(map[string]bool, len(allPermissionKeys))
	for _, key := range allPermissionKeys {
		full[key] = true
	}
	r.grants[RoleSuperadmin] = full

	for _, role := range AllRoles {
		if _, ok := r.grants[role]; !ok {
			return nil, fmt.Errorf("role %s has no permission set: %w", role, ErrUnknownRole)
		}
	}

	return r, nil
}

// HasPermission reports whether the role grants the permission key.
// Superadmin always returns true; auditing sensitive overrides is the
// caller's responsibility, not this function's.
func (r *Resolver) HasPermission(role Role, key string) bool {
	if role == RoleSuperadmin {
		return true
	}
	set, ok := r.grants[role]
	if !ok {
		// Unknown role fails closed. Validate() should have caught this at
		// startup; denying here is defense in depth.
		return false
	}
	return set[key]
}

// PermissionsFor returns the permission keys granted to the role. It is
// total over the enumerated role set; an unknown role is a configuration
// error.
func (r *Resolver) PermissionsFor(role Role) ([]string, error) {
	set, ok := r.grants[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	keys := make([]string, 0, len(set))
	// Preserve the canonical enumeration order for stable introspection.
	for _, key := range allPermissionKeys {
		if set[key] {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// CanAssignRole decides whether a principal may assign targetRole to the
// principal identified by targetID.
//
// Only superadmin may assign the superadmin role. Non-superadmins holding
// roles.assign may assign any role strictly below superadmin, but never to
// themselves: self-demotion and self-escalation through this path are
// rejected unless the actor is superadmin.
func (r *Resolver) CanAssignRole(actorRole Role, actorID, targetID string, targetRole Role) bool {
	if !targetRole.Valid() {
		return false
	}
	if actorRole == RoleSuperadmin {
		return true
	}
	if targetRole == RoleSuperadmin {
		return false
	}
	if actorID == targetID {
		return false
	}
	return r.HasPermission(actorRole, PermRolesAssign)
}
