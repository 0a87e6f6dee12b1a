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

// Package identity resolves the calling principal for each request and
// administers principal accounts and role assignments.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/firmgate/firmgate/internal/audit"
	"github.com/firmgate/firmgate/internal/authz"
	"github.com/firmgate/firmgate/internal/id"
)

// Service provides identity-related business logic.
type Service struct {
	repo               Repository
	hasher             *PasswordHasher
	tokens             *TokenIssuer
	resolver           *authz.Resolver
	auditLogger        audit.Logger
	lockoutMaxAttempts int
	lockoutDuration    time.Duration
}

// NewService creates a new identity service.
func NewService(
	repo Repository,
	hasher *PasswordHasher,
	tokens *TokenIssuer,
	resolver *authz.Resolver,
	auditLogger audit.Logger,
	lockoutMaxAttempts int,
	lockoutDuration time.Duration,
) *Service {
	return &Service{
		repo:               repo,
		hasher:             hasher,
		tokens:             tokens,
		resolver:           resolver,
		auditLogger:        auditLogger,
		lockoutMaxAttempts: lockoutMaxAttempts,
		lockoutDuration:    lockoutDuration,
	}
}

// Provision creates a new principal. firmID may be nil only when the role is
// superadmin; administrative callers are expected to enforce their own
// authorization before calling this.
func (s *Service) Provision(ctx context.Context, email, password string, firmID *string, role authz.Role) (*Principal, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %s", authz.ErrUnknownRole, role)
	}
	if existing, err := s.repo.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrPrincipalAlreadyExists
	}

	p := &Principal{
		ID:     id.NewUUIDv7(),
		Email:  email,
		Role:   role,
		FirmID: firmID,
		Status: StatusActive,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create principal: %w", err)
	}

	if password != "" {
		hash, err := s.hasher.Hash(password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		if err := s.repo.AddCredentials(ctx, &Credentials{PrincipalID: p.ID, PasswordHash: hash}); err != nil {
			return nil, fmt.Errorf("failed to store credentials: %w", err)
		}
	}

	return p, nil
}

// Authenticate verifies email/password and returns a signed bearer token
// for the principal. Failed attempts count toward lockout.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Principal, string, error) {
	p, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		_ = s.auditLogger.Log(ctx, audit.Entry{
			ActionType: audit.ActionLoginFailed,
			Metadata:   map[string]any{audit.AttrReason: "principal_not_found"},
		})
		return nil, "", ErrInvalidCredentials
	}

	if !p.Active() {
		_ = s.auditLogger.Log(ctx, audit.Entry{
			PrincipalID: p.ID,
			ActionType:  audit.ActionLoginFailed,
			Metadata:    map[string]any{audit.AttrReason: "inactive"},
		})
		return nil, "", ErrAccountInactive
	}

	if p.LockedUntil != nil && p.LockedUntil.After(time.Now()) {
		_ = s.auditLogger.Log(ctx, audit.Entry{
			PrincipalID: p.ID,
			ActionType:  audit.ActionLoginFailed,
			Metadata:    map[string]any{audit.AttrReason: "locked_out"},
		})
		return nil, "", ErrAccountLocked
	}

	creds, err := s.repo.GetCredentials(ctx, p.ID)
	if err != nil {
		return nil, "", ErrInvalidCredentials
	}

	valid, err := s.hasher.Verify(password, creds.PasswordHash)
	if err != nil || !valid {
		newAttempts := p.FailedLoginAttempts + 1
		var lockedUntil *time.Time
		if newAttempts >= s.lockoutMaxAttempts {
			until := time.Now().Add(s.lockoutDuration)
			lockedUntil = &until
		}
		_ = s.repo.UpdateLockout(ctx, p.ID, newAttempts, lockedUntil)
		_ = s.auditLogger.Log(ctx, audit.Entry{
			PrincipalID: p.ID,
			ActionType:  audit.ActionLoginFailed,
			Metadata:    map[string]any{audit.AttrReason: "invalid_password"},
		})
		return nil, "", ErrInvalidCredentials
	}

	if p.FailedLoginAttempts > 0 || p.LockedUntil != nil {
		_ = s.repo.UpdateLockout(ctx, p.ID, 0, nil)
	}

	token, err := s.tokens.Issue(p.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}

	_ = s.auditLogger.Log(ctx, audit.Entry{
		PrincipalID: p.ID,
		ActionType:  audit.ActionLoginSuccess,
	})

	return p, token, nil
}

// Resolve turns a bearer token into the current Principal. Role, firm and
// status are read fresh from the store so the token never carries stale
// privileges.
func (s *Service) Resolve(ctx context.Context, token string) (*Principal, error) {
	principalID, err := s.tokens.Verify(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	p, err := s.repo.GetByID(ctx, principalID)
	if err != nil {
		return nil, ErrPrincipalNotFound
	}
	if !p.Active() {
		return nil, ErrAccountInactive
	}
	return p, nil
}

// GetPrincipal retrieves a principal by ID.
func (s *Service) GetPrincipal(ctx context.Context, principalID string) (*Principal, error) {
	p, err := s.repo.GetByID(ctx, principalID)
	if err != nil {
		return nil, ErrPrincipalNotFound
	}
	return p, nil
}

// AssignRole changes the target principal's role on behalf of actor.
//
// Assignment authority comes from the permission resolver: only superadmin
// may grant superadmin, and self-assignment is rejected for everyone else.
// Successful changes are audited synchronously; a superadmin acting outside
// the roles.assign grant additionally gets a permission-override entry.
func (s *Service) AssignRole(ctx context.Context, actor *Principal, targetID string, role authz.Role) error {
	if !s.resolver.CanAssignRole(actor.Role, actor.ID, targetID, role) {
		return ErrRoleAssignmentDenied
	}

	target, err := s.repo.GetByID(ctx, targetID)
	if err != nil {
		return ErrPrincipalNotFound
	}

	// Grants no other role could have made (superadmin grants, self-grants)
	// are permission overrides and must appear in the audit trail before the
	// role change lands.
	if actor.IsSuperadmin() && (role == authz.RoleSuperadmin || actor.ID == targetID) {
		if err := audit.LogPermissionOverride(ctx, s.auditLogger, actor.ID, authz.PermRolesAssign); err != nil {
			return fmt.Errorf("failed to audit permission override: %w", err)
		}
	}

	if err := s.repo.UpdateRole(ctx, targetID, role); err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	if err := s.auditLogger.Log(ctx, audit.Entry{
		PrincipalID: actor.ID,
		ActionType:  audit.ActionRoleAssigned,
		EntityType:  "user",
		EntityID:    target.ID,
		Metadata:    map[string]any{"role": string(role), "previous_role": string(target.Role)},
	}); err != nil {
		// Role changes must be durable in the audit trail; the change stands
		// but the caller is told the trail may be incomplete.
		return fmt.Errorf("role assigned but audit write failed: %w", err)
	}

	return nil
}
