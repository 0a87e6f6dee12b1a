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

package identity

import (
	"context"
	"errors"
	"time"

	"github.com/firmgate/firmgate/internal/authz"
)

// Domain errors
var (
	ErrPrincipalNotFound      = errors.New("principal not found")
	ErrPrincipalAlreadyExists = errors.New("principal already exists")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountLocked          = errors.New("account is locked")
	ErrAccountInactive        = errors.New("account is inactive")
	ErrRoleAssignmentDenied   = errors.New("role assignment denied")
	ErrInvalidToken           = errors.New("invalid or expired token")
)

// Status constants
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Principal represents the authenticated caller of a request. It is carried
// explicitly through the pipeline (request context), never stored in a
// process-wide slot, so concurrent requests cannot cross-contaminate.
type Principal struct {
	ID        string
	Email     string
	Role      authz.Role
	FirmID    *string // nil is valid only for superadmin
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time

	FailedLoginAttempts int
	LockedUntil         *time.Time
}

// IsSuperadmin reports whether the principal holds the superadmin role.
func (p *Principal) IsSuperadmin() bool {
	return p != nil && p.Role == authz.RoleSuperadmin
}

// Active reports whether the principal may act at all.
func (p *Principal) Active() bool {
	return p != nil && p.Status == StatusActive && p.DeletedAt == nil
}

// MissingTenant reports the consistency violation of a non-superadmin
// principal without a firm. Such a principal must be denied all
// tenant-scoped access until a firm is assigned out of band.
func (p *Principal) MissingTenant() bool {
	return p != nil && !p.IsSuperadmin() && p.FirmID == nil
}

// InFirm reports whether the principal belongs to the given firm.
func (p *Principal) InFirm(firmID string) bool {
	return p != nil && p.FirmID != nil && *p.FirmID == firmID
}

// Credentials represents a principal's authentication secret.
type Credentials struct {
	PrincipalID  string
	PasswordHash string
	UpdatedAt    time.Time
}

// Repository defines the interface for principal persistence.
type Repository interface {
	// Create creates a new principal.
	Create(ctx context.Context, p *Principal) error

	// GetByID retrieves a principal by ID.
	GetByID(ctx context.Context, id string) (*Principal, error)

	// GetByEmail retrieves a principal by email.
	GetByEmail(ctx context.Context, email string) (*Principal, error)

	// List retrieves the principals visible to the caller under tenant
	// scoping.
	List(ctx context.Context, caller *Principal) ([]*Principal, error)

	// UpdateRole changes a principal's role.
	UpdateRole(ctx context.Context, id string, role authz.Role) error

	// UpdateLockout updates failed-attempt tracking.
	UpdateLockout(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error

	// AddCredentials stores credentials for a principal.
	AddCredentials(ctx context.Context, creds *Credentials) error

	// GetCredentials retrieves a principal's credentials.
	GetCredentials(ctx context.Context, principalID string) (*Credentials, error)
}
