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

package firm

import (
	"context"
	"errors"
	"time"

	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/scope"
)

var ErrFirmNotFound = errors.New("firm not found")

// Firm is the tenant unit: an organizational unit whose data must not be
// visible to other units.
type Firm struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Firm types
const (
	TypeGeneralContractor = "general_contractor"
	TypeSubcontractor     = "subcontractor"
	TypeOwner             = "owner"
)

// Status constants
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Repository defines the interface for firm persistence. Read methods take
// the calling Principal and apply tenant scoping; unscoped reads require a
// Bypass capability issued (and audited) by the scope engine.
type Repository interface {
	Create(ctx context.Context, f *Firm) error
	Get(ctx context.Context, p *identity.Principal, id string) (*Firm, error)
	List(ctx context.Context, p *identity.Principal) ([]*Firm, error)
	ListUnscoped(ctx context.Context, b scope.Bypass) ([]*Firm, error)
}
