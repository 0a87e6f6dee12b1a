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

package project

import (
	"context"

	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/scope"
)

// Repository defines the interface for project persistence. Reads are
// tenant-scoped by the calling Principal; creation stamps the owner firm
// and commits stamp-and-insert as one transactional unit.
type Repository interface {
	// Create stamps the owner firm and inserts the project atomically.
	Create(ctx context.Context, p *identity.Principal, proj *Project) error

	// Get retrieves a project visible to the principal.
	Get(ctx context.Context, p *identity.Principal, id string) (*Project, error)

	// List retrieves all projects visible to the principal.
	List(ctx context.Context, p *identity.Principal) ([]*Project, error)

	// ListUnscoped retrieves all projects; requires an audited bypass.
	ListUnscoped(ctx context.Context, b scope.Bypass) ([]*Project, error)

	// AssociateFirm adds a firm to a project with a role.
	AssociateFirm(ctx context.Context, assoc *FirmAssociation) error

	// Associations lists the firm edges of a project.
	Associations(ctx context.Context, projectID string) ([]*FirmAssociation, error)
}

// WorkItemRepository defines the interface for work item persistence.
type WorkItemRepository interface {
	// Create stamps the owner firm and inserts the item atomically.
	Create(ctx context.Context, p *identity.Principal, item *WorkItem) error

	// Get retrieves a work item of the given kind visible to the principal.
	Get(ctx context.Context, p *identity.Principal, kind WorkItemKind, id string) (*WorkItem, error)

	// ListByProject retrieves the project's work items of one kind visible
	// to the principal.
	ListByProject(ctx context.Context, p *identity.Principal, kind WorkItemKind, projectID string) ([]*WorkItem, error)
}

// DocumentRepository defines the interface for document persistence.
type DocumentRepository interface {
	// Create stamps the owner firm and inserts the document atomically.
	Create(ctx context.Context, p *identity.Principal, doc *Document) error

	// CreateUnscoped inserts a document without stamping; requires an
	// audited bypass. Used by superadmin tooling to attach documents to
	// arbitrary firms.
	CreateUnscoped(ctx context.Context, b scope.Bypass, doc *Document) error

	// Get retrieves a document visible to the principal.
	Get(ctx context.Context, p *identity.Principal, id string) (*Document, error)

	// List retrieves documents visible to the principal.
	List(ctx context.Context, p *identity.Principal) ([]*Document, error)

	// Count counts documents visible to the principal.
	Count(ctx context.Context, p *identity.Principal) (int, error)

	// ListUnscoped retrieves all documents; requires an audited bypass.
	ListUnscoped(ctx context.Context, b scope.Bypass) ([]*Document, error)
}
