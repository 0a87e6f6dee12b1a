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

// Package guard decides, before the business handler runs, whether the
// caller may act on the concrete resources a request names: route
// parameters go through the resource access checker, body fields through
// the request data validator. Both are independent of the scope engine's
// query-level filtering, because a request can reference IDs outside the
// caller's tenant before any query runs.
package guard

import (
	"context"
	"fmt"

	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/project"
)

// ResourceReader provides the relationship lookups the checker needs.
// Implementations read without tenant scoping: the checker itself is the
// policy here, and it must see the true owner of a foreign resource to
// deny it.
type ResourceReader interface {
	// ProjectExists reports whether the project exists.
	ProjectExists(ctx context.Context, projectID string) (bool, error)

	// ProjectHasFirm reports whether the firm is associated with the project.
	ProjectHasFirm(ctx context.Context, projectID, firmID string) (bool, error)

	// WorkItemProject resolves the owning project of a work item; found is
	// false when the item does not exist.
	WorkItemProject(ctx context.Context, kind project.WorkItemKind, id string) (projectID string, found bool, err error)

	// DocumentRefs returns a document's firm and project references; found
	// is false when the document does not exist.
	DocumentRefs(ctx context.Context, id string) (firmID, projectID *string, found bool, err error)

	// PrincipalFirm resolves a principal's firm; found is false when the
	// principal does not exist.
	PrincipalFirm(ctx context.Context, principalID string) (firmID *string, found bool, err error)
}

// Checker verifies per-instance resource access for route parameters.
type Checker struct {
	reader ResourceReader
}

// NewChecker creates a resource access checker.
func NewChecker(reader ResourceReader) *Checker {
	return &Checker{reader: reader}
}

// CheckAccess reports whether the principal may act on the named resource
// instance. Resource types not listed here are allowed through: unknown
// resource kinds are not tenant-sensitive by default and their handlers
// perform their own checks. That is the opposite of the scope engine's
// fail-closed policy for unknown entity shapes; the two defaults are
// intentional and must not be conflated.
func (c *Checker) CheckAccess(ctx context.Context, p *identity.Principal, resourceType, resourceID string) (bool, error) {
	if p.IsSuperadmin() {
		return true, nil
	}
	return c.withinTenant(ctx, p, resourceType, resourceID)
}

// CrossTenant reports whether the named resource lies outside the
// principal's own firm. CheckAccess always allows superadmins, so callers
// that must record a superadmin reaching across tenants evaluate the
// ordinary membership rules here instead. Unknown resource types are
// never cross-tenant.
func (c *Checker) CrossTenant(ctx context.Context, p *identity.Principal, resourceType, resourceID string) (bool, error) {
	within, err := c.withinTenant(ctx, p, resourceType, resourceID)
	if err != nil {
		return false, err
	}
	return !within, nil
}

func (c *Checker) withinTenant(ctx context.Context, p *identity.Principal, resourceType, resourceID string) (bool, error) {
	switch resourceType {
	case "firm":
		return p.InFirm(resourceID), nil

	case "project":
		return c.projectAccess(ctx, p, resourceID)

	case "task", "requirement", "milestone":
		projectID, found, err := c.reader.WorkItemProject(ctx, project.WorkItemKind(resourceType), resourceID)
		if err != nil {
			return false, fmt.Errorf("failed to resolve owning project: %w", err)
		}
		if !found {
			return false, nil
		}
		return c.projectAccess(ctx, p, projectID)

	case "document":
		return c.documentAccess(ctx, p, resourceID)

	case "user":
		return c.userAccess(ctx, p, resourceID)

	default:
		return true, nil
	}
}

func (c *Checker) projectAccess(ctx context.Context, p *identity.Principal, projectID string) (bool, error) {
	// Firm-less principals have no association edge to stand on. This
	// covers superadmins too: for them the answer feeds the cross-tenant
	// audit trail, not an allow/deny decision.
	if p.FirmID == nil {
		return false, nil
	}
	exists, err := c.reader.ProjectExists(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to check project: %w", err)
	}
	if !exists {
		return false, nil
	}
	associated, err := c.reader.ProjectHasFirm(ctx, projectID, *p.FirmID)
	if err != nil {
		return false, fmt.Errorf("failed to check project association: %w", err)
	}
	return associated, nil
}

func (c *Checker) documentAccess(ctx context.Context, p *identity.Principal, documentID string) (bool, error) {
	firmID, projectID, found, err := c.reader.DocumentRefs(ctx, documentID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve document: %w", err)
	}
	if !found {
		return false, nil
	}
	if firmID != nil {
		if !p.InFirm(*firmID) {
			return false, nil
		}
		if projectID != nil {
			return c.projectAccess(ctx, p, *projectID)
		}
		return true, nil
	}
	if projectID != nil {
		return c.projectAccess(ctx, p, *projectID)
	}
	// Neither reference: unlinked documents stay accessible.
	return true, nil
}

func (c *Checker) userAccess(ctx context.Context, p *identity.Principal, targetID string) (bool, error) {
	targetFirm, found, err := c.reader.PrincipalFirm(ctx, targetID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve target principal: %w", err)
	}
	if !found || targetFirm == nil {
		// Missing targets and firm-less targets (other superadmins) are
		// manageable only by superadmin.
		return false, nil
	}
	// A manage-own-firm-users grant is bounded by the holder's firm; it
	// never reaches across tenants.
	return p.InFirm(*targetFirm), nil
}
