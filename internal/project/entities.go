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

// Package project holds the tenant-owned domain entities: projects, their
// firm associations, work items and documents. Visibility of everything
// here is governed by the scope engine; the project↔firm association edge,
// not a project's own firm column, is the authority for who sees what.
package project

import (
	"errors"
	"time"
)

// Domain errors
var (
	ErrProjectNotFound        = errors.New("project not found")
	ErrWorkItemNotFound       = errors.New("work item not found")
	ErrDocumentNotFound       = errors.New("document not found")
	ErrAssociationExists      = errors.New("firm already associated with project")
	ErrAssociationNotFound    = errors.New("firm association not found")
	ErrUnknownWorkItemKind    = errors.New("unknown work item kind")
	ErrProjectReferenceBroken = errors.New("work item references missing project")
)

// Project is a tenant-owned aggregate. FirmID records the creating firm;
// between creation and the first association the project is orphaned and
// invisible to non-superadmins.
type Project struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	FirmID    *string    `json:"firm_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
}

// OwnerFirmID implements scope.HasFirmOwnership.
func (p *Project) OwnerFirmID() *string { return p.FirmID }

// SetOwnerFirmID implements scope.HasFirmOwnership.
func (p *Project) SetOwnerFirmID(firmID string) { p.FirmID = &firmID }

// Roles a firm can hold on a project.
const (
	RoleLead          = "lead"
	RoleSubcontractor = "subcontractor"
)

// FirmAssociation is the many-to-many project↔firm edge.
type FirmAssociation struct {
	ProjectID     string    `json:"project_id"`
	FirmID        string    `json:"firm_id"`
	RoleInProject string    `json:"role_in_project"`
	CreatedAt     time.Time `json:"created_at"`
}

// WorkItemKind distinguishes the project-owned child entity types. They
// share one storage shape and one scoping rule but remain distinct entity
// types for access checks.
type WorkItemKind string

const (
	KindTask        WorkItemKind = "task"
	KindRequirement WorkItemKind = "requirement"
	KindMilestone   WorkItemKind = "milestone"
)

// WorkItemKinds enumerates the valid kinds.
var WorkItemKinds = []WorkItemKind{KindTask, KindRequirement, KindMilestone}

// Valid reports whether k is a known work item kind.
func (k WorkItemKind) Valid() bool {
	for _, known := range WorkItemKinds {
		if k == known {
			return true
		}
	}
	return false
}

// WorkItem is a task, requirement or milestone belonging to a project.
// Visibility resolves transitively through the owning project's firm
// associations.
type WorkItem struct {
	ID             string       `json:"id"`
	Kind           WorkItemKind `json:"kind"`
	ProjectID      string       `json:"project_id"`
	FirmID         *string      `json:"firm_id,omitempty"`
	Title          string       `json:"title"`
	Status         string       `json:"status"`
	AssignedUserID *string      `json:"assigned_user_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// OwnerFirmID implements scope.HasFirmOwnership.
func (w *WorkItem) OwnerFirmID() *string { return w.FirmID }

// SetOwnerFirmID implements scope.HasFirmOwnership.
func (w *WorkItem) SetOwnerFirmID(firmID string) { w.FirmID = &firmID }

// Document may reference a firm, a project, both, or neither. A document
// with neither reference is unlinked and readable by anyone past the scope
// filter.
type Document struct {
	ID        string    `json:"id"`
	FirmID    *string   `json:"firm_id,omitempty"`
	ProjectID *string   `json:"project_id,omitempty"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// OwnerFirmID implements scope.HasFirmOwnership.
func (d *Document) OwnerFirmID() *string { return d.FirmID }

// SetOwnerFirmID implements scope.HasFirmOwnership.
func (d *Document) SetOwnerFirmID(firmID string) { d.FirmID = &firmID }
