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

// Package verify runs the operator-facing consistency checks: scope rule
// coverage, tenant assignment of principals, project reference integrity
// and document ownership coherence. It is read-only unless fixing is
// requested, and fixing is limited to deleting child rows whose parent is
// gone.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/firmgate/firmgate/internal/audit"
	"github.com/firmgate/firmgate/internal/scope"
)

// Issue kinds.
const (
	KindMissingScopeRule        = "missing_scope_rule"
	KindOrphanedEntity          = "orphaned_entity"
	KindInvalidProjectReference = "invalid_project_reference"
	KindCrossTenantDocument     = "cross_tenant_document"
)

// Issue is one finding of the verification run.
type Issue struct {
	Kind       string `json:"kind"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id,omitempty"`
	Detail     string `json:"detail"`
	Fixed      bool   `json:"fixed"`
}

// Report is the outcome of one verification run.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Issues     []Issue   `json:"issues"`
	FixedCount int       `json:"fixed_count"`
}

// Clean reports whether the run found nothing.
func (r *Report) Clean() bool { return len(r.Issues) == 0 }

// BrokenRef identifies a work item or document whose project reference
// points at a row that no longer exists.
type BrokenRef struct {
	EntityType string
	EntityID   string
	ProjectID  string
}

// DocMismatch identifies a document whose firm is not associated with the
// project the document references.
type DocMismatch struct {
	DocumentID string
	FirmID     string
	ProjectID  string
}

// Store provides the unscoped integrity queries the runner needs.
type Store interface {
	// FirmlessPrincipals lists non-superadmin principals without a firm.
	FirmlessPrincipals(ctx context.Context) ([]string, error)

	// UnassociatedProjects lists projects with no firm association edge.
	UnassociatedProjects(ctx context.Context) ([]string, error)

	// BrokenProjectRefs lists work items and documents referencing missing
	// projects.
	BrokenProjectRefs(ctx context.Context) ([]BrokenRef, error)

	// CrossTenantDocuments lists documents whose firm is not associated
	// with their referenced project.
	CrossTenantDocuments(ctx context.Context) ([]DocMismatch, error)

	// DeleteWorkItems removes the given work item rows and returns how many
	// were deleted.
	DeleteWorkItems(ctx context.Context, ids []string) (int, error)
}

// Runner executes verification over the scope engine's registry and the
// unscoped store.
type Runner struct {
	engine      *scope.Engine
	store       Store
	auditLogger audit.Logger
	required    []string
}

// NewRunner creates a verification runner. required names the entity
// types the scope registry must cover.
func NewRunner(engine *scope.Engine, store Store, auditLogger audit.Logger, required []string) *Runner {
	return &Runner{engine: engine, store: store, auditLogger: auditLogger, required: required}
}

// Run executes all checks. With fix set, work items referencing missing
// projects are deleted; every other issue kind is report-only because a
// safe automatic repair does not exist for it. The run itself is audited;
// a failed run audit fails the run, since an unrecorded verification is
// worth nothing to an operator trail.
func (r *Runner) Run(ctx context.Context, fix bool) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}

	report.Issues = append(report.Issues, r.checkScopeRules()...)

	issues, err := r.checkOrphans(ctx)
	if err != nil {
		return nil, err
	}
	report.Issues = append(report.Issues, issues...)

	issues, err = r.checkProjectRefs(ctx, fix, &report.FixedCount)
	if err != nil {
		return nil, err
	}
	report.Issues = append(report.Issues, issues...)

	issues, err = r.checkDocuments(ctx)
	if err != nil {
		return nil, err
	}
	report.Issues = append(report.Issues, issues...)

	report.FinishedAt = time.Now().UTC()

	action := audit.ActionVerificationRun
	if fix {
		action = audit.ActionVerificationFix
	}
	if err := r.auditLogger.Log(ctx, audit.Entry{
		ActionType: action,
		EntityType: "verification",
		Metadata: map[string]any{
			"issues": len(report.Issues),
			"fixed":  report.FixedCount,
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to record verification run: %w", err)
	}

	return report, nil
}

func (r *Runner) checkScopeRules() []Issue {
	if err := r.engine.SelfCheck(r.required...); err != nil {
		return []Issue{{
			Kind:       KindMissingScopeRule,
			EntityType: "scope_rule",
			Detail:     err.Error(),
		}}
	}
	return nil
}

func (r *Runner) checkOrphans(ctx context.Context) ([]Issue, error) {
	var issues []Issue

	principals, err := r.store.FirmlessPrincipals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list firmless principals: %w", err)
	}
	for _, id := range principals {
		issues = append(issues, Issue{
			Kind:       KindOrphanedEntity,
			EntityType: "user",
			EntityID:   id,
			Detail:     "non-superadmin principal has no firm and sees no tenant data",
		})
	}

	projects, err := r.store.UnassociatedProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unassociated projects: %w", err)
	}
	for _, id := range projects {
		issues = append(issues, Issue{
			Kind:       KindOrphanedEntity,
			EntityType: "project",
			EntityID:   id,
			Detail:     "project has no firm association and is invisible to non-superadmins",
		})
	}

	return issues, nil
}

func (r *Runner) checkProjectRefs(ctx context.Context, fix bool, fixed *int) ([]Issue, error) {
	refs, err := r.store.BrokenProjectRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list broken project references: %w", err)
	}

	var issues []Issue
	var deletable []string
	for _, ref := range refs {
		issue := Issue{
			Kind:       KindInvalidProjectReference,
			EntityType: ref.EntityType,
			EntityID:   ref.EntityID,
			Detail:     fmt.Sprintf("references missing project %s", ref.ProjectID),
		}
		if fix && ref.EntityType != "document" {
			deletable = append(deletable, ref.EntityID)
			issue.Fixed = true
		}
		issues = append(issues, issue)
	}

	if len(deletable) > 0 {
		n, err := r.store.DeleteWorkItems(ctx, deletable)
		if err != nil {
			return nil, fmt.Errorf("failed to delete orphaned work items: %w", err)
		}
		*fixed += n
	}

	return issues, nil
}

func (r *Runner) checkDocuments(ctx context.Context) ([]Issue, error) {
	mismatches, err := r.store.CrossTenantDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cross-tenant documents: %w", err)
	}

	var issues []Issue
	for _, m := range mismatches {
		issues = append(issues, Issue{
			Kind:       KindCrossTenantDocument,
			EntityType: "document",
			EntityID:   m.DocumentID,
			Detail:     fmt.Sprintf("firm %s is not associated with referenced project %s", m.FirmID, m.ProjectID),
		})
	}
	return issues, nil
}
