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

package scope

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/firmgate/firmgate/internal/audit"
	"github.com/firmgate/firmgate/internal/identity"
)

// Engine applies tenant scoping rules to queries and entity drafts.
type Engine struct {
	rules       map[string]Rule
	auditLogger audit.Logger
}

// NewEngine creates a scope engine over the given rules.
func NewEngine(rules map[string]Rule, auditLogger audit.Logger) *Engine {
	return &Engine{rules: rules, auditLogger: auditLogger}
}

// failClosed matches zero rows. Scoping failures degrade to this predicate
// rather than passing unfiltered rows through.
const failClosed = "false"

// Predicate returns the SQL tenant predicate for the entity type and the
// caller, with placeholders numbered from argn. Superadmins get no
// predicate (empty string); principals that must not see tenant data get a
// zero-row predicate.
func (e *Engine) Predicate(p *identity.Principal, entityType string, argn int) (string, []any, error) {
	if p.IsSuperadmin() {
		return "", nil, nil
	}
	if p == nil || p.FirmID == nil {
		// A non-superadmin without a firm is a consistency violation; it
		// sees nothing until a firm is assigned out of band.
		return failClosed, nil, nil
	}

	rule, ok := e.rules[entityType]
	if !ok {
		// Unknown entity shapes fail closed. This is deliberately the
		// opposite of the resource access checker's unknown-resource policy:
		// an unregistered persisted type is a configuration gap, not a
		// delegation point.
		e.alertConfigGap(context.Background(), entityType)
		return failClosed, nil, fmt.Errorf("%w: %s", ErrNoScopeRule, entityType)
	}

	firm := *p.FirmID
	ph := fmt.Sprintf("$%d", argn)
	a := rule.Alias

	switch rule.Shape {
	case ShapePrincipal:
		return fmt.Sprintf("%s.firm_id = %s", a, ph), []any{firm}, nil

	case ShapeFirm:
		return fmt.Sprintf(
			"(%s.id = %s OR EXISTS (SELECT 1 FROM project_firms pf_a JOIN project_firms pf_b ON pf_a.project_id = pf_b.project_id WHERE pf_a.firm_id = %s.id AND pf_b.firm_id = %s))",
			a, ph, a, ph,
		), []any{firm}, nil

	case ShapeProject:
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM project_firms pf WHERE pf.project_id = %s.id AND pf.firm_id = %s)",
			a, ph,
		), []any{firm}, nil

	case ShapeProjectOwned:
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM project_firms pf WHERE pf.project_id = %s.project_id AND pf.firm_id = %s)",
			a, ph,
		), []any{firm}, nil

	case ShapeFirmOwned:
		return fmt.Sprintf("%s.firm_id = %s", a, ph), []any{firm}, nil

	case ShapeDocument:
		return fmt.Sprintf(
			"(%s.firm_id = %s OR (%s.firm_id IS NULL AND (%s.project_id IS NULL OR EXISTS (SELECT 1 FROM project_firms pf WHERE pf.project_id = %s.project_id AND pf.firm_id = %s))))",
			a, ph, a, a, a, ph,
		), []any{firm}, nil

	default:
		e.alertConfigGap(context.Background(), entityType)
		return failClosed, nil, fmt.Errorf("%w: %s has invalid shape", ErrNoScopeRule, entityType)
	}
}

// Apply attaches the tenant predicate to the query. Applying twice is a
// no-op; applying for a superadmin returns the query unchanged. Unknown
// entity types fail closed without failing the request: the query will
// match zero rows and the configuration gap is reported through the audit
// log.
func (e *Engine) Apply(p *identity.Principal, entityType string, q *Query) *Query {
	if q.scoped {
		return q
	}
	q.scoped = true

	pred, args, err := e.Predicate(p, entityType, len(q.Args)+1)
	if err != nil {
		q.SQL += " AND " + failClosed
		return q
	}
	if pred == "" {
		return q
	}
	q.SQL += " AND (" + pred + ")"
	q.Args = append(q.Args, args...)
	return q
}

// StampOwner fills in the firm owner on a newly created entity draft. A
// missing firm_id is set to the caller's firm for non-superadmins; an
// explicitly supplied value is never overwritten here — policing a foreign
// value is the request data validator's job, not this step's.
func (e *Engine) StampOwner(p *identity.Principal, draft HasFirmOwnership) {
	if p.IsSuperadmin() {
		return
	}
	if draft.OwnerFirmID() == nil && p.FirmID != nil {
		draft.SetOwnerFirmID(*p.FirmID)
	}
}

// Bypass issues an unscoped data-access capability. Only superadmins and
// internal tooling (nil principal) may obtain one, and every grant is
// recorded synchronously before the capability is handed out — a failed
// audit write means no bypass.
func (e *Engine) Bypass(ctx context.Context, p *identity.Principal, entityType string) (Bypass, error) {
	if p != nil && !p.IsSuperadmin() {
		return Bypass{}, ErrBypassDenied
	}

	principalID := ""
	if p != nil {
		principalID = p.ID
	}
	if err := e.auditLogger.Log(ctx, audit.Entry{
		PrincipalID: principalID,
		ActionType:  audit.ActionScopeBypass,
		EntityType:  entityType,
		Metadata:    map[string]any{audit.AttrBypass: true},
	}); err != nil {
		return Bypass{}, fmt.Errorf("bypass not granted, audit write failed: %w", err)
	}

	return Bypass{granted: true}, nil
}

// SelfCheck verifies every required entity type has a scoping rule with a
// known shape. It is fatal for the verification job; the server runs it at
// startup and degrades to fail-closed filtering if it reports gaps.
func (e *Engine) SelfCheck(required ...string) error {
	var missing []string
	for _, entityType := range required {
		rule, ok := e.rules[entityType]
		if !ok || rule.Shape < ShapePrincipal || rule.Shape > ShapeDocument || rule.Alias == "" {
			missing = append(missing, entityType)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrNoScopeRule, strings.Join(missing, ", "))
	}
	return nil
}

// EntityTypes returns the registered entity type names.
func (e *Engine) EntityTypes() []string {
	types := make([]string, 0, len(e.rules))
	for name := range e.rules {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

func (e *Engine) alertConfigGap(ctx context.Context, entityType string) {
	// Alert-level entry; best effort. Production requests keep failing
	// closed even when this write is lost.
	if err := e.auditLogger.Log(ctx, audit.Entry{
		ActionType: audit.ActionConfigError,
		EntityType: entityType,
		Metadata:   map[string]any{audit.AttrReason: "missing_scope_rule"},
	}); err != nil {
		slog.WarnContext(ctx, "failed to audit scope configuration gap", "entity_type", entityType, "error", err)
	}
}
