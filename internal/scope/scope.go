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

// Package scope implements the tenant scope engine: every read and write of
// a tenant-owned entity is implicitly filtered by the caller's firm, without
// call sites having to remember the filter. The data-access layer applies
// the scope itself (repositories require a Principal), so a missing filter
// is a compile-time-visible omission rather than a silent runtime gap.
package scope

import "errors"

// Domain errors
var (
	// ErrNoScopeRule means a tenant-owned entity type has no registered
	// scoping rule. Queries against such a type fail closed; SelfCheck
	// surfaces the gap as a configuration error.
	ErrNoScopeRule = errors.New("no scope rule registered for entity type")

	// ErrBypassDenied means a non-superadmin principal requested a scope
	// bypass.
	ErrBypassDenied = errors.New("scope bypass denied")
)

// Shape classifies how an entity type resolves to its owning firms. Each
// tenant-owned entity type declares its shape statically at registration;
// the engine dispatches on the declared shape, never on runtime probing.
type Shape int

const (
	// ShapePrincipal filters on the target principal's own firm column.
	ShapePrincipal Shape = iota + 1

	// ShapeFirm filters firms to the caller's own firm plus firms sharing
	// at least one project association with it.
	ShapeFirm

	// ShapeProject filters on the project↔firm association edge. The edge,
	// not the project's own firm column, is the visibility authority.
	ShapeProject

	// ShapeProjectOwned filters transitively through the owning project's
	// firm associations (tasks, requirements, milestones).
	ShapeProjectOwned

	// ShapeFirmOwned filters on a direct firm_id column with no project
	// relationship.
	ShapeFirmOwned

	// ShapeDocument filters documents: a direct firm reference must match;
	// otherwise a project reference must resolve through its associations;
	// a document with neither reference stays readable (unlinked-document
	// semantics, kept as-is pending product confirmation).
	ShapeDocument
)

// Rule declares how one entity type is scoped. Alias is the SQL alias the
// repository uses for the entity's table; predicates are written against it.
type Rule struct {
	Shape Shape
	Alias string
}

// RequiredEntityTypes enumerates the persisted tenant-owned entity types,
// maintained by hand beside the schema. SelfCheck compares the rule
// registry against this list, never against the registry's own keys: a
// rule dropped from DefaultRules must still fail the check.
func RequiredEntityTypes() []string {
	return []string{"user", "firm", "project", "task", "requirement", "milestone", "document"}
}

// DefaultRules declares how each required entity type is scoped.
// Registering a type with an invalid shape, or leaving out a type named
// by RequiredEntityTypes, is caught by Engine.SelfCheck.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"user":        {Shape: ShapePrincipal, Alias: "u"},
		"firm":        {Shape: ShapeFirm, Alias: "f"},
		"project":     {Shape: ShapeProject, Alias: "p"},
		"task":        {Shape: ShapeProjectOwned, Alias: "w"},
		"requirement": {Shape: ShapeProjectOwned, Alias: "w"},
		"milestone":   {Shape: ShapeProjectOwned, Alias: "w"},
		"document":    {Shape: ShapeDocument, Alias: "d"},
	}
}

// HasFirmOwnership is implemented by entity drafts that carry a firm owner
// attribute, making them eligible for owner stamping on creation.
type HasFirmOwnership interface {
	OwnerFirmID() *string
	SetOwnerFirmID(firmID string)
}

// Query is a SQL statement under construction. Base queries must already
// contain a WHERE clause (repositories always filter soft-deletes); Apply
// appends the tenant predicate with AND. A Query that has been scoped once
// is returned unchanged by further Apply calls.
type Query struct {
	SQL    string
	Args   []any
	scoped bool
}

// NewQuery creates an unscoped query.
func NewQuery(sql string, args ...any) *Query {
	return &Query{SQL: sql, Args: args}
}

// Scoped reports whether the tenant predicate has been applied.
func (q *Query) Scoped() bool {
	return q.scoped
}

// Append adds a non-scoping clause and its arguments.
func (q *Query) Append(sql string, args ...any) *Query {
	q.SQL += sql
	q.Args = append(q.Args, args...)
	return q
}

// Bypass is an unforgeable capability granting unscoped data access. The
// zero value grants nothing; only Engine.Bypass constructs a granted value,
// and doing so is always audited.
type Bypass struct {
	granted bool
}

// Granted reports whether this bypass was issued by the engine.
func (b Bypass) Granted() bool {
	return b.granted
}
