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

package scope_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmgate/firmgate/internal/audit"
	"github.com/firmgate/firmgate/internal/authz"
	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/project"
	"github.com/firmgate/firmgate/internal/scope"
)

// memAudit records entries in memory.
type memAudit struct {
	entries []audit.Entry
	fail    bool
}

func (m *memAudit) Log(_ context.Context, e audit.Entry) error {
	if m.fail {
		return errors.New("audit store unavailable")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) byAction(action string) []audit.Entry {
	var out []audit.Entry
	for _, e := range m.entries {
		if e.ActionType == action {
			out = append(out, e)
		}
	}
	return out
}

func member(firmID string) *identity.Principal {
	return &identity.Principal{ID: "user-" + firmID, Role: authz.RoleBasic, FirmID: &firmID}
}

func superadmin() *identity.Principal {
	return &identity.Principal{ID: "user-root", Role: authz.RoleSuperadmin}
}

func newEngine(sink *memAudit) *scope.Engine {
	return scope.NewEngine(scope.DefaultRules(), sink)
}

// TestPurpose: Validates the generated tenant predicates: direct firm
// columns, project association edges, transitive project ownership and the
// document reference cascade.
// Scope: Unit Test
// Security: Tenant filter correctness per entity shape
// Expected: Each shape produces its predicate against the registered alias
// with the caller's firm as the sole argument.
// Test Case ID: SCP-01
func TestEngine_PredicateShapes(t *testing.T) {
	e := newEngine(&memAudit{})
	caller := member("firm-a")

	pred, args, err := e.Predicate(caller, "user", 1)
	require.NoError(t, err)
	assert.Equal(t, "u.firm_id = $1", pred)
	assert.Equal(t, []any{"firm-a"}, args)

	pred, _, err = e.Predicate(caller, "project", 1)
	require.NoError(t, err)
	assert.Contains(t, pred, "project_firms")
	assert.Contains(t, pred, "pf.project_id = p.id")

	pred, _, err = e.Predicate(caller, "task", 2)
	require.NoError(t, err)
	assert.Contains(t, pred, "pf.project_id = w.project_id")
	assert.Contains(t, pred, "$2")

	pred, _, err = e.Predicate(caller, "document", 1)
	require.NoError(t, err)
	assert.Contains(t, pred, "d.firm_id = $1")
	assert.Contains(t, pred, "d.firm_id IS NULL")
	assert.Contains(t, pred, "d.project_id IS NULL")
}

// TestPurpose: Validates the principals that receive no predicate or a
// zero-row predicate: superadmins see everything, firm-less non-superadmins
// see nothing.
// Scope: Unit Test
// Security: Fail-closed handling of boundary principals
// Expected: Empty predicate for superadmin, "false" for a firm-less basic
// user.
// Test Case ID: SCP-02
func TestEngine_PredicateBoundaryPrincipals(t *testing.T) {
	e := newEngine(&memAudit{})

	pred, args, err := e.Predicate(superadmin(), "project", 1)
	require.NoError(t, err)
	assert.Empty(t, pred)
	assert.Empty(t, args)

	noFirm := &identity.Principal{ID: "user-lost", Role: authz.RoleBasic}
	pred, _, err = e.Predicate(noFirm, "project", 1)
	require.NoError(t, err)
	assert.Equal(t, "false", pred)
}

// TestPurpose: Validates Apply semantics: the predicate lands exactly once,
// reapplication is a no-op, and superadmin queries pass through unchanged.
// Scope: Unit Test
// Security: Idempotent scoping prevents double-filtering and missed filters
// Expected: One AND clause after two Apply calls; unchanged SQL for
// superadmin; Scoped() true in both cases.
// Test Case ID: SCP-03
func TestEngine_ApplyIdempotent(t *testing.T) {
	e := newEngine(&memAudit{})

	q := scope.NewQuery("SELECT id FROM projects p WHERE p.deleted_at IS NULL")
	e.Apply(member("firm-a"), "project", q)
	once := q.SQL
	e.Apply(member("firm-a"), "project", q)

	assert.Equal(t, once, q.SQL)
	assert.True(t, q.Scoped())
	assert.Equal(t, 1, strings.Count(q.SQL, "project_firms"))
	assert.Equal(t, []any{"firm-a"}, q.Args)

	unscoped := scope.NewQuery("SELECT id FROM projects p WHERE true")
	e.Apply(superadmin(), "project", unscoped)
	assert.Equal(t, "SELECT id FROM projects p WHERE true", unscoped.SQL)
	assert.True(t, unscoped.Scoped())
}

// TestPurpose: Validates that an entity type without a registered rule
// matches zero rows and raises a configuration alert instead of passing
// unfiltered data through.
// Scope: Unit Test
// Security: Unknown persisted types fail closed
// Expected: Query gains an AND false clause and a config_error audit entry
// is written.
// Test Case ID: SCP-04
func TestEngine_UnknownEntityTypeFailsClosed(t *testing.T) {
	sink := &memAudit{}
	e := newEngine(sink)

	q := scope.NewQuery("SELECT id FROM widgets x WHERE true")
	e.Apply(member("firm-a"), "widget", q)

	assert.True(t, strings.HasSuffix(q.SQL, " AND false"))
	require.Len(t, sink.byAction(audit.ActionConfigError), 1)
	assert.Equal(t, "widget", sink.byAction(audit.ActionConfigError)[0].EntityType)
}

// TestPurpose: Validates owner stamping on creation: an absent firm is
// filled with the caller's, a present value is left for the request data
// validator to police, and superadmin drafts are never stamped.
// Scope: Unit Test
// Security: Implicit tenant attribution of new entities
// Expected: Stamped only when nil and the caller is firm-bound.
// Test Case ID: SCP-05
func TestEngine_StampOwner(t *testing.T) {
	e := newEngine(&memAudit{})

	doc := &project.Document{}
	e.StampOwner(member("firm-a"), doc)
	require.NotNil(t, doc.FirmID)
	assert.Equal(t, "firm-a", *doc.FirmID)

	explicit := "firm-b"
	doc = &project.Document{FirmID: &explicit}
	e.StampOwner(member("firm-a"), doc)
	assert.Equal(t, "firm-b", *doc.FirmID)

	doc = &project.Document{}
	e.StampOwner(superadmin(), doc)
	assert.Nil(t, doc.FirmID)
}

// TestPurpose: Validates the bypass capability: non-superadmins are denied,
// grants are audited synchronously, and a failed audit write withholds the
// capability.
// Scope: Unit Test
// Security: Unscoped access is capability-gated and always on the record
// Expected: ErrBypassDenied for members; granted and audited for
// superadmin and internal tooling; not granted when auditing fails.
// Test Case ID: SCP-06
func TestEngine_Bypass(t *testing.T) {
	sink := &memAudit{}
	e := newEngine(sink)
	ctx := context.Background()

	_, err := e.Bypass(ctx, member("firm-a"), "firm")
	assert.ErrorIs(t, err, scope.ErrBypassDenied)
	assert.Empty(t, sink.entries)

	b, err := e.Bypass(ctx, superadmin(), "firm")
	require.NoError(t, err)
	assert.True(t, b.Granted())
	require.Len(t, sink.byAction(audit.ActionScopeBypass), 1)

	// Internal tooling runs with no principal at all.
	b, err = e.Bypass(ctx, nil, "project")
	require.NoError(t, err)
	assert.True(t, b.Granted())

	failing := scope.NewEngine(scope.DefaultRules(), &memAudit{fail: true})
	b, err = failing.Bypass(ctx, superadmin(), "firm")
	require.Error(t, err)
	assert.False(t, b.Granted())

	var zero scope.Bypass
	assert.False(t, zero.Granted(), "zero value must grant nothing")
}

// TestPurpose: Validates the registry self-check across the default rules
// and its detection of missing or malformed rules.
// Scope: Unit Test
// Security: Startup detection of scoping configuration gaps
// Expected: Default rules pass for every registered type; a removed rule
// and an alias-less rule are reported by name.
// Test Case ID: SCP-07
func TestEngine_SelfCheck(t *testing.T) {
	e := newEngine(&memAudit{})
	require.NoError(t, e.SelfCheck(e.EntityTypes()...))

	rules := scope.DefaultRules()
	delete(rules, "document")
	rules["task"] = scope.Rule{Shape: scope.ShapeProjectOwned}
	broken := scope.NewEngine(rules, &memAudit{})

	err := broken.SelfCheck("document", "task", "project")
	require.ErrorIs(t, err, scope.ErrNoScopeRule)
	assert.Contains(t, err.Error(), "document")
	assert.Contains(t, err.Error(), "task")
	assert.NotContains(t, err.Error(), "project")
}

// TestPurpose: Validates that the self-check is fed the hand-maintained
// entity type list rather than the registry's own keys. A registry checked
// against itself cannot notice a dropped rule; the fixed list can.
// Scope: Unit Test
// Security: A deleted scope rule cannot pass startup verification
// Expected: An engine missing the document rule passes a self-enumeration
// check but fails against RequiredEntityTypes, naming document.
// Test Case ID: SCP-08
func TestEngine_SelfCheckIndependentOfRegistry(t *testing.T) {
	rules := scope.DefaultRules()
	delete(rules, "document")
	e := scope.NewEngine(rules, &memAudit{})

	// Self-enumeration is blind to the gap.
	require.NoError(t, e.SelfCheck(e.EntityTypes()...))

	err := e.SelfCheck(scope.RequiredEntityTypes()...)
	require.ErrorIs(t, err, scope.ErrNoScopeRule)
	assert.Contains(t, err.Error(), "document")

	assert.ElementsMatch(t, e.EntityTypes(), []string{
		"user", "firm", "project", "task", "requirement", "milestone",
	})
}
