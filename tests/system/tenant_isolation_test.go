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

// Package system provides integration tests that run against a real
// PostgreSQL database.
//
// Test Execution:
//
//	INTEGRATION_TEST=true go test -v ./tests/system/...
//
// Prerequisites:
//
//	docker compose up -d postgres
//
// Test Categories:
//   - TEN-*: Tenant isolation tests
//   - BYP-*: Scope bypass tests
//   - VER-*: Verification tests
package system

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmgate/firmgate/internal/audit"
	"github.com/firmgate/firmgate/internal/authz"
	"github.com/firmgate/firmgate/internal/firm"
	"github.com/firmgate/firmgate/internal/id"
	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/project"
	"github.com/firmgate/firmgate/internal/scope"
	"github.com/firmgate/firmgate/internal/store/postgres"
	"github.com/firmgate/firmgate/internal/verify"
)

// testDB is the shared database connection for integration tests
var testDB *postgres.DB

// TestMain sets up and tears down the test database connection
func TestMain(m *testing.M) {
	// Skip if not integration test
	if os.Getenv("INTEGRATION_TEST") != "true" {
		os.Exit(0)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         getEnvOrDefault("DB_HOST", "localhost"),
		Port:         getEnvOrDefault("DB_PORT", "5432"),
		User:         getEnvOrDefault("DB_USER", "firmgate"),
		Password:     getEnvOrDefault("DB_PASSWORD", "firmgate_dev_password"),
		Database:     getEnvOrDefault("DB_NAME", "firmgate"),
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	testDB = db

	// Apply migrations; existing tables are fine between runs
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		_ = err
	}

	code := m.Run()

	testDB.Close()
	os.Exit(code)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// env bundles the wired stack for one test.
type env struct {
	engine    *scope.Engine
	audits    *audit.Recorder
	identity  *identity.Service
	firms     *postgres.FirmRepository
	projects  *postgres.ProjectRepository
	workItems *postgres.WorkItemRepository
	documents *postgres.DocumentRepository
}

func newEnv(t *testing.T) *env {
	t.Helper()

	auditLogger := audit.NewRecorder(postgres.NewAuditStore(testDB))
	engine := scope.NewEngine(scope.DefaultRules(), auditLogger)
	resolver, err := authz.NewResolver()
	require.NoError(t, err)

	hasher := identity.NewPasswordHasher(8192, 1, 1, 16, 32)
	tokens := identity.NewTokenIssuer("system-test-secret", "firmgate-test", time.Hour)
	principalRepo := postgres.NewPrincipalRepository(testDB, engine)

	return &env{
		engine:    engine,
		audits:    auditLogger,
		identity:  identity.NewService(principalRepo, hasher, tokens, resolver, auditLogger, 5, time.Hour),
		firms:     postgres.NewFirmRepository(testDB, engine),
		projects:  postgres.NewProjectRepository(testDB, engine),
		workItems: postgres.NewWorkItemRepository(testDB, engine),
		documents: postgres.NewDocumentRepository(testDB, engine),
	}
}

func (e *env) createFirm(t *testing.T, name string) *firm.Firm {
	t.Helper()
	f := &firm.Firm{
		ID:     id.NewUUIDv7(),
		Name:   name + " " + id.NewUUIDv7()[:8],
		Type:   firm.TypeGeneralContractor,
		Status: firm.StatusActive,
	}
	require.NoError(t, e.firms.Create(context.Background(), f))
	return f
}

func (e *env) createPrincipal(t *testing.T, firmID *string, role authz.Role) *identity.Principal {
	t.Helper()
	email := "user-" + id.NewUUIDv7()[:8] + "@system.test"
	p, err := e.identity.Provision(context.Background(), email, "pw-123456", firmID, role)
	require.NoError(t, err)
	return p
}

// createProject mirrors the handler: the creating firm joins as lead.
func (e *env) createProject(t *testing.T, owner *identity.Principal, name string) *project.Project {
	t.Helper()
	ctx := context.Background()
	proj := &project.Project{ID: id.NewUUIDv7(), Name: name, Status: "active"}
	require.NoError(t, e.projects.Create(ctx, owner, proj))
	require.NoError(t, e.projects.AssociateFirm(ctx, &project.FirmAssociation{
		ProjectID:     proj.ID,
		FirmID:        *owner.FirmID,
		RoleInProject: project.RoleLead,
	}))
	return proj
}

func contains(projects []*project.Project, id string) bool {
	for _, p := range projects {
		if p.ID == id {
			return true
		}
	}
	return false
}

// TestPurpose: Validates that projects of one firm are invisible to
// another firm through both listing and direct lookup.
// Scope: Integration Test
// Security: Multi-tenancy boundary enforcement on real SQL scoping
// Expected: Firm A's project appears in A's list only; B's direct Get
// reports not found, not forbidden.
// Test Case ID: TEN-01
func TestTenant_ProjectIsolationAcrossFirms(t *testing.T) {
	if testDB == nil {
		t.Skip("Integration test requires database (set INTEGRATION_TEST=true)")
	}
	e := newEnv(t)
	ctx := context.Background()

	firmA := e.createFirm(t, "Alpha Construction")
	firmB := e.createFirm(t, "Beta Engineering")
	userA := e.createPrincipal(t, &firmA.ID, authz.RoleProjectManager)
	userB := e.createPrincipal(t, &firmB.ID, authz.RoleProjectManager)

	proj := e.createProject(t, userA, "Tower Block")

	listA, err := e.projects.List(ctx, userA)
	require.NoError(t, err)
	assert.True(t, contains(listA, proj.ID), "TEN-01: owner firm must see its project")

	listB, err := e.projects.List(ctx, userB)
	require.NoError(t, err)
	assert.False(t, contains(listB, proj.ID),
		"TEN-01 SECURITY: foreign firm must not see the project")

	_, err = e.projects.Get(ctx, userB, proj.ID)
	assert.ErrorIs(t, err, project.ErrProjectNotFound,
		"TEN-01 SECURITY: cross-tenant lookup must read as not found")
}

// TestPurpose: Validates shared-project visibility: associating a second
// firm makes the project and its work items visible to that firm, and to
// nobody else.
// Scope: Integration Test
// Security: Association edge as the visibility authority
// Expected: Both associated firms see the project and its tasks; a third
// firm sees neither.
// Test Case ID: TEN-02
func TestTenant_SharedProjectVisibility(t *testing.T) {
	if testDB == nil {
		t.Skip("Integration test requires database")
	}
	e := newEnv(t)
	ctx := context.Background()

	firmA := e.createFirm(t, "Alpha Construction")
	firmB := e.createFirm(t, "Beta Engineering")
	firmC := e.createFirm(t, "Gamma Surveying")
	userA := e.createPrincipal(t, &firmA.ID, authz.RoleProjectManager)
	userB := e.createPrincipal(t, &firmB.ID, authz.RoleBasic)
	userC := e.createPrincipal(t, &firmC.ID, authz.RoleBasic)

	proj := e.createProject(t, userA, "Joint Venture")
	require.NoError(t, e.projects.AssociateFirm(ctx, &project.FirmAssociation{
		ProjectID:     proj.ID,
		FirmID:        firmB.ID,
		RoleInProject: project.RoleSubcontractor,
	}))

	task := &project.WorkItem{
		ID:        id.NewUUIDv7(),
		Kind:      project.KindTask,
		ProjectID: proj.ID,
		Title:     "Pour foundation",
		Status:    "open",
	}
	require.NoError(t, e.workItems.Create(ctx, userA, task))

	_, err := e.projects.Get(ctx, userB, proj.ID)
	assert.NoError(t, err, "TEN-02: associated firm must see the shared project")

	got, err := e.workItems.Get(ctx, userB, project.KindTask, task.ID)
	require.NoError(t, err, "TEN-02: associated firm must see the task")
	assert.Equal(t, task.Title, got.Title)

	_, err = e.workItems.Get(ctx, userC, project.KindTask, task.ID)
	assert.ErrorIs(t, err, project.ErrWorkItemNotFound,
		"TEN-02 SECURITY: unrelated firm must not see the task")
}

// TestPurpose: Validates document reference semantics end to end: a firm
// reference restricts to that firm, a project-only reference follows the
// association edge, and an unlinked document stays readable.
// Scope: Integration Test
// Security: Tenant boundary on optionally-referenced documents
// Expected: Counts and lookups agree with the reference shape for every
// caller.
// Test Case ID: TEN-03
func TestTenant_DocumentReferenceShapes(t *testing.T) {
	if testDB == nil {
		t.Skip("Integration test requires database")
	}
	e := newEnv(t)
	ctx := context.Background()

	firmA := e.createFirm(t, "Alpha Construction")
	firmB := e.createFirm(t, "Beta Engineering")
	userA := e.createPrincipal(t, &firmA.ID, authz.RoleProjectManager)
	userB := e.createPrincipal(t, &firmB.ID, authz.RoleBasic)

	proj := e.createProject(t, userA, "Harbor Bridge")
	require.NoError(t, e.projects.AssociateFirm(ctx, &project.FirmAssociation{
		ProjectID:     proj.ID,
		FirmID:        firmB.ID,
		RoleInProject: project.RoleSubcontractor,
	}))

	firmDoc := &project.Document{ID: id.NewUUIDv7(), Name: "Alpha payroll", CreatedBy: userA.ID}
	require.NoError(t, e.documents.Create(ctx, userA, firmDoc))

	projDoc := &project.Document{ID: id.NewUUIDv7(), Name: "Bridge blueprints", ProjectID: &proj.ID, CreatedBy: userA.ID}
	require.NoError(t, e.documents.CreateUnscoped(ctx, mustBypass(t, e), projDoc))

	// Owner stamping filled the firm on the first document.
	require.NotNil(t, firmDoc.FirmID)
	assert.Equal(t, firmA.ID, *firmDoc.FirmID)

	_, err := e.documents.Get(ctx, userB, firmDoc.ID)
	assert.ErrorIs(t, err, project.ErrDocumentNotFound,
		"TEN-03 SECURITY: firm-referenced document hidden from other firms")

	got, err := e.documents.Get(ctx, userB, projDoc.ID)
	require.NoError(t, err, "TEN-03: project-only document visible through the association")
	assert.Equal(t, "Bridge blueprints", got.Name)
}

// TestPurpose: Validates the bypass gate at the repository layer: unscoped
// reads require an engine-issued capability and every grant lands in the
// audit store.
// Scope: Integration Test
// Security: Unscoped access is impossible without an audited grant
// Expected: The zero-value bypass is rejected; a granted bypass lists
// firms across tenants.
// Test Case ID: BYP-01
func TestBypass_RequiredForUnscopedReads(t *testing.T) {
	if testDB == nil {
		t.Skip("Integration test requires database")
	}
	e := newEnv(t)
	ctx := context.Background()

	e.createFirm(t, "Alpha Construction")
	e.createFirm(t, "Beta Engineering")

	var zero scope.Bypass
	_, err := e.firms.ListUnscoped(ctx, zero)
	assert.ErrorIs(t, err, scope.ErrBypassDenied,
		"BYP-01 SECURITY: unscoped read without a granted bypass must fail")

	firmC := e.createFirm(t, "Gamma Surveying")
	member := e.createPrincipal(t, &firmC.ID, authz.RoleBasic)
	_, err = e.engine.Bypass(ctx, member, "firm")
	assert.ErrorIs(t, err, scope.ErrBypassDenied)

	firms, err := e.firms.ListUnscoped(ctx, mustBypass(t, e))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(firms), 2)
}

// TestPurpose: Validates the verification job against live data: a
// deliberately orphaned work item is reported and deleted in fix mode.
// Scope: Integration Test
// Security: Detection and repair of rows outside every tenant's view
// Expected: Report names the orphan as invalid_project_reference; fix mode
// removes it and counts the deletion.
// Test Case ID: VER-01
func TestVerification_FixesOrphanedWorkItems(t *testing.T) {
	if testDB == nil {
		t.Skip("Integration test requires database")
	}
	e := newEnv(t)
	ctx := context.Background()

	firmA := e.createFirm(t, "Alpha Construction")
	userA := e.createPrincipal(t, &firmA.ID, authz.RoleProjectManager)
	proj := e.createProject(t, userA, "Doomed Project")

	orphan := &project.WorkItem{
		ID:        id.NewUUIDv7(),
		Kind:      project.KindTask,
		ProjectID: proj.ID,
		Title:     "Will be orphaned",
		Status:    "open",
	}
	require.NoError(t, e.workItems.Create(ctx, userA, orphan))

	// The schema deliberately has no FK from work items to projects, so a
	// hard delete of the project row leaves the task orphaned.
	_, err := testDB.Pool().Exec(ctx, `DELETE FROM project_firms WHERE project_id = $1`, proj.ID)
	require.NoError(t, err)
	_, err = testDB.Pool().Exec(ctx, `DELETE FROM projects WHERE id = $1`, proj.ID)
	require.NoError(t, err)

	runner := verify.NewRunner(e.engine, postgres.NewVerifyStore(testDB), e.audits, scope.RequiredEntityTypes())

	report, err := runner.Run(ctx, false)
	require.NoError(t, err)
	assert.True(t, hasIssue(report, verify.KindInvalidProjectReference, orphan.ID),
		"VER-01: orphaned task must be reported")

	report, err = runner.Run(ctx, true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.FixedCount, 1)

	_, err = e.workItems.Get(ctx, userA, project.KindTask, orphan.ID)
	assert.ErrorIs(t, err, project.ErrWorkItemNotFound,
		"VER-01: fixed orphan must be gone")
}

func mustBypass(t *testing.T, e *env) scope.Bypass {
	t.Helper()
	b, err := e.engine.Bypass(context.Background(), nil, "document")
	require.NoError(t, err)
	return b
}

func hasIssue(report *verify.Report, kind, entityID string) bool {
	for _, issue := range report.Issues {
		if issue.Kind == kind && issue.EntityID == entityID {
			return true
		}
	}
	return false
}
