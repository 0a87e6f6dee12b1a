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

package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmgate/firmgate/internal/audit"
	"github.com/firmgate/firmgate/internal/authz"
	"github.com/firmgate/firmgate/internal/firm"
	"github.com/firmgate/firmgate/internal/guard"
	"github.com/firmgate/firmgate/internal/id"
	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/leak"
	"github.com/firmgate/firmgate/internal/project"
	"github.com/firmgate/firmgate/internal/scope"
	transportHTTP "github.com/firmgate/firmgate/internal/transport/http"
	"github.com/firmgate/firmgate/internal/verify"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

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

func (m *memAudit) ListRecent(_ context.Context, limit int) ([]*audit.Entry, error) {
	out := make([]*audit.Entry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		out = append(out, &e)
	}
	return out, nil
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

type fakePrincipals struct {
	byID  map[string]*identity.Principal
	creds map[string]*identity.Credentials
}

func (f *fakePrincipals) Create(_ context.Context, p *identity.Principal) error {
	f.byID[p.ID] = p
	return nil
}

func (f *fakePrincipals) GetByID(_ context.Context, pid string) (*identity.Principal, error) {
	p, ok := f.byID[pid]
	if !ok {
		return nil, identity.ErrPrincipalNotFound
	}
	return p, nil
}

func (f *fakePrincipals) GetByEmail(_ context.Context, email string) (*identity.Principal, error) {
	for _, p := range f.byID {
		if p.Email == email {
			return p, nil
		}
	}
	return nil, identity.ErrPrincipalNotFound
}

func (f *fakePrincipals) List(_ context.Context, caller *identity.Principal) ([]*identity.Principal, error) {
	var out []*identity.Principal
	for _, p := range f.byID {
		if caller.IsSuperadmin() || (p.FirmID != nil && caller.InFirm(*p.FirmID)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePrincipals) UpdateRole(_ context.Context, pid string, role authz.Role) error {
	p, ok := f.byID[pid]
	if !ok {
		return identity.ErrPrincipalNotFound
	}
	p.Role = role
	return nil
}

func (f *fakePrincipals) UpdateLockout(_ context.Context, pid string, attempts int, until *time.Time) error {
	p, ok := f.byID[pid]
	if !ok {
		return identity.ErrPrincipalNotFound
	}
	p.FailedLoginAttempts = attempts
	p.LockedUntil = until
	return nil
}

func (f *fakePrincipals) AddCredentials(_ context.Context, creds *identity.Credentials) error {
	f.creds[creds.PrincipalID] = creds
	return nil
}

func (f *fakePrincipals) GetCredentials(_ context.Context, pid string) (*identity.Credentials, error) {
	creds, ok := f.creds[pid]
	if !ok {
		return nil, identity.ErrPrincipalNotFound
	}
	return creds, nil
}

type fakeFirms struct {
	firms map[string]*firm.Firm
}

func (f *fakeFirms) Create(_ context.Context, fm *firm.Firm) error {
	f.firms[fm.ID] = fm
	return nil
}

func (f *fakeFirms) Get(_ context.Context, _ *identity.Principal, fid string) (*firm.Firm, error) {
	fm, ok := f.firms[fid]
	if !ok {
		return nil, firm.ErrFirmNotFound
	}
	return fm, nil
}

func (f *fakeFirms) List(_ context.Context, p *identity.Principal) ([]*firm.Firm, error) {
	var out []*firm.Firm
	for _, fm := range f.firms {
		if p.InFirm(fm.ID) {
			out = append(out, fm)
		}
	}
	return out, nil
}

func (f *fakeFirms) ListUnscoped(_ context.Context, b scope.Bypass) ([]*firm.Firm, error) {
	if !b.Granted() {
		return nil, scope.ErrBypassDenied
	}
	var out []*firm.Firm
	for _, fm := range f.firms {
		out = append(out, fm)
	}
	return out, nil
}

type fakeProjects struct {
	projects map[string]*project.Project
	assocs   map[string][]*project.FirmAssociation
}

func (f *fakeProjects) Create(_ context.Context, p *identity.Principal, proj *project.Project) error {
	if proj.FirmID == nil && p.FirmID != nil {
		firmID := *p.FirmID
		proj.FirmID = &firmID
	}
	f.projects[proj.ID] = proj
	return nil
}

func (f *fakeProjects) Get(_ context.Context, _ *identity.Principal, pid string) (*project.Project, error) {
	proj, ok := f.projects[pid]
	if !ok {
		return nil, project.ErrProjectNotFound
	}
	return proj, nil
}

func (f *fakeProjects) List(_ context.Context, p *identity.Principal) ([]*project.Project, error) {
	var out []*project.Project
	for pid, proj := range f.projects {
		for _, assoc := range f.assocs[pid] {
			if p.InFirm(assoc.FirmID) {
				out = append(out, proj)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeProjects) ListUnscoped(_ context.Context, b scope.Bypass) ([]*project.Project, error) {
	if !b.Granted() {
		return nil, scope.ErrBypassDenied
	}
	var out []*project.Project
	for _, proj := range f.projects {
		out = append(out, proj)
	}
	return out, nil
}

func (f *fakeProjects) AssociateFirm(_ context.Context, assoc *project.FirmAssociation) error {
	for _, existing := range f.assocs[assoc.ProjectID] {
		if existing.FirmID == assoc.FirmID {
			return project.ErrAssociationExists
		}
	}
	f.assocs[assoc.ProjectID] = append(f.assocs[assoc.ProjectID], assoc)
	return nil
}

func (f *fakeProjects) Associations(_ context.Context, projectID string) ([]*project.FirmAssociation, error) {
	return f.assocs[projectID], nil
}

type fakeWorkItems struct {
	items map[string]*project.WorkItem
}

func (f *fakeWorkItems) Create(_ context.Context, p *identity.Principal, item *project.WorkItem) error {
	if item.FirmID == nil && p.FirmID != nil {
		firmID := *p.FirmID
		item.FirmID = &firmID
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeWorkItems) Get(_ context.Context, _ *identity.Principal, kind project.WorkItemKind, itemID string) (*project.WorkItem, error) {
	item, ok := f.items[itemID]
	if !ok || item.Kind != kind {
		return nil, project.ErrWorkItemNotFound
	}
	return item, nil
}

func (f *fakeWorkItems) ListByProject(_ context.Context, _ *identity.Principal, kind project.WorkItemKind, projectID string) ([]*project.WorkItem, error) {
	var out []*project.WorkItem
	for _, item := range f.items {
		if item.Kind == kind && item.ProjectID == projectID {
			out = append(out, item)
		}
	}
	return out, nil
}

type fakeDocuments struct {
	docs map[string]*project.Document
}

func (f *fakeDocuments) Create(_ context.Context, p *identity.Principal, doc *project.Document) error {
	if doc.FirmID == nil && p.FirmID != nil {
		firmID := *p.FirmID
		doc.FirmID = &firmID
	}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocuments) CreateUnscoped(_ context.Context, b scope.Bypass, doc *project.Document) error {
	if !b.Granted() {
		return scope.ErrBypassDenied
	}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocuments) Get(_ context.Context, _ *identity.Principal, docID string) (*project.Document, error) {
	doc, ok := f.docs[docID]
	if !ok {
		return nil, project.ErrDocumentNotFound
	}
	return doc, nil
}

func (f *fakeDocuments) List(_ context.Context, _ *identity.Principal) ([]*project.Document, error) {
	var out []*project.Document
	for _, doc := range f.docs {
		out = append(out, doc)
	}
	return out, nil
}

func (f *fakeDocuments) Count(ctx context.Context, p *identity.Principal) (int, error) {
	docs, err := f.List(ctx, p)
	return len(docs), err
}

func (f *fakeDocuments) ListUnscoped(_ context.Context, b scope.Bypass) ([]*project.Document, error) {
	if !b.Granted() {
		return nil, scope.ErrBypassDenied
	}
	var out []*project.Document
	for _, doc := range f.docs {
		out = append(out, doc)
	}
	return out, nil
}

// fakeGuardReader backs the resource access checker with the same maps the
// other fakes use.
type fakeGuardReader struct {
	projects   *fakeProjects
	workItems  *fakeWorkItems
	documents  *fakeDocuments
	principals *fakePrincipals
}

func (f *fakeGuardReader) ProjectExists(_ context.Context, projectID string) (bool, error) {
	_, ok := f.projects.projects[projectID]
	return ok, nil
}

func (f *fakeGuardReader) ProjectHasFirm(_ context.Context, projectID, firmID string) (bool, error) {
	for _, assoc := range f.projects.assocs[projectID] {
		if assoc.FirmID == firmID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeGuardReader) WorkItemProject(_ context.Context, kind project.WorkItemKind, itemID string) (string, bool, error) {
	item, ok := f.workItems.items[itemID]
	if !ok || item.Kind != kind {
		return "", false, nil
	}
	return item.ProjectID, true, nil
}

func (f *fakeGuardReader) DocumentRefs(_ context.Context, docID string) (*string, *string, bool, error) {
	doc, ok := f.documents.docs[docID]
	if !ok {
		return nil, nil, false, nil
	}
	return doc.FirmID, doc.ProjectID, true, nil
}

func (f *fakeGuardReader) PrincipalFirm(_ context.Context, principalID string) (*string, bool, error) {
	p, ok := f.principals.byID[principalID]
	if !ok {
		return nil, false, nil
	}
	return p.FirmID, true, nil
}

// fakeVerifyStore reports a clean database.
type fakeVerifyStore struct{}

func (fakeVerifyStore) FirmlessPrincipals(context.Context) ([]string, error)          { return nil, nil }
func (fakeVerifyStore) UnassociatedProjects(context.Context) ([]string, error)        { return nil, nil }
func (fakeVerifyStore) BrokenProjectRefs(context.Context) ([]verify.BrokenRef, error) { return nil, nil }
func (fakeVerifyStore) CrossTenantDocuments(context.Context) ([]verify.DocMismatch, error) {
	return nil, nil
}
func (fakeVerifyStore) DeleteWorkItems(context.Context, []string) (int, error) { return 0, nil }

// ---------------------------------------------------------------------------
// Test environment
// ---------------------------------------------------------------------------

type testEnv struct {
	router     http.Handler
	svc        *identity.Service
	principals *fakePrincipals
	firms      *fakeFirms
	projects   *fakeProjects
	workItems  *fakeWorkItems
	documents  *fakeDocuments
	audits     *memAudit
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithAudit(t, &memAudit{})
}

func newTestEnvWithAudit(t *testing.T, audits *memAudit) *testEnv {
	t.Helper()

	principals := &fakePrincipals{byID: map[string]*identity.Principal{}, creds: map[string]*identity.Credentials{}}
	firms := &fakeFirms{firms: map[string]*firm.Firm{}}
	projects := &fakeProjects{projects: map[string]*project.Project{}, assocs: map[string][]*project.FirmAssociation{}}
	workItems := &fakeWorkItems{items: map[string]*project.WorkItem{}}
	documents := &fakeDocuments{docs: map[string]*project.Document{}}

	resolver, err := authz.NewResolver()
	require.NoError(t, err)
	engine := scope.NewEngine(scope.DefaultRules(), audits)

	reader := &fakeGuardReader{projects: projects, workItems: workItems, documents: documents, principals: principals}
	checker := guard.NewChecker(reader)
	validator := guard.NewValidator(checker, reader)

	hasher := identity.NewPasswordHasher(8192, 1, 1, 16, 32)
	tokens := identity.NewTokenIssuer("test-secret", "firmgate-test", time.Hour)
	svc := identity.NewService(principals, hasher, tokens, resolver, audits, 5, 15*time.Minute)

	verifier := verify.NewRunner(engine, fakeVerifyStore{}, audits, scope.RequiredEntityTypes())

	handler := transportHTTP.NewHandler(transportHTTP.Deps{
		IdentityService: svc,
		Resolver:        resolver,
		Engine:          engine,
		Checker:         checker,
		Validator:       validator,
		Principals:      principals,
		Firms:           firms,
		Projects:        projects,
		WorkItems:       workItems,
		Documents:       documents,
		AuditLogger:     audits,
		AuditReader:     audits,
		Verifier:        verifier,
	})

	rateLimiter := transportHTTP.NewRateLimiter(1000, 1000)
	detector := leak.NewDetector(audits)
	router := transportHTTP.NewRouter(handler, rateLimiter, detector)

	return &testEnv{
		router:     router,
		svc:        svc,
		principals: principals,
		firms:      firms,
		projects:   projects,
		workItems:  workItems,
		documents:  documents,
		audits:     audits,
	}
}

func (e *testEnv) provision(t *testing.T, email string, firmID *string, role authz.Role) string {
	t.Helper()
	_, err := e.svc.Provision(context.Background(), email, "pw-123456", firmID, role)
	require.NoError(t, err)
	_, token, err := e.svc.Authenticate(context.Background(), email, "pw-123456")
	require.NoError(t, err)
	return token
}

func (e *testEnv) addFirm(fid, name string) {
	e.firms.firms[fid] = &firm.Firm{ID: fid, Name: name, Type: firm.TypeGeneralContractor, Status: firm.StatusActive}
}

func (e *testEnv) addProject(pid string, firms ...string) {
	e.projects.projects[pid] = &project.Project{ID: pid, Name: pid, Status: "active"}
	for _, fid := range firms {
		e.projects.assocs[pid] = append(e.projects.assocs[pid], &project.FirmAssociation{
			ProjectID: pid, FirmID: fid, RoleInProject: project.RoleLead,
		})
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func strptr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestPurpose: Validates authentication at the edge: missing and malformed
// bearer tokens are rejected before any pipeline stage runs.
// Scope: Integration Test
// Security: Unauthenticated access to tenant data
// Expected: 401 without a token, with a garbage token, and after the
// account is deactivated; health stays public.
// Test Case ID: HTP-01
func TestRouter_Authentication(t *testing.T) {
	env := newTestEnv(t)
	env.addFirm("firm-a", "Alpha Construction")
	token := env.provision(t, "user@alpha.test", strptr("firm-a"), authz.RoleBasic)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/v1/projects", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/v1/projects", "garbage", nil).Code)

	// Deactivation takes effect on the very next request despite the valid
	// token, because the principal is re-read from the store.
	for _, p := range env.principals.byID {
		p.Status = identity.StatusInactive
	}
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/v1/projects", token, nil).Code)
}

// TestPurpose: Validates the login endpoint and the identity introspection
// endpoint, including effective permission listing.
// Scope: Integration Test
// Security: Credential handling at the HTTP boundary
// Expected: Wrong password yields 401 with no token; success returns a
// token that /auth/me accepts, listing the role's permissions.
// Test Case ID: HTP-02
func TestRouter_LoginAndMe(t *testing.T) {
	env := newTestEnv(t)
	env.addFirm("firm-a", "Alpha Construction")
	env.provision(t, "pm@alpha.test", strptr("firm-a"), authz.RoleProjectManager)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "pm@alpha.test", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "pm@alpha.test", "password": "pw-123456",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, token)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	perms, ok := body["permissions"].([]any)
	require.True(t, ok)
	assert.Contains(t, perms, authz.PermProjectsEdit)
	assert.NotContains(t, perms, authz.PermRolesAssign)
}

// TestPurpose: Validates the tenant context stage: a non-superadmin without
// a firm is denied all tenant-scoped routes with a stable code.
// Scope: Integration Test
// Security: Fail-closed handling of firm-less principals
// Expected: 403 with code missing_tenant and an access_denied audit entry
// naming the tenant.isolation stage.
// Test Case ID: HTP-03
func TestRouter_MissingTenantDenied(t *testing.T) {
	env := newTestEnv(t)
	token := env.provision(t, "lost@nowhere.test", nil, authz.RoleBasic)

	rec := env.do(t, http.MethodGet, "/api/v1/projects", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "missing_tenant", decode(t, rec)["code"])

	denials := env.audits.byAction(audit.ActionAccessDenied)
	require.Len(t, denials, 1)
	assert.Equal(t, "tenant.isolation", denials[0].Metadata["stage"])
}

// TestPurpose: Validates the permission stage and its audit trail.
// Scope: Integration Test
// Security: Role-based operation gating
// Expected: A basic user cannot create projects; the denial is audited
// with the permission stage name and code permission_denied.
// Test Case ID: HTP-04
func TestRouter_PermissionDenied(t *testing.T) {
	env := newTestEnv(t)
	env.addFirm("firm-a", "Alpha Construction")
	token := env.provision(t, "user@alpha.test", strptr("firm-a"), authz.RoleBasic)

	rec := env.do(t, http.MethodPost, "/api/v1/projects", token, map[string]string{"name": "New Build"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "permission_denied", decode(t, rec)["code"])

	denials := env.audits.byAction(audit.ActionAccessDenied)
	require.Len(t, denials, 1)
	assert.Equal(t, "permission:"+authz.PermProjectsEdit, denials[0].Metadata["stage"])
}

// TestPurpose: Validates per-resource access checks on route parameters
// across firms.
// Scope: Integration Test
// Security: Horizontal tenant boundary on direct object references
// Expected: A firm-b member reading firm-a or its project gets 403 with
// code cross_tenant_access; members read their own resources.
// Test Case ID: HTP-05
func TestRouter_CrossTenantResourceDenied(t *testing.T) {
	env := newTestEnv(t)
	env.addFirm("firm-a", "Alpha Construction")
	env.addFirm("firm-b", "Beta Engineering")
	env.addProject("proj-1", "firm-a")
	tokenA := env.provision(t, "a@alpha.test", strptr("firm-a"), authz.RoleBasic)
	tokenB := env.provision(t, "b@beta.test", strptr("firm-b"), authz.RoleBasic)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/firms/firm-a", tokenA, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/projects/proj-1", tokenA, nil).Code)

	rec := env.do(t, http.MethodGet, "/api/v1/firms/firm-a", tokenB, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "cross_tenant_access", decode(t, rec)["code"])

	rec = env.do(t, http.MethodGet, "/api/v1/projects/proj-1", tokenB, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	denials := env.audits.byAction(audit.ActionAccessDenied)
	require.Len(t, denials, 2)
	assert.Equal(t, "tenant.isolation", denials[0].Metadata["stage"])
	assert.Equal(t, "resource.access", denials[0].Metadata["check"])
}

// TestPurpose: Validates body validation: foreign references inside JSON
// payloads are rejected with field-level codes.
// Scope: Integration Test
// Security: Cross-tenant reference smuggling through request bodies
// Expected: project creation naming a foreign firm_id is denied with code
// cross_tenant_firm; a clean body succeeds and the creating firm is
// associated as lead.
// Test Case ID: HTP-06
func TestRouter_BodyValidation(t *testing.T) {
	env := newTestEnv(t)
	env.addFirm("firm-a", "Alpha Construction")
	env.addFirm("firm-b", "Beta Engineering")
	token := env.provision(t, "pm@alpha.test", strptr("firm-a"), authz.RoleProjectManager)

	rec := env.do(t, http.MethodPost, "/api/v1/projects", token, map[string]string{
		"name":    "Smuggled",
		"firm_id": "firm-b",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, guard.CodeCrossTenantFirm, decode(t, rec)["code"])

	rec = env.do(t, http.MethodPost, "/api/v1/projects", token, map[string]string{"name": "Clean Build"})
	require.Equal(t, http.StatusCreated, rec.Code)
	projID, _ := decode(t, rec)["id"].(string)
	require.NotEmpty(t, projID)

	assocs := env.projects.assocs[projID]
	require.Len(t, assocs, 1)
	assert.Equal(t, "firm-a", assocs[0].FirmID)
	assert.Equal(t, project.RoleLead, assocs[0].RoleInProject)
}

// TestPurpose: Validates work item handling under a shared project: both
// associated firms work with items, an unrelated firm is denied, and
// assignment rules apply.
// Scope: Integration Test
// Security: Controlled cross-tenant collaboration
// Expected: Firm-b reads firm-a's task through the shared project; firm-c
// is denied; assigning a user from an unrelated firm is rejected.
// Test Case ID: HTP-07
func TestRouter_SharedProjectWorkItems(t *testing.T) {
	env := newTestEnv(t)
	env.addFirm("firm-a", "Alpha Construction")
	env.addFirm("firm-b", "Beta Engineering")
	env.addFirm("firm-c", "Gamma Surveying")
	env.addProject("proj-shared", "firm-a", "firm-b")
	tokenA := env.provision(t, "pm@alpha.test", strptr("firm-a"), authz.RoleProjectManager)
	tokenB := env.provision(t, "b@beta.test", strptr("firm-b"), authz.RoleBasic)
	tokenC := env.provision(t, "c@gamma.test", strptr("firm-c"), authz.RoleBasic)
	env.provision(t, "worker@gamma.test", strptr("firm-c"), authz.RoleBasic)

	var gammaWorker string
	for pid, p := range env.principals.byID {
		if p.Email == "worker@gamma.test" {
			gammaWorker = pid
		}
	}

	rec := env.do(t, http.MethodPost, "/api/v1/projects/proj-shared/tasks", tokenA, map[string]string{
		"title": "Pour foundation",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	taskID, _ := decode(t, rec)["id"].(string)
	require.NotEmpty(t, taskID)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/tasks/"+taskID, tokenB, nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/v1/tasks/"+taskID, tokenC, nil).Code)

	rec = env.do(t, http.MethodPost, "/api/v1/projects/proj-shared/tasks", tokenA, map[string]any{
		"title":            "Survey site",
		"assigned_user_id": gammaWorker,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, guard.CodeCrossTenantUser, decode(t, rec)["code"])
}

// TestPurpose: Validates the superadmin plane: the gate itself, the audited
// bypass on unscoped reads, and the audit trail entries it produces.
// Scope: Integration Test
// Security: Privileged cross-tenant access is gated and recorded
// Expected: Non-superadmin gets 403 superadmin_only; superadmin lists all
// firms with scope_bypass and superadmin_access entries written.
// Test Case ID: HTP-08
func TestRouter_SuperadminPlane(t *testing.T) {
	env := newTestEnv(t)
	env.addFirm("firm-a", "Alpha Construction")
	env.addFirm("firm-b", "Beta Engineering")
	memberToken := env.provision(t, "a@alpha.test", strptr("firm-a"), authz.RoleFirmAdmin)
	rootToken := env.provision(t, "root@firmgate.test", nil, authz.RoleSuperadmin)

	rec := env.do(t, http.MethodGet, "/api/v1/admin/firms", memberToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "superadmin_only", decode(t, rec)["code"])

	rec = env.do(t, http.MethodGet, "/api/v1/admin/firms", rootToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	firms, _ := decode(t, rec)["firms"].([]any)
	assert.Len(t, firms, 2)

	assert.Len(t, env.audits.byAction(audit.ActionScopeBypass), 1)
	assert.Len(t, env.audits.byAction(audit.ActionSuperadminAccess), 1)
}

// TestPurpose: Validates that a failing audit store still denies the
// request: auditing loss never converts a denial into an allow.
// Scope: Integration Test
// Security: Fail-closed interaction between auditing and authorization
// Expected: 403 for a cross-tenant read even though no audit entry could
// be written.
// Test Case ID: HTP-09
func TestRouter_DenialSurvivesAuditFailure(t *testing.T) {
	audits := &memAudit{fail: true}
	env := newTestEnvWithAudit(t, audits)
	env.addFirm("firm-a", "Alpha Construction")
	env.addFirm("firm-b", "Beta Engineering")
	token := env.provision(t, "b@beta.test", strptr("firm-b"), authz.RoleBasic)

	rec := env.do(t, http.MethodGet, "/api/v1/firms/firm-a", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "cross_tenant_access", decode(t, rec)["code"])
	assert.Empty(t, audits.entries)
}

// TestPurpose: Validates the response leak detector middleware: a response
// carrying a foreign firm identifier produces a potential_data_leak audit
// entry without altering the response.
// Scope: Integration Test
// Security: Detection of scoping regressions in live responses
// Expected: The document list is served unchanged and one leak entry names
// the foreign firm.
// Test Case ID: HTP-10
func TestRouter_LeakDetection(t *testing.T) {
	env := newTestEnv(t)
	env.addFirm("firm-a", "Alpha Construction")
	token := env.provision(t, "a@alpha.test", strptr("firm-a"), authz.RoleBasic)

	// Simulate a scoping regression: the store returns a foreign document.
	env.documents.docs["doc-leak"] = &project.Document{
		ID: "doc-leak", Name: "Beta internal audit", FirmID: strptr("firm-b"), CreatedBy: id.NewUUIDv7(),
	}

	rec := env.do(t, http.MethodGet, "/api/v1/documents", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	leaks := env.audits.byAction(audit.ActionPotentialDataLeak)
	require.Len(t, leaks, 1)
	foreign, _ := leaks[0].Metadata["foreign_firm_ids"].([]string)
	assert.Contains(t, foreign, "firm-b")
}

// TestPurpose: Validates role assignment over HTTP, including the tenant
// check on the target user.
// Scope: Integration Test
// Security: Role changes cannot cross the firm boundary
// Expected: Same-firm promotion succeeds; a target in another firm is
// denied with cross_tenant_access before any role logic runs.
// Test Case ID: HTP-11
func TestRouter_AssignRole(t *testing.T) {
	env := newTestEnv(t)
	env.addFirm("firm-a", "Alpha Construction")
	env.addFirm("firm-b", "Beta Engineering")
	adminToken := env.provision(t, "admin@alpha.test", strptr("firm-a"), authz.RoleFirmAdmin)
	env.provision(t, "user@alpha.test", strptr("firm-a"), authz.RoleBasic)
	env.provision(t, "user@beta.test", strptr("firm-b"), authz.RoleBasic)

	var sameFirm, otherFirm string
	for pid, p := range env.principals.byID {
		switch p.Email {
		case "user@alpha.test":
			sameFirm = pid
		case "user@beta.test":
			otherFirm = pid
		}
	}

	rec := env.do(t, http.MethodPost, "/api/v1/users/"+sameFirm+"/role", adminToken,
		map[string]string{"role": string(authz.RoleProjectManager)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, authz.RoleProjectManager, env.principals.byID[sameFirm].Role)

	rec = env.do(t, http.MethodPost, "/api/v1/users/"+otherFirm+"/role", adminToken,
		map[string]string{"role": string(authz.RoleProjectManager)})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "cross_tenant_access", decode(t, rec)["code"])
	assert.Equal(t, authz.RoleBasic, env.principals.byID[otherFirm].Role)
}

// TestPurpose: Validates the verification endpoint: superadmin-only, runs
// the checks, and returns a report.
// Scope: Integration Test
// Security: Operator tooling is privileged
// Expected: Superadmin receives a clean report and the run is audited; a
// firm admin is rejected by the superadmin gate.
// Test Case ID: HTP-12
func TestRouter_RunVerification(t *testing.T) {
	env := newTestEnv(t)
	env.addFirm("firm-a", "Alpha Construction")
	adminToken := env.provision(t, "admin@alpha.test", strptr("firm-a"), authz.RoleFirmAdmin)
	rootToken := env.provision(t, "root@firmgate.test", nil, authz.RoleSuperadmin)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/api/v1/admin/verification", adminToken, nil).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/admin/verification", rootToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode(t, rec)
	assert.Empty(t, report["issues"])
	assert.Len(t, env.audits.byAction(audit.ActionVerificationRun), 1)
}

// TestPurpose: Validates that superadmin reads through the ordinary tenant
// routes land in the audit trail exactly like admin plane reads: the access
// check never stops a superadmin, so the record is the only trace.
// Scope: Integration Test
// Security: Privileged access outside the admin plane stays on the record
// Expected: A superadmin fetching another firm's project writes one
// superadmin_access entry naming the project; listing projects writes one
// with no entity ID; a member reading their own project writes none.
// Test Case ID: HTP-13
func TestRouter_SuperadminOrdinaryRouteAudited(t *testing.T) {
	env := newTestEnv(t)
	env.addFirm("firm-a", "Alpha Construction")
	env.addProject("proj-1", "firm-a")
	memberToken := env.provision(t, "a@alpha.test", strptr("firm-a"), authz.RoleBasic)
	rootToken := env.provision(t, "root@firmgate.test", nil, authz.RoleSuperadmin)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/projects/proj-1", rootToken, nil).Code)

	access := env.audits.byAction(audit.ActionSuperadminAccess)
	require.Len(t, access, 1)
	assert.Equal(t, "project", access[0].EntityType)
	assert.Equal(t, "proj-1", access[0].EntityID)
	assert.Equal(t, false, access[0].Metadata[audit.AttrWrite])

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/projects", rootToken, nil).Code)

	access = env.audits.byAction(audit.ActionSuperadminAccess)
	require.Len(t, access, 2)
	assert.Equal(t, "project", access[1].EntityType)
	assert.Empty(t, access[1].EntityID)

	// A member inside the tenant leaves no privileged-access trace.
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/projects/proj-1", memberToken, nil).Code)
	assert.Len(t, env.audits.byAction(audit.ActionSuperadminAccess), 2)
}
