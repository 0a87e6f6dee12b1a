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

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/firmgate/firmgate/internal/audit"
	"github.com/firmgate/firmgate/internal/authz"
	"github.com/firmgate/firmgate/internal/firm"
	"github.com/firmgate/firmgate/internal/guard"
	"github.com/firmgate/firmgate/internal/id"
	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/leak"
	"github.com/firmgate/firmgate/internal/observability/logger"
	"github.com/firmgate/firmgate/internal/observability/metrics"
	"github.com/firmgate/firmgate/internal/project"
	"github.com/firmgate/firmgate/internal/scope"
	"github.com/firmgate/firmgate/internal/verify"
)

// maxBodySize bounds request bodies before decoding.
const maxBodySize = 1 << 20

// AuditReader lists recorded audit entries for the audit endpoint.
type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]*audit.Entry, error)
}

// Deps bundles the handler's dependencies.
type Deps struct {
	IdentityService *identity.Service
	Resolver        *authz.Resolver
	Engine          *scope.Engine
	Checker         *guard.Checker
	Validator       *guard.Validator
	Principals      identity.Repository
	Firms           firm.Repository
	Projects        project.Repository
	WorkItems       project.WorkItemRepository
	Documents       project.DocumentRepository
	AuditLogger     audit.Logger
	AuditReader     AuditReader
	Verifier        *verify.Runner
	Counters        *metrics.IsolationCounters
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService *identity.Service
	resolver        *authz.Resolver
	engine          *scope.Engine
	checker         *guard.Checker
	validator       *guard.Validator
	principals      identity.Repository
	firms           firm.Repository
	projects        project.Repository
	workItems       project.WorkItemRepository
	documents       project.DocumentRepository
	auditLogger     audit.Logger
	auditReader     AuditReader
	verifier        *verify.Runner
	counters        *metrics.IsolationCounters
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	return &Handler{
		identityService: deps.IdentityService,
		resolver:        deps.Resolver,
		engine:          deps.Engine,
		checker:         deps.Checker,
		validator:       deps.Validator,
		principals:      deps.Principals,
		firms:           deps.Firms,
		projects:        deps.Projects,
		workItems:       deps.WorkItems,
		documents:       deps.Documents,
		auditLogger:     deps.AuditLogger,
		auditReader:     deps.AuditReader,
		verifier:        deps.Verifier,
		counters:        deps.Counters,
	}
}

// NewRouter creates a new HTTP router. The leak detector is wired only
// when non-nil; callers pass nil in production.
func NewRouter(h *Handler, rateLimiter *RateLimiter, detector *leak.Detector) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			if detector != nil {
				r.Use(LeakDetectionMiddleware(detector, h.counters))
			}

			r.Get("/auth/me", h.Me)

			// Tenant-scoped routes (fail-closed)
			r.Group(func(r chi.Router) {
				r.Use(h.RequireTenantContext)

				r.With(h.RequirePermission(authz.PermUsersView)).Get("/users", h.ListUsers)
				r.With(h.RequirePermission(authz.PermRolesAssign)).
					Post("/users/{userID}/role", h.AssignRole)

				r.Get("/firms", h.ListFirms)
				r.With(h.RequireResource("firm", "firmID")).Get("/firms/{firmID}", h.GetFirm)

				r.Route("/projects", func(r chi.Router) {
					r.Get("/", h.ListProjects)
					r.With(h.RequirePermission(authz.PermProjectsEdit)).Post("/", h.CreateProject)

					r.Route("/{projectID}", func(r chi.Router) {
						r.Use(h.RequireResource("project", "projectID"))

						r.Get("/", h.GetProject)
						r.With(h.RequirePermission(authz.PermProjectsAssign)).
							Post("/firms", h.AssociateFirm)
						r.Get("/firms", h.ListAssociations)

						r.Route("/{kindPlural}", func(r chi.Router) {
							r.With(h.RequirePermission(authz.PermWorkItemsView)).Get("/", h.ListWorkItems)
							r.With(h.RequirePermission(authz.PermWorkItemsEdit)).Post("/", h.CreateWorkItem)
						})
					})
				})

				r.With(h.RequireResource("task", "itemID")).Get("/tasks/{itemID}", h.GetWorkItem("task"))
				r.With(h.RequireResource("requirement", "itemID")).Get("/requirements/{itemID}", h.GetWorkItem("requirement"))
				r.With(h.RequireResource("milestone", "itemID")).Get("/milestones/{itemID}", h.GetWorkItem("milestone"))

				r.Route("/documents", func(r chi.Router) {
					r.Get("/", h.ListDocuments)
					r.With(h.RequirePermission(authz.PermDocumentsEdit)).Post("/", h.CreateDocument)
					r.With(h.RequireResource("document", "documentID")).Get("/{documentID}", h.GetDocument)
				})

				r.With(h.RequirePermission(authz.PermAuditView)).Get("/audit", h.ListAudit)
			})

			// Superadmin plane: cross-tenant reads through audited bypasses
			r.Route("/admin", func(r chi.Router) {
				r.Use(h.RequireSuperadmin)

				r.Get("/firms", h.AdminListFirms)
				r.Get("/projects", h.AdminListProjects)
				r.Get("/documents", h.AdminListDocuments)
				r.Post("/documents", h.AdminCreateDocument)
				r.With(h.RequirePermission(authz.PermVerificationRun)).
					Post("/verification", h.RunVerification)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "firmgate",
	})
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates a principal and issues a bearer token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, token, err := h.identityService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrAccountLocked):
			respondError(w, http.StatusUnauthorized, "account is locked")
		case errors.Is(err, identity.ErrAccountInactive):
			respondError(w, http.StatusUnauthorized, "account is not active")
		default:
			respondError(w, http.StatusUnauthorized, "invalid credentials")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  principalResponse(p),
	})
}

// Me returns the calling principal and its effective permissions
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	if p == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	perms, err := h.resolver.PermissionsFor(p.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to resolve permissions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user":        principalResponse(p),
		"permissions": perms,
	})
}

// auditSuperadminListing records a superadmin using an ordinary list
// endpoint. Scope is the identity for them, so the listing spans every
// tenant and is recorded like the admin plane's reads. True means the
// caller may respond; on a failed write the data is withheld.
func (h *Handler) auditSuperadminListing(w http.ResponseWriter, r *http.Request, p *identity.Principal, entityType string) bool {
	if !p.IsSuperadmin() {
		return true
	}
	if err := audit.LogCrossTenantAccess(r.Context(), h.auditLogger, p.ID, entityType, "", false); err != nil {
		h.internalError(w, r, "failed to record cross-tenant access", err)
		return false
	}
	return true
}

// ListUsers lists the principals of the caller's firm
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	users, err := h.principals.List(r.Context(), p)
	if err != nil {
		h.internalError(w, r, "failed to list users", err)
		return
	}
	if !h.auditSuperadminListing(w, r, p, "user") {
		return
	}

	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, principalResponse(u))
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": out})
}

// AssignRoleRequest carries a role change
type AssignRoleRequest struct {
	Role string `json:"role"`
}

// AssignRole changes another principal's role
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	targetID := chi.URLParam(r, "userID")

	ok, err := h.checker.CheckAccess(r.Context(), p, "user", targetID)
	if err != nil {
		h.internalError(w, r, "failed to check target access", err)
		return
	}
	if !ok {
		h.denyEntity(w, r, p, stageResourceAccess, "user", targetID,
			"target user outside caller tenant", codeCrossTenantAccess)
		return
	}
	if p.IsSuperadmin() {
		if err := h.auditSuperadminAccess(r, p, "user", targetID); err != nil {
			h.internalError(w, r, "failed to record cross-tenant access", err)
			return
		}
	}

	var req AssignRoleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role := authz.Role(req.Role)
	if !role.Valid() {
		respondError(w, http.StatusBadRequest, "unknown role")
		return
	}

	if err := h.identityService.AssignRole(r.Context(), p, targetID, role); err != nil {
		switch {
		case errors.Is(err, identity.ErrRoleAssignmentDenied):
			h.denyEntity(w, r, p, "role.assignment", "user", targetID,
				"role assignment denied", codeRoleDenied)
		case errors.Is(err, identity.ErrPrincipalNotFound):
			respondError(w, http.StatusNotFound, "user not found")
		default:
			h.internalError(w, r, "failed to assign role", err)
		}
		return
	}

	// Grants only a superadmin could have made are permission overrides.
	if p.IsSuperadmin() && (role == authz.RoleSuperadmin || p.ID == targetID) {
		h.counters.RecordOverride(r.Context())
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "role assigned"})
}

// ListFirms lists the firms visible to the caller
func (h *Handler) ListFirms(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	firms, err := h.firms.List(r.Context(), p)
	if err != nil {
		h.internalError(w, r, "failed to list firms", err)
		return
	}
	if !h.auditSuperadminListing(w, r, p, "firm") {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"firms": firms})
}

// GetFirm returns one firm
func (h *Handler) GetFirm(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	f, err := h.firms.Get(r.Context(), p, chi.URLParam(r, "firmID"))
	if err != nil {
		if errors.Is(err, firm.ErrFirmNotFound) {
			respondError(w, http.StatusNotFound, "firm not found")
			return
		}
		h.internalError(w, r, "failed to get firm", err)
		return
	}
	respondJSON(w, http.StatusOK, f)
}

// ListProjects lists the projects visible to the caller
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	projects, err := h.projects.List(r.Context(), p)
	if err != nil {
		h.internalError(w, r, "failed to list projects", err)
		return
	}
	if !h.auditSuperadminListing(w, r, p, "project") {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// CreateProjectRequest carries a new project
type CreateProjectRequest struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// CreateProject creates a project owned by the caller's firm
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())

	raw, ok := h.decodeValidatedBody(w, r, p)
	if !ok {
		return
	}

	var req CreateProjectRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		req.Status = "active"
	}

	proj := &project.Project{
		ID:     id.NewUUIDv7(),
		Name:   req.Name,
		Status: req.Status,
	}
	if err := h.projects.Create(r.Context(), p, proj); err != nil {
		h.internalError(w, r, "failed to create project", err)
		return
	}

	// The creating firm joins its own project as lead; without this edge
	// the project would be invisible even to its creator.
	if p.FirmID != nil {
		assoc := &project.FirmAssociation{
			ProjectID:     proj.ID,
			FirmID:        *p.FirmID,
			RoleInProject: project.RoleLead,
		}
		if err := h.projects.AssociateFirm(r.Context(), assoc); err != nil {
			h.internalError(w, r, "failed to associate creating firm", err)
			return
		}
	}

	respondJSON(w, http.StatusCreated, proj)
}

// GetProject returns one project
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	proj, err := h.projects.Get(r.Context(), p, chi.URLParam(r, "projectID"))
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			respondError(w, http.StatusNotFound, "project not found")
			return
		}
		h.internalError(w, r, "failed to get project", err)
		return
	}
	respondJSON(w, http.StatusOK, proj)
}

// AssociateFirmRequest adds a firm to a project
type AssociateFirmRequest struct {
	AssignedFirmID string `json:"assigned_firm_id"`
	RoleInProject  string `json:"role_in_project"`
}

// AssociateFirm adds a firm to the project's association edge
func (h *Handler) AssociateFirm(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	projectID := chi.URLParam(r, "projectID")

	var req AssociateFirmRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AssignedFirmID == "" {
		respondError(w, http.StatusBadRequest, "assigned_firm_id is required")
		return
	}
	if req.RoleInProject == "" {
		req.RoleInProject = project.RoleSubcontractor
	}

	assoc := &project.FirmAssociation{
		ProjectID:     projectID,
		FirmID:        req.AssignedFirmID,
		RoleInProject: req.RoleInProject,
	}
	if err := h.projects.AssociateFirm(r.Context(), assoc); err != nil {
		if errors.Is(err, project.ErrAssociationExists) {
			respondError(w, http.StatusConflict, "firm already associated")
			return
		}
		h.internalError(w, r, "failed to associate firm", err)
		return
	}

	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		PrincipalID: p.ID,
		ActionType:  audit.ActionRoleAssigned,
		EntityType:  "project_firm",
		EntityID:    projectID,
		Metadata: map[string]any{
			audit.AttrFirmID:  req.AssignedFirmID,
			"role_in_project": req.RoleInProject,
		},
	}); err != nil {
		slog.WarnContext(r.Context(), "failed to audit firm association", logger.Error(err))
	}

	respondJSON(w, http.StatusCreated, assoc)
}

// ListAssociations lists the project's firm edges
func (h *Handler) ListAssociations(w http.ResponseWriter, r *http.Request) {
	assocs, err := h.projects.Associations(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.internalError(w, r, "failed to list associations", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"firms": assocs})
}

// CreateWorkItemRequest carries a new task, requirement or milestone
type CreateWorkItemRequest struct {
	Title          string  `json:"title"`
	Status         string  `json:"status"`
	AssignedUserID *string `json:"assigned_user_id"`
}

// ListWorkItems lists one kind of work item for a project
func (h *Handler) ListWorkItems(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	kind, ok := kindFromPath(chi.URLParam(r, "kindPlural"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown resource")
		return
	}

	items, err := h.workItems.ListByProject(r.Context(), p, kind, chi.URLParam(r, "projectID"))
	if err != nil {
		h.internalError(w, r, "failed to list work items", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

// CreateWorkItem creates a work item under a project
func (h *Handler) CreateWorkItem(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	projectID := chi.URLParam(r, "projectID")
	kind, ok := kindFromPath(chi.URLParam(r, "kindPlural"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown resource")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	// The owning project comes from the URL; merge it into the field view
	// so assignment rules can use it.
	fields := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if _, present := fields[guard.FieldProjectID]; !present {
		fields[guard.FieldProjectID] = projectID
	}
	if !h.validateFields(w, r, p, fields) {
		return
	}

	var req CreateWorkItemRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Title == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		req.Status = "open"
	}

	item := &project.WorkItem{
		ID:             id.NewUUIDv7(),
		Kind:           kind,
		ProjectID:      projectID,
		Title:          req.Title,
		Status:         req.Status,
		AssignedUserID: req.AssignedUserID,
	}
	if err := h.workItems.Create(r.Context(), p, item); err != nil {
		h.internalError(w, r, "failed to create work item", err)
		return
	}

	respondJSON(w, http.StatusCreated, item)
}

// GetWorkItem returns one work item of a fixed kind
func (h *Handler) GetWorkItem(kindName string) http.HandlerFunc {
	kind := project.WorkItemKind(kindName)
	return func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		item, err := h.workItems.Get(r.Context(), p, kind, chi.URLParam(r, "itemID"))
		if err != nil {
			if errors.Is(err, project.ErrWorkItemNotFound) {
				respondError(w, http.StatusNotFound, "work item not found")
				return
			}
			h.internalError(w, r, "failed to get work item", err)
			return
		}
		respondJSON(w, http.StatusOK, item)
	}
}

// CreateDocumentRequest carries a new document
type CreateDocumentRequest struct {
	Name      string  `json:"name"`
	ProjectID *string `json:"project_id"`
	FirmID    *string `json:"firm_id"`
}

// ListDocuments lists the documents visible to the caller
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())

	docs, err := h.documents.List(r.Context(), p)
	if err != nil {
		h.internalError(w, r, "failed to list documents", err)
		return
	}
	count, err := h.documents.Count(r.Context(), p)
	if err != nil {
		h.internalError(w, r, "failed to count documents", err)
		return
	}
	if !h.auditSuperadminListing(w, r, p, "document") {
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"count":     count,
	})
}

// CreateDocument creates a document; an omitted firm reference is stamped
// with the caller's firm
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())

	raw, ok := h.decodeValidatedBody(w, r, p)
	if !ok {
		return
	}

	var req CreateDocumentRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc := &project.Document{
		ID:        id.NewUUIDv7(),
		Name:      req.Name,
		FirmID:    req.FirmID,
		ProjectID: req.ProjectID,
		CreatedBy: p.ID,
	}
	if err := h.documents.Create(r.Context(), p, doc); err != nil {
		h.internalError(w, r, "failed to create document", err)
		return
	}

	respondJSON(w, http.StatusCreated, doc)
}

// GetDocument returns one document
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	doc, err := h.documents.Get(r.Context(), p, chi.URLParam(r, "documentID"))
	if err != nil {
		if errors.Is(err, project.ErrDocumentNotFound) {
			respondError(w, http.StatusNotFound, "document not found")
			return
		}
		h.internalError(w, r, "failed to get document", err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// ListAudit returns recent audit entries
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.auditReader.ListRecent(r.Context(), 100)
	if err != nil {
		h.internalError(w, r, "failed to list audit entries", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// AdminListFirms lists every firm across tenants
func (h *Handler) AdminListFirms(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())

	bypass, err := h.engine.Bypass(r.Context(), p, "firm")
	if err != nil {
		h.internalError(w, r, "failed to obtain bypass", err)
		return
	}
	h.counters.RecordBypass(r.Context(), "firm")
	firms, err := h.firms.ListUnscoped(r.Context(), bypass)
	if err != nil {
		h.internalError(w, r, "failed to list firms", err)
		return
	}

	if err := audit.LogCrossTenantAccess(r.Context(), h.auditLogger, p.ID, "firm", "", false); err != nil {
		h.internalError(w, r, "failed to record cross-tenant access", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"firms": firms})
}

// AdminListProjects lists every project across tenants
func (h *Handler) AdminListProjects(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())

	bypass, err := h.engine.Bypass(r.Context(), p, "project")
	if err != nil {
		h.internalError(w, r, "failed to obtain bypass", err)
		return
	}
	h.counters.RecordBypass(r.Context(), "project")
	projects, err := h.projects.ListUnscoped(r.Context(), bypass)
	if err != nil {
		h.internalError(w, r, "failed to list projects", err)
		return
	}

	if err := audit.LogCrossTenantAccess(r.Context(), h.auditLogger, p.ID, "project", "", false); err != nil {
		h.internalError(w, r, "failed to record cross-tenant access", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// AdminListDocuments lists every document across tenants
func (h *Handler) AdminListDocuments(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())

	bypass, err := h.engine.Bypass(r.Context(), p, "document")
	if err != nil {
		h.internalError(w, r, "failed to obtain bypass", err)
		return
	}
	h.counters.RecordBypass(r.Context(), "document")
	docs, err := h.documents.ListUnscoped(r.Context(), bypass)
	if err != nil {
		h.internalError(w, r, "failed to list documents", err)
		return
	}

	if err := audit.LogCrossTenantAccess(r.Context(), h.auditLogger, p.ID, "document", "", false); err != nil {
		h.internalError(w, r, "failed to record cross-tenant access", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// AdminCreateDocument attaches a document to an arbitrary firm or project
func (h *Handler) AdminCreateDocument(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())

	var req CreateDocumentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bypass, err := h.engine.Bypass(r.Context(), p, "document")
	if err != nil {
		h.internalError(w, r, "failed to obtain bypass", err)
		return
	}
	h.counters.RecordBypass(r.Context(), "document")

	doc := &project.Document{
		ID:        id.NewUUIDv7(),
		Name:      req.Name,
		FirmID:    req.FirmID,
		ProjectID: req.ProjectID,
		CreatedBy: p.ID,
	}
	if err := h.documents.CreateUnscoped(r.Context(), bypass, doc); err != nil {
		h.internalError(w, r, "failed to create document", err)
		return
	}

	if err := audit.LogCrossTenantAccess(r.Context(), h.auditLogger, p.ID, "document", doc.ID, true); err != nil {
		h.internalError(w, r, "failed to record cross-tenant access", err)
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

// RunVerification runs the consistency checks; ?fix=true deletes orphaned
// work items
func (h *Handler) RunVerification(w http.ResponseWriter, r *http.Request) {
	fix := r.URL.Query().Get("fix") == "true"

	report, err := h.verifier.Run(r.Context(), fix)
	if err != nil {
		h.internalError(w, r, "verification run failed", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// decodeValidatedBody reads the body and runs the request data validator
// over its fields. A violation has already been written to the client when
// ok is false.
func (h *Handler) decodeValidatedBody(w http.ResponseWriter, r *http.Request, p *identity.Principal) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}

	fields := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return nil, false
		}
	}

	if !h.validateFields(w, r, p, fields) {
		return nil, false
	}
	return raw, true
}

func (h *Handler) validateFields(w http.ResponseWriter, r *http.Request, p *identity.Principal, fields map[string]any) bool {
	err := h.validator.Validate(r.Context(), p, fields)
	if err == nil {
		return true
	}

	var viol *guard.Violation
	if errors.As(err, &viol) {
		h.denyEntity(w, r, p, stageBodyValidation, "", "",
			"field "+viol.Field+" references data outside caller tenant", viol.Code)
		return false
	}

	h.internalError(w, r, "body validation failed", err)
	return false
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.ErrorContext(r.Context(), msg, logger.Error(err))
	respondError(w, http.StatusInternalServerError, msg)
}

func principalResponse(p *identity.Principal) map[string]any {
	resp := map[string]any{
		"id":     p.ID,
		"email":  p.Email,
		"role":   string(p.Role),
		"status": p.Status,
	}
	if p.FirmID != nil {
		resp["firm_id"] = *p.FirmID
	}
	return resp
}

func kindFromPath(plural string) (project.WorkItemKind, bool) {
	switch plural {
	case "tasks":
		return project.KindTask, true
	case "requirements":
		return project.KindRequirement, true
	case "milestones":
		return project.KindMilestone, true
	default:
		return "", false
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
