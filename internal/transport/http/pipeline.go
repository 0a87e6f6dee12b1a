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
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/firmgate/firmgate/internal/audit"
	"github.com/firmgate/firmgate/internal/authz"
	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/observability/logger"
)

// Pipeline stage names, recorded with every denial so an audit entry
// always names the stage that stopped the request.
const (
	stageTenantIsolation = "tenant.isolation"
	stageSuperadminOnly  = "superadmin.only"
	stageResourceAccess  = "resource.access"
	stageBodyValidation  = "body.validation"
)

// Stable machine-readable denial codes.
const (
	codeMissingTenant     = "missing_tenant"
	codeAccountInactive   = "account_inactive"
	codePermissionDenied  = "permission_denied"
	codeRoleDenied        = "role_denied"
	codeSuperadminOnly    = "superadmin_only"
	codeCrossTenantAccess = "cross_tenant_access"
)

// RequireTenantContext is the first authorization stage. It rejects
// unauthenticated requests, inactive accounts, and the consistency
// violation of a non-superadmin principal without a firm. A principal
// without tenant context is denied, never treated as unscoped.
func (h *Handler) RequireTenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !p.Active() {
			h.deny(w, r, p, stageTenantIsolation, "account is not active", codeAccountInactive)
			return
		}
		if p.MissingTenant() {
			h.deny(w, r, p, stageTenantIsolation, "principal has no firm assigned", codeMissingTenant)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission gates a route on one permission key. Superadmin
// passes implicitly through the resolver.
func (h *Handler) RequirePermission(key string) func(http.Handler) http.Handler {
	stage := "permission:" + key
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if p == nil {
				respondError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !h.resolver.HasPermission(p.Role, key) {
				h.deny(w, r, p, stage, "missing permission "+key, codePermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole gates a route on holding one of the listed roles.
// Superadmin always passes.
func (h *Handler) RequireRole(roles ...authz.Role) func(http.Handler) http.Handler {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	stage := "role:" + strings.Join(names, ",")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if p == nil {
				respondError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !p.IsSuperadmin() {
				allowed := false
				for _, role := range roles {
					if p.Role == role {
						allowed = true
						break
					}
				}
				if !allowed {
					h.deny(w, r, p, stage, "role not permitted", codeRoleDenied)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperadmin gates a route to superadmins.
func (h *Handler) RequireSuperadmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !p.IsSuperadmin() {
			h.deny(w, r, p, stageSuperadminOnly, "superadmin only", codeSuperadminOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireResource checks per-instance access to the resource named by a
// route parameter before the handler runs.
func (h *Handler) RequireResource(resourceType, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if p == nil {
				respondError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			resourceID := chi.URLParam(r, param)
			ok, err := h.checker.CheckAccess(r.Context(), p, resourceType, resourceID)
			if err != nil {
				slog.ErrorContext(r.Context(), "resource access check failed",
					logger.Error(err),
					logger.EntityType(resourceType),
					logger.EntityID(resourceID),
				)
				respondError(w, http.StatusInternalServerError, "access check failed")
				return
			}
			if !ok {
				h.denyEntity(w, r, p, stageResourceAccess, resourceType, resourceID,
					"resource outside caller tenant", codeCrossTenantAccess)
				return
			}
			if p.IsSuperadmin() {
				if err := h.auditSuperadminAccess(r, p, resourceType, resourceID); err != nil {
					h.internalError(w, r, "failed to record cross-tenant access", err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// auditSuperadminAccess records a superadmin acting on a resource outside
// their own firm through an ordinary route. CheckAccess never stops a
// superadmin, so the membership rules are re-evaluated here purely for the
// trail. The entry is load-bearing: when it cannot be written the request
// does not proceed.
func (h *Handler) auditSuperadminAccess(r *http.Request, p *identity.Principal, resourceType, resourceID string) error {
	cross, err := h.checker.CrossTenant(r.Context(), p, resourceType, resourceID)
	if err != nil || !cross {
		return err
	}
	write := r.Method != http.MethodGet
	return audit.LogCrossTenantAccess(r.Context(), h.auditLogger, p.ID, resourceType, resourceID, write)
}

// deny rejects the request with 403 and records the denial. The audit
// write is attempted synchronously; if it fails the request is still
// denied, and the loss is logged.
func (h *Handler) deny(w http.ResponseWriter, r *http.Request, p *identity.Principal, stage, reason, code string) {
	h.denyEntity(w, r, p, stage, "", "", reason, code)
}

func (h *Handler) denyEntity(w http.ResponseWriter, r *http.Request, p *identity.Principal, stage, entityType, entityID, reason, code string) {
	principalID := ""
	if p != nil {
		principalID = p.ID
	}

	// The resource checker and the body validator are the instance- and
	// field-level halves of tenant isolation; their denial entries carry
	// the combined stage name, with the specific check preserved.
	metadata := map[string]any{
		audit.AttrReason: reason,
		audit.AttrMethod: r.Method,
		audit.AttrURL:    r.URL.Path,
		"stage":          stage,
		"code":           code,
	}
	if stage == stageResourceAccess || stage == stageBodyValidation {
		metadata["stage"] = stageTenantIsolation
		metadata["check"] = stage
	}

	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		PrincipalID: principalID,
		ActionType:  audit.ActionAccessDenied,
		EntityType:  entityType,
		EntityID:    entityID,
		Metadata:    metadata,
	}); err != nil {
		slog.ErrorContext(r.Context(), "failed to audit access denial",
			logger.Error(err),
			logger.PrincipalID(principalID),
			logger.Stage(stage),
		)
	}

	slog.WarnContext(r.Context(), "request denied",
		logger.PrincipalID(principalID),
		logger.Stage(stage),
		logger.Reason(reason),
		logger.Method(r.Method),
		logger.Path(r.URL.Path),
	)
	h.counters.RecordDenial(r.Context(), stage)

	respondJSON(w, http.StatusForbidden, map[string]string{
		"error": reason,
		"code":  code,
	})
}
