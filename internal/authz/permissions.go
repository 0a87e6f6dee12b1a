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

package authz

// -----------------------------------------------------------------------------
// Permission Key Constants
// Dotted keys: domain.action[.scope]. The set is closed; Resolver.Validate
// rejects any role mapping that references a key not listed here.
// -----------------------------------------------------------------------------

const (
	PermUsersView       = "users.view.own_firm"
	PermUsersEdit       = "users.edit.own_firm"
	PermRolesAssign     = "roles.assign"
	PermFirmsView       = "firms.view"
	PermFirmsManage     = "firms.manage"
	PermProjectsView    = "projects.view"
	PermProjectsEdit    = "projects.edit"
	PermProjectsAssign  = "projects.assign_firm"
	PermWorkItemsView   = "workitems.view"
	PermWorkItemsEdit   = "workitems.edit"
	PermDocumentsView   = "documents.view"
	PermDocumentsEdit   = "documents.edit"
	PermAuditView       = "audit.view"
	PermVerificationRun = "verification.run"
)

// allPermissionKeys is the closed enumeration used for startup validation.
var allPermissionKeys = []string{
	PermUsersView,
	PermUsersEdit,
	PermRolesAssign,
	PermFirmsView,
	PermFirmsManage,
	PermProjectsView,
	PermProjectsEdit,
	PermProjectsAssign,
	PermWorkItemsView,
	PermWorkItemsEdit,
	PermDocumentsView,
	PermDocumentsEdit,
	PermAuditView,
	PermVerificationRun,
}

// -----------------------------------------------------------------------------
// Role Permission Mappings
// Each role's set is listed explicitly, not derived by inheritance, so a
// change to one role can never silently widen another.
// -----------------------------------------------------------------------------

// FirmAdminPermissions defines permissions for the firm_admin role.
var FirmAdminPermissions = []string{
	PermUsersView,
	PermUsersEdit,
	PermRolesAssign,
	PermFirmsView,
	PermFirmsManage,
	PermProjectsView,
	PermProjectsEdit,
	PermProjectsAssign,
	PermWorkItemsView,
	PermWorkItemsEdit,
	PermDocumentsView,
	PermDocumentsEdit,
	PermAuditView,
}

// ProjectManagerPermissions defines permissions for the project_manager role.
var ProjectManagerPermissions = []string{
	PermUsersView,
	PermFirmsView,
	PermProjectsView,
	PermProjectsEdit,
	PermProjectsAssign,
	PermWorkItemsView,
	PermWorkItemsEdit,
	PermDocumentsView,
	PermDocumentsEdit,
}

// BasicPermissions defines permissions for the basic role.
var BasicPermissions = []string{
	PermFirmsView,
	PermProjectsView,
	PermWorkItemsView,
	PermDocumentsView,
}
