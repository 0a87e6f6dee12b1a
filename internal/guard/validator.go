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

package guard

import (
	"context"
	"fmt"

	"github.com/firmgate/firmgate/internal/identity"
)

// Body fields the validator inspects.
const (
	FieldProjectID      = "project_id"
	FieldFirmID         = "firm_id"
	FieldAssignedUserID = "assigned_user_id"
	FieldAssignedFirmID = "assigned_firm_id"
)

// Stable machine-readable denial codes for body field violations.
const (
	CodeCrossTenantProject = "cross_tenant_project"
	CodeCrossTenantFirm    = "cross_tenant_firm"
	CodeCrossTenantUser    = "cross_tenant_user"
	CodeFirmNotOnProject   = "firm_not_on_project"
)

// Violation reports the first body field that referenced data outside the
// caller's tenant scope.
type Violation struct {
	Field string `json:"field"`
	Code  string `json:"code"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("field %s rejected: %s", v.Field, v.Code)
}

// Validator checks foreign-key shaped request body fields before the
// handler touches them. It never mutates the body; rejection means the
// whole request is rejected.
type Validator struct {
	checker *Checker
	reader  ResourceReader
}

// NewValidator creates a request data validator sharing the checker's
// resource lookups.
func NewValidator(checker *Checker, reader ResourceReader) *Validator {
	return &Validator{checker: checker, reader: reader}
}

// Validate inspects the decoded request body and returns a *Violation for
// the first field referencing data the caller may not bind to. Fields are
// checked in a fixed order and checking stops at the first violation.
// Fields that are absent, empty, or not strings are skipped; unknown
// fields are never inspected.
func (v *Validator) Validate(ctx context.Context, p *identity.Principal, body map[string]any) error {
	if p.IsSuperadmin() {
		return nil
	}

	projectID, _ := stringField(body, FieldProjectID)

	if projectID != "" {
		ok, err := v.checker.CheckAccess(ctx, p, "project", projectID)
		if err != nil {
			return err
		}
		if !ok {
			return &Violation{Field: FieldProjectID, Code: CodeCrossTenantProject}
		}
	}

	if firmID, present := stringField(body, FieldFirmID); present {
		ok, err := v.checker.CheckAccess(ctx, p, "firm", firmID)
		if err != nil {
			return err
		}
		if !ok {
			return &Violation{Field: FieldFirmID, Code: CodeCrossTenantFirm}
		}
	}

	if userID, present := stringField(body, FieldAssignedUserID); present {
		if err := v.checkAssignedUser(ctx, p, userID, projectID); err != nil {
			return err
		}
	}

	if firmID, present := stringField(body, FieldAssignedFirmID); present {
		if err := v.checkAssignedFirm(ctx, p, firmID, projectID); err != nil {
			return err
		}
	}

	return nil
}

// checkAssignedUser allows same-firm targets, and cross-firm targets whose
// firm shares the project named in the same body. Cross-firm assignment
// without a shared project is a tenant reference and is rejected.
func (v *Validator) checkAssignedUser(ctx context.Context, p *identity.Principal, userID, projectID string) error {
	ok, err := v.checker.CheckAccess(ctx, p, "user", userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if projectID != "" {
		targetFirm, found, err := v.reader.PrincipalFirm(ctx, userID)
		if err != nil {
			return err
		}
		if found && targetFirm != nil {
			onProject, err := v.reader.ProjectHasFirm(ctx, projectID, *targetFirm)
			if err != nil {
				return err
			}
			if onProject {
				return nil
			}
		}
	}

	return &Violation{Field: FieldAssignedUserID, Code: CodeCrossTenantUser}
}

// checkAssignedFirm requires the firm to be associated with the project
// named in the same body. Without a project in the body there is nothing
// to bind the firm to, so any existing firm may be named; the handler's
// own resource checks govern what that means.
func (v *Validator) checkAssignedFirm(ctx context.Context, p *identity.Principal, firmID, projectID string) error {
	if projectID == "" {
		return nil
	}
	onProject, err := v.reader.ProjectHasFirm(ctx, projectID, firmID)
	if err != nil {
		return err
	}
	if !onProject {
		return &Violation{Field: FieldAssignedFirmID, Code: CodeFirmNotOnProject}
	}
	return nil
}

func stringField(body map[string]any, key string) (string, bool) {
	raw, ok := body[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
