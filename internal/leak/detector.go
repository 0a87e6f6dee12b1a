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

// Package leak inspects outgoing response bodies for foreign tenant
// identifiers. It is a development-time tripwire, not an enforcement
// layer: findings are logged and audited, the response is never blocked
// or altered.
package leak

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/firmgate/firmgate/internal/audit"
	"github.com/firmgate/firmgate/internal/identity"
)

// maxDepth bounds the JSON walk so pathological nesting cannot stall a
// response.
const maxDepth = 64

// firmKeys are the response keys treated as firm identifiers.
var firmKeys = map[string]bool{
	"firm_id":          true,
	"owner_firm_id":    true,
	"assigned_firm_id": true,
	"caller_firm_id":   false, // diagnostic echo of the caller, never foreign
}

// Finding records one foreign firm identifier discovered in a response.
type Finding struct {
	Key    string `json:"key"`
	FirmID string `json:"firm_id"`
	Path   string `json:"path"`
}

// Detector scans JSON response bodies for firm identifiers that differ
// from the calling principal's firm.
type Detector struct {
	auditLogger audit.Logger
}

// NewDetector creates a leak detector reporting through the audit logger.
func NewDetector(auditLogger audit.Logger) *Detector {
	return &Detector{auditLogger: auditLogger}
}

// Scan walks the JSON body and returns every firm reference that does not
// belong to the caller's tenant. Superadmin responses legitimately span
// tenants and are never scanned. Bodies that are not valid JSON produce no
// findings.
func (d *Detector) Scan(p *identity.Principal, body []byte) []Finding {
	if p == nil || p.IsSuperadmin() || p.FirmID == nil {
		return nil
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}

	var findings []Finding
	walk(doc, "$", *p.FirmID, 0, &findings)
	return findings
}

// Report logs and audits the findings. Audit failure is tolerated here:
// the detector must never turn a suspected leak into a request failure.
func (d *Detector) Report(ctx context.Context, p *identity.Principal, route string, findings []Finding) {
	if len(findings) == 0 {
		return
	}

	foreign := make([]string, 0, len(findings))
	for _, f := range findings {
		foreign = append(foreign, f.FirmID)
	}

	slog.WarnContext(ctx, "potential cross-tenant data leak in response",
		"route", route,
		"principal_id", p.ID,
		"caller_firm_id", *p.FirmID,
		"foreign_firm_ids", foreign,
		"findings", len(findings),
	)

	if err := d.auditLogger.Log(ctx, audit.Entry{
		PrincipalID: p.ID,
		ActionType:  audit.ActionPotentialDataLeak,
		EntityType:  "response",
		Metadata: map[string]any{
			"route":              route,
			audit.AttrCallerFirm: *p.FirmID,
			"foreign_firm_ids":   foreign,
		},
	}); err != nil {
		slog.WarnContext(ctx, "failed to audit potential data leak", "error", err)
	}
}

func walk(node any, path, callerFirm string, depth int, findings *[]Finding) {
	if depth > maxDepth {
		return
	}

	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			if firmKeys[key] {
				if s, ok := child.(string); ok && s != "" && s != callerFirm {
					*findings = append(*findings, Finding{Key: key, FirmID: s, Path: path + "." + key})
				}
				continue
			}
			walk(child, path+"."+key, callerFirm, depth+1, findings)
		}
	case []any:
		for i, child := range v {
			walk(child, fmt.Sprintf("%s[%d]", path, i), callerFirm, depth+1, findings)
		}
	}
}
