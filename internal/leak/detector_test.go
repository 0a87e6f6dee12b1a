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

package leak_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmgate/firmgate/internal/audit"
	"github.com/firmgate/firmgate/internal/authz"
	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/leak"
)

// memAudit records entries in memory.
type memAudit struct {
	entries []audit.Entry
}

func (m *memAudit) Log(_ context.Context, e audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func member(firmID string) *identity.Principal {
	return &identity.Principal{ID: "user-1", Role: authz.RoleBasic, FirmID: &firmID}
}

// TestPurpose: Validates that foreign firm identifiers in a response body
// are detected, including inside nested objects and arrays, while the
// caller's own firm id is ignored.
// Scope: Unit Test
// Security: Cross-tenant data leak detection
// Expected: One finding per foreign firm reference with its JSON path.
// Test Case ID: LEK-01
func TestDetector_FindsForeignFirmIDs(t *testing.T) {
	d := leak.NewDetector(&memAudit{})

	body := []byte(`{
		"id": "proj-1",
		"firm_id": "firm-a",
		"items": [
			{"id": "task-1", "firm_id": "firm-b"},
			{"id": "task-2", "assigned_firm_id": "firm-c"}
		]
	}`)

	findings := d.Scan(member("firm-a"), body)
	require.Len(t, findings, 2)

	byFirm := map[string]leak.Finding{}
	for _, f := range findings {
		byFirm[f.FirmID] = f
	}
	assert.Contains(t, byFirm, "firm-b")
	assert.Contains(t, byFirm, "firm-c")
	assert.True(t, strings.HasPrefix(byFirm["firm-b"].Path, "$.items"))
	assert.Equal(t, "assigned_firm_id", byFirm["firm-c"].Key)
}

// TestPurpose: Validates the detector's exemptions: superadmin responses,
// firm-less principals, and non-JSON bodies are never scanned.
// Scope: Unit Test
// Security: Detector applies only where a tenant boundary exists
// Expected: No findings in any exempt case.
// Test Case ID: LEK-02
func TestDetector_Exemptions(t *testing.T) {
	d := leak.NewDetector(&memAudit{})
	leaky := []byte(`{"firm_id": "firm-z"}`)

	root := &identity.Principal{ID: "root", Role: authz.RoleSuperadmin}
	assert.Empty(t, d.Scan(root, leaky), "superadmin responses span tenants legitimately")

	noFirm := &identity.Principal{ID: "lost", Role: authz.RoleBasic}
	assert.Empty(t, d.Scan(noFirm, leaky))

	assert.Empty(t, d.Scan(member("firm-a"), []byte("<html>not json</html>")))
	assert.Empty(t, d.Scan(nil, leaky))
}

// TestPurpose: Validates that reporting findings writes a potential data
// leak audit entry carrying the route and the foreign firm ids.
// Scope: Unit Test
// Security: Leak findings are durable for investigation
// Expected: One audit entry with action_type potential_data_leak.
// Test Case ID: LEK-03
func TestDetector_ReportAudits(t *testing.T) {
	sink := &memAudit{}
	d := leak.NewDetector(sink)
	p := member("firm-a")

	findings := d.Scan(p, []byte(`{"firm_id": "firm-b"}`))
	require.NotEmpty(t, findings)

	d.Report(context.Background(), p, "GET /api/v1/projects", findings)

	require.Len(t, sink.entries, 1)
	e := sink.entries[0]
	assert.Equal(t, audit.ActionPotentialDataLeak, e.ActionType)
	assert.Equal(t, "user-1", e.PrincipalID)
	assert.Equal(t, "GET /api/v1/projects", e.Metadata["route"])

	d.Report(context.Background(), p, "GET /x", nil)
	assert.Len(t, sink.entries, 1, "empty findings produce no entry")
}

// TestPurpose: Validates the recursion depth guard against pathologically
// nested bodies.
// Scope: Unit Test
// Security: Detector cannot be used to stall responses
// Expected: Deeply nested foreign ids beyond the guard are skipped without
// error; shallow ones are still found.
// Test Case ID: LEK-04
func TestDetector_DepthGuard(t *testing.T) {
	d := leak.NewDetector(&memAudit{})

	deep := strings.Repeat(`{"nest":`, 100) + `{"firm_id":"firm-b"}` + strings.Repeat(`}`, 100)
	assert.Empty(t, d.Scan(member("firm-a"), []byte(deep)))

	shallow := `{"nest":{"firm_id":"firm-b"}}`
	assert.Len(t, d.Scan(member("firm-a"), []byte(shallow)), 1)
}
