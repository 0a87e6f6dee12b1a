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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}

	// Meter provider and exporters come from the global provider
	meter := otel.Meter(serviceName)

	return &Meter{
		meter: meter,
	}, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// IsolationCounters bundles the counters the authorization pipeline and
// the leak detector feed.
type IsolationCounters struct {
	AccessDenials  metric.Int64Counter
	ScopeBypasses  metric.Int64Counter
	LeakFindings   metric.Int64Counter
	OverrideGrants metric.Int64Counter
}

// NewIsolationCounters registers the tenant isolation counters.
func NewIsolationCounters(m *Meter) (*IsolationCounters, error) {
	denials, err := m.CreateCounter("authz.access_denials", "Requests denied by the authorization pipeline")
	if err != nil {
		return nil, err
	}
	bypasses, err := m.CreateCounter("scope.bypass_grants", "Unscoped data access capabilities granted")
	if err != nil {
		return nil, err
	}
	leaks, err := m.CreateCounter("leak.findings", "Foreign tenant identifiers found in responses")
	if err != nil {
		return nil, err
	}
	overrides, err := m.CreateCounter("authz.permission_overrides", "Superadmin actions outside the regular permission path")
	if err != nil {
		return nil, err
	}
	return &IsolationCounters{
		AccessDenials:  denials,
		ScopeBypasses:  bypasses,
		LeakFindings:   leaks,
		OverrideGrants: overrides,
	}, nil
}

// The record helpers are nil-safe so call sites need no metrics wiring in
// tests or in deployments without a meter provider.

// RecordDenial counts a request denied by the given pipeline stage.
func (c *IsolationCounters) RecordDenial(ctx context.Context, stage string) {
	if c == nil {
		return
	}
	c.AccessDenials.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordBypass counts an unscoped access capability grant.
func (c *IsolationCounters) RecordBypass(ctx context.Context, entityType string) {
	if c == nil {
		return
	}
	c.ScopeBypasses.Add(ctx, 1, metric.WithAttributes(attribute.String("entity_type", entityType)))
}

// RecordLeakFindings counts foreign identifiers found in one response.
func (c *IsolationCounters) RecordLeakFindings(ctx context.Context, n int) {
	if c == nil || n == 0 {
		return
	}
	c.LeakFindings.Add(ctx, int64(n))
}

// RecordOverride counts a superadmin action outside the regular grant path.
func (c *IsolationCounters) RecordOverride(ctx context.Context) {
	if c == nil {
		return
	}
	c.OverrideGrants.Add(ctx, 1)
}
