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

	"github.com/firmgate/firmgate/internal/identity"
)

type contextKey string

const principalKey contextKey = "principal"

// Tenant Context Principles:
// 1. The principal (and through it the firm) travels in the request
//    context, never in a process-wide slot.
// 2. Tenant context comes exclusively from the verified token; a firm
//    named in a header, query or body is data, never identity.
// 3. An absent principal means unauthenticated, not "unscoped".

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p *identity.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the authenticated principal from context. Nil
// means the request is unauthenticated.
func GetPrincipal(ctx context.Context) *identity.Principal {
	if p, ok := ctx.Value(principalKey).(*identity.Principal); ok {
		return p
	}
	return nil
}
