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
	"bytes"
	"net/http"

	"github.com/firmgate/firmgate/internal/leak"
	"github.com/firmgate/firmgate/internal/observability/metrics"
)

// LeakDetectionMiddleware scans successful JSON responses for foreign
// tenant identifiers. The response is always delivered unmodified; the
// detector only observes. The router wires this middleware outside
// production only.
func LeakDetectionMiddleware(detector *leak.Detector, counters *metrics.IsolationCounters) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &recordingResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			p := GetPrincipal(r.Context())
			if p == nil || rec.status >= 300 {
				return
			}

			findings := detector.Scan(p, rec.body.Bytes())
			counters.RecordLeakFindings(r.Context(), len(findings))
			detector.Report(r.Context(), p, r.Method+" "+r.URL.Path, findings)
		})
	}
}

// recordingResponseWriter tees the body while writing through, so the
// client sees the response even if scanning fails.
type recordingResponseWriter struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *recordingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingResponseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
