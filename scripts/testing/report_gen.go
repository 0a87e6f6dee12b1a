// Command report_gen merges the structured test annotations
// (TestPurpose / Scope / Security / Expected / Test Case ID) with the
// output of `go test -json` into JSON, Markdown and optional HTML
// reports grouped by subsystem.
//
// Usage:
//
//	go test -json ./... > /tmp/tests.json
//	go run scripts/testing/report_gen.go -input /tmp/tests.json \
//	    -out-json reports/tests.json -out-md reports/tests.md
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const modulePath = "github.com/firmgate/firmgate/"

// Annotation holds the metadata parsed from a test's doc comment.
type Annotation struct {
	Name       string `json:"name"`
	Purpose    string `json:"purpose,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Security   string `json:"security,omitempty"`
	Expected   string `json:"expected,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
	Package    string `json:"package"`
	Category   string `json:"category"`
	Type       string `json:"type"` // UT, SYSTEM
}

// testEvent is one line of `go test -json` output.
type testEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Elapsed float64 `json:"Elapsed"`
	Output  string  `json:"Output"`
}

// Result is the merged outcome for one test.
type Result struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Elapsed     float64    `json:"elapsed_seconds"`
	Package     string     `json:"package"`
	Failure     string     `json:"failure_reason,omitempty"`
	Annotations Annotation `json:"annotations"`
}

// Summary is the report root.
type Summary struct {
	GeneratedAt time.Time `json:"generated_at"`
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Results     []Result  `json:"results"`
}

// categoryOrder fixes the section order in Markdown and HTML output.
var categoryOrder = []string{
	"Scope Engine", "AuthZ", "Identity", "Audit", "Guard",
	"Leak Detector", "Verification", "API", "SYSTEM Tests", "Other",
}

func main() {
	inputPath := flag.String("input", "", "path to go test -json output")
	outJSON := flag.String("out-json", "", "path for the JSON report")
	outMD := flag.String("out-md", "", "path for the Markdown report")
	outHTML := flag.String("out-html", "", "path for the HTML report (optional)")
	title := flag.String("title", "Test Report", "report title")
	onlyType := flag.String("filter-type", "", "keep only this test type (UT, SYSTEM)")
	skipType := flag.String("exclude-type", "", "drop this test type")
	flag.Parse()

	if *inputPath == "" || *outJSON == "" || *outMD == "" {
		fmt.Println("usage: report_gen -input <json> -out-json <json> -out-md <md>")
		os.Exit(1)
	}

	annotations := scanAnnotations()
	results := mergeResults(*inputPath, annotations)

	if *onlyType != "" {
		results = filterByType(results, *onlyType, true)
	}
	if *skipType != "" {
		results = filterByType(results, *skipType, false)
	}

	summary := summarize(results)
	writeJSON(summary, *outJSON)
	writeMarkdown(summary, *outMD, *title)
	if *outHTML != "" {
		writeHTML(summary, *outHTML, *title)
	}

	if summary.Failed > 0 {
		fmt.Printf("report_gen: %d tests failed\n", summary.Failed)
		os.Exit(1)
	}
}

func filterByType(results []Result, typ string, keep bool) []Result {
	out := results[:0]
	for _, r := range results {
		if strings.EqualFold(r.Annotations.Type, typ) == keep {
			out = append(out, r)
		}
	}
	return out
}

// scanAnnotations walks the repository for _test.go files and parses the
// structured doc comments on Test functions.
func scanAnnotations() map[string]Annotation {
	found := make(map[string]Annotation)
	fset := token.NewFileSet()

	filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, "_test.go") {
			return nil
		}
		if strings.Contains(path, "vendor/") || strings.Contains(path, ".git/") {
			return nil
		}

		node, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return nil
		}

		pkg := packagePath(path)
		for _, decl := range node.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || !strings.HasPrefix(fn.Name.Name, "Test") || fn.Name.Name == "TestMain" {
				continue
			}

			a := Annotation{
				Name:     fn.Name.Name,
				Package:  pkg,
				Type:     testType(pkg),
				Category: category(pkg),
			}
			if fn.Doc != nil {
				for _, line := range fn.Doc.List {
					text := strings.TrimSpace(strings.TrimPrefix(line.Text, "//"))
					for field, dst := range map[string]*string{
						"TestPurpose:":  &a.Purpose,
						"Scope:":        &a.Scope,
						"Security:":     &a.Security,
						"Expected:":     &a.Expected,
						"Test Case ID:": &a.TestCaseID,
					} {
						if strings.HasPrefix(text, field) {
							*dst = strings.TrimSpace(strings.TrimPrefix(text, field))
						}
					}
				}
			}
			found[pkg+"."+fn.Name.Name] = a
		}
		return nil
	})

	return found
}

func packagePath(filePath string) string {
	dir := strings.TrimPrefix(filepath.Dir(filePath), "./")
	if dir == "." {
		return "main"
	}
	return modulePath + dir
}

func testType(pkg string) string {
	rel := strings.TrimPrefix(pkg, modulePath)
	if parts := strings.Split(rel, "/"); len(parts) > 1 && parts[0] == "tests" {
		return strings.ToUpper(parts[1])
	}
	return "UT"
}

func category(pkg string) string {
	switch {
	case strings.Contains(pkg, "internal/scope"):
		return "Scope Engine"
	case strings.Contains(pkg, "internal/authz"):
		return "AuthZ"
	case strings.Contains(pkg, "internal/identity"):
		return "Identity"
	case strings.Contains(pkg, "internal/audit"):
		return "Audit"
	case strings.Contains(pkg, "internal/guard"):
		return "Guard"
	case strings.Contains(pkg, "internal/leak"):
		return "Leak Detector"
	case strings.Contains(pkg, "internal/verify"):
		return "Verification"
	case strings.Contains(pkg, "transport/http"):
		return "API"
	}
	if t := testType(pkg); t != "UT" {
		return t + " Tests"
	}
	return "Other"
}

// mergeResults folds the go test -json stream into the annotation set.
// Annotated tests that never ran are reported as "not run".
func mergeResults(path string, annotations map[string]Annotation) []Result {
	states := make(map[string]*Result, len(annotations))
	for key, a := range annotations {
		states[key] = &Result{Name: a.Name, Package: a.Package, Status: "not run", Annotations: a}
	}

	file, err := os.Open(path)
	if err != nil {
		fmt.Printf("report_gen: cannot open %s: %v\n", path, err)
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ev testEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil || ev.Test == "" {
			continue
		}

		key := ev.Package + "." + ev.Test
		res, ok := states[key]
		if !ok {
			res = &Result{Name: ev.Test, Package: ev.Package, Annotations: annotationFor(ev, annotations)}
			states[key] = res
		}

		switch ev.Action {
		case "pass", "fail":
			res.Status = ev.Action
			res.Elapsed = ev.Elapsed
		case "skip":
			res.Status = "skip"
		case "output":
			if res.Status == "fail" || res.Status == "" {
				res.Failure += ev.Output
			}
		}
	}

	out := make([]Result, 0, len(states))
	for _, r := range states {
		out = append(out, *r)
	}
	return out
}

// annotationFor resolves subtests to their parent's annotation.
func annotationFor(ev testEvent, annotations map[string]Annotation) Annotation {
	if parent, _, ok := strings.Cut(ev.Test, "/"); ok {
		if a, found := annotations[ev.Package+"."+parent]; found {
			a.Name = ev.Test
			a.Purpose += " (subtest " + ev.Test + ")"
			return a
		}
	}
	return Annotation{
		Name:     ev.Test,
		Package:  ev.Package,
		Type:     testType(ev.Package),
		Category: "Other",
	}
}

func summarize(results []Result) Summary {
	s := Summary{GeneratedAt: time.Now(), Results: results}
	for _, r := range results {
		s.Total++
		switch r.Status {
		case "pass":
			s.Passed++
		case "fail":
			s.Failed++
		case "skip":
			s.Skipped++
		}
	}
	return s
}

func byCategory(results []Result) map[string][]Result {
	grouped := make(map[string][]Result)
	for _, r := range results {
		cat := r.Annotations.Category
		if cat == "" {
			cat = "Other"
		}
		grouped[cat] = append(grouped[cat], r)
	}
	return grouped
}

func statusIcon(status string) string {
	switch status {
	case "fail":
		return "❌"
	case "skip":
		return "⏭️"
	case "not run":
		return "⚪"
	}
	return "✅"
}

func writeJSON(s Summary, path string) {
	data, _ := json.MarshalIndent(s, "", "  ")
	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, data, 0644)
}

func writeMarkdown(s Summary, path, title string) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# FirmGate %s\n\n", title))
	sb.WriteString(fmt.Sprintf("**Generated:** %s  \n", s.GeneratedAt.Format("2006-01-02 15:04:05 MST")))

	status := "✅ PASSED"
	if s.Failed > 0 {
		status = "❌ FAILED"
	}
	sb.WriteString(fmt.Sprintf("**Status:** %s\n\n", status))

	rate := 0.0
	if s.Total > 0 {
		rate = float64(s.Passed) / float64(s.Total) * 100
	}
	sb.WriteString("| Total | Passed | Failed | Skipped | Pass Rate |\n")
	sb.WriteString("|-------|--------|--------|---------|-----------|\n")
	sb.WriteString(fmt.Sprintf("| %d | %d | %d | %d | %.1f%% |\n\n", s.Total, s.Passed, s.Failed, s.Skipped, rate))

	grouped := byCategory(s.Results)
	for _, cat := range categoryOrder {
		tests := grouped[cat]
		if len(tests) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("## %s\n\n", cat))
		sb.WriteString("| ID | Test | Status | Purpose | Security |\n")
		sb.WriteString("|----|------|--------|---------|----------|\n")
		for _, t := range tests {
			security := t.Annotations.Security
			if security != "" {
				security = "**" + security + "**"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				t.Annotations.TestCaseID, t.Name, statusIcon(t.Status), t.Annotations.Purpose, security))
		}
		sb.WriteString("\n")
	}

	if s.Failed > 0 {
		sb.WriteString("## Failures\n\n")
		for _, t := range s.Results {
			if t.Status == "fail" {
				sb.WriteString(fmt.Sprintf("### %s (%s)\n\n```\n%s\n```\n\n", t.Name, t.Package, t.Failure))
			}
		}
	}

	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, []byte(sb.String()), 0644)
}

func writeHTML(s Summary, path, title string) {
	status := `<span class="badge pass">PASSED</span>`
	if s.Failed > 0 {
		status = `<span class="badge fail">FAILED</span>`
	}
	rate := 0.0
	if s.Total > 0 {
		rate = float64(s.Passed) / float64(s.Total) * 100
	}

	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>FirmGate - ` + title + `</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 0; padding: 2rem; background: #f8fafc; color: #1e293b; }
.wrap { max-width: 1000px; margin: 0 auto; background: white; padding: 2rem; border-radius: 8px; }
h1 { margin-top: 0; border-bottom: 2px solid #e2e8f0; padding-bottom: .5rem; }
.badge { padding: .25rem .75rem; border-radius: 9999px; font-weight: 600; font-size: .875rem; }
.badge.pass { background: #dcfce7; color: #166534; }
.badge.fail { background: #fee2e2; color: #991b1b; }
table { width: 100%; border-collapse: collapse; margin: 1rem 0 2rem; }
th { text-align: left; background: #f1f5f9; padding: .6rem; border-bottom: 2px solid #e2e8f0; }
td { padding: .6rem; border-bottom: 1px solid #e2e8f0; font-size: .875rem; vertical-align: top; }
.cat { background: #f8fafc; padding: .5rem 1rem; margin-top: 1.5rem; border-left: 4px solid #2563eb; font-weight: 600; }
pre { background: #0f172a; color: #f8fafc; padding: 1rem; border-radius: 4px; overflow-x: auto; font-size: .75rem; }
</style>
</head>
<body>
<div class="wrap">
<h1>` + title + `</h1>
<p>Generated ` + s.GeneratedAt.Format("2006-01-02 15:04:05 MST") + ` | ` + status + `</p>
<p>Total ` + fmt.Sprint(s.Total) + ` | Passed ` + fmt.Sprint(s.Passed) +
		` | Failed ` + fmt.Sprint(s.Failed) + ` | Skipped ` + fmt.Sprint(s.Skipped) +
		` | Pass rate ` + fmt.Sprintf("%.1f%%", rate) + `</p>`)

	grouped := byCategory(s.Results)
	for _, cat := range categoryOrder {
		tests := grouped[cat]
		if len(tests) == 0 {
			continue
		}
		sb.WriteString(`<div class="cat">` + cat + `</div>
<table><thead><tr><th>ID</th><th>Test</th><th>Status</th><th>Purpose</th><th>Security</th></tr></thead><tbody>`)
		for _, t := range tests {
			sb.WriteString(`<tr><td>` + t.Annotations.TestCaseID + `</td><td><code>` + t.Name +
				`</code></td><td>` + statusIcon(t.Status) + `</td><td>` + t.Annotations.Purpose +
				`</td><td>` + t.Annotations.Security + `</td></tr>`)
		}
		sb.WriteString(`</tbody></table>`)
	}

	if s.Failed > 0 {
		sb.WriteString(`<h2>Failures</h2>`)
		for _, t := range s.Results {
			if t.Status == "fail" {
				sb.WriteString(`<h3>` + t.Name + `</h3><pre>` + t.Failure + `</pre>`)
			}
		}
	}

	sb.WriteString(`
</div>
</body>
</html>`)

	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, []byte(sb.String()), 0644)
}
