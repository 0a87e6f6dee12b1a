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

// Command verify runs the tenant isolation consistency checks against the
// live database and prints a report. It exits nonzero when issues remain,
// so it can gate deploys from CI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/firmgate/firmgate/internal/audit"
	"github.com/firmgate/firmgate/internal/config"
	"github.com/firmgate/firmgate/internal/observability/logger"
	"github.com/firmgate/firmgate/internal/scope"
	"github.com/firmgate/firmgate/internal/store/postgres"
	"github.com/firmgate/firmgate/internal/verify"
)

func main() {
	fix := flag.Bool("fix", false, "delete work items whose project no longer exists")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	auditLogger := audit.NewRecorder(postgres.NewAuditStore(db))
	engine := scope.NewEngine(scope.DefaultRules(), auditLogger)
	runner := verify.NewRunner(engine, postgres.NewVerifyStore(db), auditLogger, scope.RequiredEntityTypes())

	report, err := runner.Run(ctx, *fix)
	if err != nil {
		fmt.Printf("Verification failed: %v\n", err)
		os.Exit(1)
	}

	if report.Clean() {
		fmt.Println("No issues found.")
		return
	}

	for _, issue := range report.Issues {
		status := " "
		if issue.Fixed {
			status = "fixed"
		}
		fmt.Printf("[%s] %s %s: %s %s\n", issue.Kind, issue.EntityType, issue.EntityID, issue.Detail, status)
	}
	fmt.Printf("%d issue(s), %d fixed.\n", len(report.Issues), report.FixedCount)

	// Fixed issues no longer exist; anything else needs an operator.
	if len(report.Issues) > report.FixedCount {
		os.Exit(2)
	}
}
