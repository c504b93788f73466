// Package main - test-runner
// Executable to run the colony soak scenarios outside `go test`.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lifesupport/colony/server/internal/platform/logger"
	"github.com/lifesupport/colony/server/test"
)

func main() {
	only := flag.String("run", "", "Run only scenarios whose name contains this text")
	logLevel := flag.String("log-level", "warn", "Engine log level")
	timeout := flag.Duration("timeout", time.Minute, "Overall timeout")
	flag.Parse()

	fmt.Println("🛰️  COLONY SOAK TEST SUITE")
	fmt.Println("================================================")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	scenarios := test.Scenarios()
	if *only != "" {
		filtered := scenarios[:0]
		for _, sc := range scenarios {
			if strings.Contains(strings.ToLower(sc.Name), strings.ToLower(*only)) {
				filtered = append(filtered, sc)
			}
		}
		scenarios = filtered
	}

	suite := test.NewSuite(os.Stdout, logger.New(*logLevel, "text", os.Stderr))
	results := suite.RunAll(ctx, scenarios)

	// Summary
	passed := 0
	failed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		} else {
			failed++
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("📊 SUMMARY")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("   ✅ Passed: %d\n", passed)
	fmt.Printf("   ❌ Failed: %d\n", failed)

	if failed > 0 {
		for _, r := range results {
			if !r.Passed {
				fmt.Printf("   - %s: %s\n", r.ScenarioName, r.Reason)
			}
		}
		os.Exit(1)
	}
	fmt.Println("\n✅ Colony engine is ready for deployment")
}
