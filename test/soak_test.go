package test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lifesupport/colony/server/internal/platform/logger"
)

func TestSoakScenarios(t *testing.T) {
	if testing.Short() {
		t.Skip("soak scenarios run the real scheduler")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, sc := range Scenarios() {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			res := NewSuite(nil, nil).Run(ctx, sc)
			if !res.Passed {
				t.Errorf("Expected %q, got failure: %s", sc.Expected, res.Reason)
			}
		})
	}
}

func TestSuiteRecordsFailures(t *testing.T) {
	var out bytes.Buffer
	s := NewSuite(&out, nil)
	results := s.RunAll(context.Background(), []Scenario{
		{Name: "ok", Run: func(context.Context, *logger.Logger) (string, error) { return "fine", nil }},
		{Name: "broken", Run: func(context.Context, *logger.Logger) (string, error) { return "", errors.New("boom") }},
	})

	if len(results) != 2 || len(s.Results()) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if !results[0].Passed || results[0].Actual != "fine" {
		t.Errorf("Expected first scenario to pass, got %+v", results[0])
	}
	if results[1].Passed || results[1].Reason != "boom" {
		t.Errorf("Expected second scenario to fail with boom, got %+v", results[1])
	}
	if !strings.Contains(out.String(), "FAILED") || !strings.Contains(out.String(), "PASSED") {
		t.Errorf("Unexpected output %q", out.String())
	}
}
