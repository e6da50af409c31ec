package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
)

func resetPowFlags() {
	powFlags.seed = ""
	powFlags.difficulty = ""
	powFlags.wasmPath = ""
	powFlags.challenge = ""
	powFlags.benchmark = 0
	powFlags.maxAttempts = 1000
	powFlags.screen = 3000
	powFlags.userAgent = "Mozilla/5.0"
	powFlags.output = "text"
}

func runPow(t *testing.T) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := runPowSolve(cmd, nil)
	return out.String(), err
}

func TestPowSolve_Sentinel(t *testing.T) {
	resetPowFlags()
	defer resetPowFlags()
	powFlags.seed = "0.42"
	powFlags.difficulty = "0fffff"
	powFlags.output = "json"

	out, err := runPow(t)
	if err != nil {
		t.Fatalf("runPowSolve() failed: %v", err)
	}

	var rows []map[string]string
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("invalid output: %v\n%s", err, out)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["token"] == "" {
		t.Error("empty token")
	}
}

func TestPowSolve_Benchmark(t *testing.T) {
	resetPowFlags()
	defer resetPowFlags()
	powFlags.difficulty = "0fffff"
	powFlags.benchmark = 3
	powFlags.output = "csv"

	out, err := runPow(t)
	if err != nil {
		t.Fatalf("runPowSolve() failed: %v", err)
	}
	// header + three runs
	if lines := bytes.Count([]byte(out), []byte("\n")); lines != 4 {
		t.Errorf("expected 4 CSV lines, got %d:\n%s", lines, out)
	}
}

func TestPowSolve_FlagErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
	}{
		{"no difficulty", func() {}},
		{"wasm without challenge", func() { powFlags.wasmPath = "missing.wasm" }},
		{"missing wasm", func() {
			powFlags.wasmPath = t.TempDir() + "/missing.wasm"
			powFlags.challenge = "abc"
		}},
		{"bad output", func() {
			powFlags.difficulty = "0fffff"
			powFlags.output = "yaml"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetPowFlags()
			defer resetPowFlags()
			tt.setup()
			if _, err := runPow(t); err == nil {
				t.Error("expected error")
			}
		})
	}
}
