package main

import (
	"strings"
	"testing"

	"breachvip/internal/testsupport"
)

func TestLogsFiltersByRun(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, env.cfg.Paths.LogDir, "breachvip.log",
		"INFO batch: breach batch started run_id=aaa\nINFO batch: breach batch started run_id=bbb\nWARN batch: breach lookup skipped run_id=aaa\n")

	out, _, err := runCLI(t, []string{"logs", "--run", "aaa"}, env.configPath, "")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "breach lookup skipped") {
		t.Fatalf("unexpected output %q", out)
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "1"}, env.configPath, "")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "breach lookup skipped")
	if strings.Contains(out, "bbb") {
		t.Fatalf("expected only the last line, got %q", out)
	}
}
