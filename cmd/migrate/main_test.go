package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func testPostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("ORDERING_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("ORDERING_POSTGRES_TEST_DSN is not set")
	}
	return dsn
}

func TestRun_StatusUpDown(t *testing.T) {
	dsn := testPostgresDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, args := range [][]string{
		{"-direction=status", "-dsn=" + dsn},
		{"-direction=up", "-dsn=" + dsn},
		{"-direction=down", "-steps=1", "-dsn=" + dsn},
		{"-direction=up", "-dsn=" + dsn},
	} {
		var out bytes.Buffer
		if err := run(ctx, args, &out); err != nil {
			t.Fatalf("run(%v) failed: %v", args, err)
		}
		if !strings.Contains(out.String(), "ok: version=") {
			t.Fatalf("unexpected output for %v: %q", args, out.String())
		}
	}
}

func TestRun_MissingDSN(t *testing.T) {
	t.Setenv(envPostgresDSN, "")

	err := run(context.Background(), []string{"-direction=status"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), envPostgresDSN) {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
}

func TestRun_UnsupportedDirection(t *testing.T) {
	err := run(context.Background(), []string{"-direction=sideways", "-dsn=postgres://x"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unsupported direction") {
		t.Fatalf("expected unsupported direction error, got %v", err)
	}
}

func TestRun_BadFlag(t *testing.T) {
	if err := run(context.Background(), []string{"-unknown"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected flag parse error")
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
