package main

import (
	"bytes"
	"strings"
	"testing"
)

// run executes the CLI with args and returns the exit code and both streams.
func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	code := execute(args)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "version")
	if code != exitSuccess {
		t.Fatalf("exit code = %d, want %d", code, exitSuccess)
	}
	if !strings.Contains(out, "taskexpiry version dev") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestValidate_Valid(t *testing.T) {
	t.Setenv("STORE", "memory")

	code, out, errOut := run(t, "validate")
	if code != exitSuccess {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}
	if !strings.Contains(out, "configuration valid") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestValidate_InvalidConfigExitCode(t *testing.T) {
	t.Setenv("STORE", "postgres")
	t.Setenv("DATABASE_URL", "")

	code, _, errOut := run(t, "validate")
	if code != exitInvalidConfig {
		t.Fatalf("exit code = %d, want %d", code, exitInvalidConfig)
	}
	if !strings.Contains(errOut, "DATABASE_URL") {
		t.Errorf("expected DATABASE_URL in error, got %q", errOut)
	}
}

func TestConfig_MasksSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://app:hunter2@db:5432/tasks")
	t.Setenv("NOTIFY_WEBHOOK_SECRET", "topsecret")

	code, out, _ := run(t, "config")
	if code != exitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if strings.Contains(out, "hunter2") || strings.Contains(out, "topsecret") {
		t.Errorf("secrets leaked in output: %s", out)
	}
	if !strings.Contains(out, `"store"`) {
		t.Errorf("expected JSON config, got %s", out)
	}
}

func TestRehydrate_MemoryStoreIsEmpty(t *testing.T) {
	t.Setenv("STORE", "memory")

	code, out, errOut := run(t, "rehydrate")
	if code != exitSuccess {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}
	if !strings.Contains(out, "DUE") || !strings.Contains(out, "0 pending task(s)") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	t.Setenv("STORE", "memory")

	code, _, errOut := run(t, "migrate")
	if code != exitInvalidConfig {
		t.Fatalf("exit code = %d, want %d", code, exitInvalidConfig)
	}
	if !strings.Contains(errOut, "STORE=postgres") {
		t.Errorf("unexpected error: %q", errOut)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, _ := run(t, "frobnicate")
	if code != exitRuntimeError {
		t.Fatalf("exit code = %d, want %d", code, exitRuntimeError)
	}
}
