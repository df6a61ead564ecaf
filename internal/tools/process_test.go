package tools

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/danmuck/corelink/internal/testutil/testlog"
)

func TestResolveExecutableRelativeToDir(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	bin := filepath.Join(dir, "core")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ResolveExecutable("./core", dir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != bin {
		t.Fatalf("unexpected path: got=%s want=%s", got, bin)
	}
	if _, err := ResolveExecutable(dir, ""); err == nil {
		t.Fatalf("expected directory to be rejected")
	}
	if _, err := ResolveExecutable("", ""); err == nil {
		t.Fatalf("expected empty executable to be rejected")
	}
	if _, err := ResolveExecutable("corelink-no-such-binary", ""); err == nil {
		t.Fatalf("expected missing binary to fail lookup")
	}
}

func TestMergeEnvOverridesKeys(t *testing.T) {
	testlog.Start(t)

	got := MergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3", "C": "4"})
	want := []string{"A=1", "B=3", "C=4"}
	if len(got) != len(want) {
		t.Fatalf("unexpected env: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("env[%d]: got=%s want=%s", i, got[i], want[i])
		}
	}
}

func TestExitCodeClassification(t *testing.T) {
	testlog.Start(t)

	if ExitCode(nil) != 0 {
		t.Fatalf("nil error must be exit code 0")
	}
	if ExitCode(&exec.Error{Name: "core", Err: exec.ErrNotFound}) != ExitCodeNotFound {
		t.Fatalf("exec error must map to %d", ExitCodeNotFound)
	}
	if ExitCode(errors.New("other")) != ExitCodeStartFailure {
		t.Fatalf("generic error must map to %d", ExitCodeStartFailure)
	}
	if DescribeExit(nil) != "exited cleanly" {
		t.Fatalf("unexpected clean description")
	}
}
