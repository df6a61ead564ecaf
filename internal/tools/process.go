package tools

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Exit codes reported when the child never ran.
const (
	ExitCodeStartFailure int32 = 1
	ExitCodeNotFound     int32 = 127
)

// ResolveExecutable turns a configured executable into an absolute path.
// Bare names are looked up on PATH; relative paths are resolved against dir.
func ResolveExecutable(name, dir string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("tools: executable is required")
	}
	if !strings.ContainsRune(name, filepath.Separator) {
		path, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("tools: resolve %q: %w", name, err)
		}
		return path, nil
	}
	if !filepath.IsAbs(name) && dir != "" {
		name = filepath.Join(dir, name)
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", fmt.Errorf("tools: resolve %q: %w", name, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("tools: resolve %q: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("tools: %q is a directory", abs)
	}
	return abs, nil
}

// MergeEnv returns the parent environment with overrides applied in sorted
// key order.
func MergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

// ExitCode extracts a process exit code from an os/exec error.
func ExitCode(err error) int32 {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return int32(exitErr.ExitCode())
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return ExitCodeNotFound
	}
	return ExitCodeStartFailure
}

// DescribeExit renders a Wait result for logs and error messages.
func DescribeExit(err error) string {
	if err == nil {
		return "exited cleanly"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ProcessState != nil {
		if code := exitErr.ExitCode(); code >= 0 {
			return fmt.Sprintf("exited with status %d", code)
		}
		return exitErr.ProcessState.String()
	}
	return err.Error()
}
