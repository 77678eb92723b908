package detector

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProjectRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	tests := []struct {
		name    string
		root    string
		wantErr bool
	}{
		{"valid directory", dir, false},
		{"empty", "", true},
		{"whitespace", "   ", true},
		{"missing", filepath.Join(dir, "nope"), true},
		{"file", file, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateProjectRoot(tt.root)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidProjectRoot))
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(got))
		})
	}
}

func TestHasPackageJSON(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, HasPackageJSON(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0600))
	assert.True(t, HasPackageJSON(dir))
}

func TestGetPackageManagerFromPackageJSON(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{"packageManager field with npm", `{"name": "test", "packageManager": "npm@10.5.0"}`, "npm"},
		{"packageManager field with yarn", `{"name": "test", "packageManager": "yarn@4.1.0"}`, "yarn"},
		{"packageManager field with pnpm", `{"name": "test", "packageManager": "pnpm@8.15.0"}`, "pnpm"},
		{"no packageManager field", `{"name": "test", "version": "1.0.0"}`, ""},
		{"empty packageManager field", `{"name": "test", "packageManager": ""}`, ""},
		{"unsupported package manager", `{"name": "test", "packageManager": "bun@1.0.0"}`, ""},
		{"invalid JSON", `{invalid json}`, ""},
		{"packageManager without version", `{"name": "test", "packageManager": "pnpm"}`, "pnpm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			if err := os.WriteFile(filepath.Join(tmpDir, "package.json"), []byte(tt.content), 0600); err != nil {
				t.Fatalf("failed to create package.json: %v", err)
			}

			result := GetPackageManagerFromPackageJSON(tmpDir)
			if result != tt.expected {
				t.Errorf("GetPackageManagerFromPackageJSON() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestDetectNodePackageManagerWithSource(t *testing.T) {
	tests := []struct {
		name        string
		packageJSON string
		lockFiles   []string
		expected    PackageManagerInfo
	}{
		{
			name:        "packageManager field takes priority over lock files",
			packageJSON: `{"name": "test", "packageManager": "yarn@4.1.0"}`,
			lockFiles:   []string{"pnpm-lock.yaml", "package-lock.json"},
			expected:    PackageManagerInfo{Name: "yarn", Source: "package.json (packageManager field)"},
		},
		{
			name:        "pnpm lock file",
			packageJSON: `{"name": "test"}`,
			lockFiles:   []string{"pnpm-lock.yaml"},
			expected:    PackageManagerInfo{Name: "pnpm", Source: "pnpm-lock.yaml"},
		},
		{
			name:        "pnpm workspace file",
			packageJSON: `{"name": "test"}`,
			lockFiles:   []string{"pnpm-workspace.yaml", "yarn.lock"},
			expected:    PackageManagerInfo{Name: "pnpm", Source: "pnpm-workspace.yaml"},
		},
		{
			name:        "yarn lock file",
			packageJSON: `{"name": "test"}`,
			lockFiles:   []string{"yarn.lock"},
			expected:    PackageManagerInfo{Name: "yarn", Source: "yarn.lock"},
		},
		{
			name:        "npm lock file",
			packageJSON: `{"name": "test"}`,
			lockFiles:   []string{"package-lock.json"},
			expected:    PackageManagerInfo{Name: "npm", Source: "package-lock.json"},
		},
		{
			name:        "default to npm",
			packageJSON: `{"name": "test"}`,
			expected:    PackageManagerInfo{Name: "npm", Source: "package.json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "package.json"), []byte(tt.packageJSON), 0600))
			for _, lockFile := range tt.lockFiles {
				require.NoError(t, os.WriteFile(filepath.Join(tmpDir, lockFile), nil, 0600))
			}

			assert.Equal(t, tt.expected, DetectNodePackageManagerWithSource(tmpDir))
			assert.Equal(t, tt.expected.Name, DetectNodePackageManager(tmpDir))
		})
	}
}

func TestAugmentedPath(t *testing.T) {
	root := filepath.Join(string(os.PathSeparator), "src", "openclaw")
	base := strings.Join([]string{"/usr/bin", "/bin", "/usr/bin"}, string(os.PathListSeparator))

	got := filepath.SplitList(AugmentedPath(root, base))

	require.NotEmpty(t, got)
	assert.Equal(t, filepath.Join(root, "node_modules", ".bin"), got[0], "project bin must come first")
	assert.Contains(t, got, "/usr/bin")
	assert.Contains(t, got, "/bin")

	counts := make(map[string]int)
	for _, p := range got {
		counts[p]++
	}
	for p, n := range counts {
		assert.Equal(t, 1, n, "duplicate PATH entry %s", p)
	}
}

func writeExecutable(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	// #nosec G306 -- test fixture must be executable
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0755))
}

func TestLookPathIn(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit semantics differ on windows")
	}

	dir := t.TempDir()
	writeExecutable(t, filepath.Join(dir, "openclaw"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notexec"), []byte("x"), 0600))

	got, err := LookPathIn("openclaw", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "openclaw"), got)

	_, err = LookPathIn("notexec", dir)
	assert.Error(t, err)

	_, err = LookPathIn("missing", dir)
	assert.Error(t, err)
}
