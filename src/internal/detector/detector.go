// Package detector inspects a gateway project checkout to find the toolchain
// used to launch it.
package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ssalihsrz/openclaw/src/internal/logging"
)

// ErrInvalidProjectRoot is returned when the configured project root is
// missing or is not a directory.
var ErrInvalidProjectRoot = errors.New("invalid project root")

// PackageManagerInfo contains package manager name and detection source.
type PackageManagerInfo struct {
	Name   string
	Source string // e.g. "package.json (packageManager field)", "pnpm-lock.yaml"
}

// ValidateProjectRoot returns the absolute, cleaned project root.
func ValidateProjectRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("%w: not configured", ErrInvalidProjectRoot)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidProjectRoot, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidProjectRoot, abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidProjectRoot, abs)
	}
	return abs, nil
}

// DetectNodePackageManager determines whether to use pnpm, yarn, or npm.
// Priority: packageManager field in package.json > lock files > npm (default).
func DetectNodePackageManager(projectDir string) string {
	return DetectNodePackageManagerWithSource(projectDir).Name
}

// DetectNodePackageManagerWithSource returns both the package manager and detection source.
// Only projectDir is checked; parent workspaces are ignored.
func DetectNodePackageManagerWithSource(projectDir string) PackageManagerInfo {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		absDir = projectDir
	}

	if pkgMgr := GetPackageManagerFromPackageJSON(absDir); pkgMgr != "" {
		return PackageManagerInfo{
			Name:   pkgMgr,
			Source: "package.json (packageManager field)",
		}
	}

	// pnpm-lock.yaml > pnpm-workspace.yaml > yarn.lock > package-lock.json
	lockFiles := []PackageManagerInfo{
		{Name: "pnpm", Source: "pnpm-lock.yaml"},
		{Name: "pnpm", Source: "pnpm-workspace.yaml"},
		{Name: "yarn", Source: "yarn.lock"},
		{Name: "npm", Source: "package-lock.json"},
	}
	for _, lf := range lockFiles {
		if _, err := os.Stat(filepath.Join(absDir, lf.Source)); err == nil {
			return lf
		}
	}

	return PackageManagerInfo{Name: "npm", Source: "package.json"}
}

// GetPackageManagerFromPackageJSON reads package.json and extracts the packageManager field.
// The field format is "name@version" (e.g. "pnpm@8.15.0").
// Returns the bare name for npm, yarn and pnpm, empty string otherwise.
func GetPackageManagerFromPackageJSON(projectDir string) string {
	packageJSONPath := filepath.Join(projectDir, "package.json")

	// #nosec G304 -- path is the configured project root joined with a fixed file name
	data, err := os.ReadFile(packageJSONPath)
	if err != nil {
		return ""
	}

	var pkg struct {
		PackageManager string `json:"packageManager"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		logging.Debug("failed to parse package.json", "dir", projectDir, "error", err)
		return ""
	}
	if pkg.PackageManager == "" {
		return ""
	}

	name, _, _ := strings.Cut(pkg.PackageManager, "@")
	switch name {
	case "npm", "yarn", "pnpm":
		return name
	default:
		return ""
	}
}

// HasPackageJSON checks if package.json exists in a directory.
func HasPackageJSON(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "package.json"))
	return err == nil
}

// SearchDirs returns the extra directories prepended to PATH when launching
// the gateway from root: the project's local bin followed by the usual
// per-user and system install locations of node package managers.
func SearchDirs(root string) []string {
	dirs := []string{filepath.Join(root, "node_modules", ".bin")}

	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(home, "Library", "pnpm"),
			filepath.Join(home, ".local", "share", "pnpm"),
			filepath.Join(home, ".bun", "bin"),
		)
	}
	if runtime.GOOS != "windows" {
		dirs = append(dirs, "/opt/homebrew/bin", "/usr/local/bin")
	}
	return dirs
}

// AugmentedPath prepends SearchDirs(root) to base, skipping entries already present.
func AugmentedPath(root string, base string) string {
	seen := make(map[string]bool)
	var parts []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		parts = append(parts, p)
	}
	for _, d := range SearchDirs(root) {
		add(d)
	}
	for _, d := range filepath.SplitList(base) {
		add(d)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// LookPathIn finds an executable named name in the given PATH value.
func LookPathIn(name string, pathEnv string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		if isExecutable(name) {
			return name, nil
		}
		return "", fmt.Errorf("executable not found: %s", name)
	}

	candidates := []string{name}
	if runtime.GOOS == "windows" {
		candidates = append(candidates, name+".exe", name+".cmd", name+".bat")
	}
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}
		for _, c := range candidates {
			p := filepath.Join(dir, c)
			if isExecutable(p) {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("executable %q not found in PATH", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}
