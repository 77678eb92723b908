//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName         = "gatewayctl"
	srcDir             = "./src/cmd/gatewayctl"
	binDir             = "bin"
	coverageDir        = "coverage"
	versionFile        = "VERSION"
	defaultTestTimeout = "10m"
	commandsPkg        = "github.com/ssalihsrz/openclaw/src/cmd/gatewayctl/commands"
)

// Default target runs all checks and builds.
var Default = All

// getVersion reads the version from the VERSION file, falling back to "dev".
func getVersion() string {
	data, err := os.ReadFile(versionFile)
	if err != nil {
		return "dev"
	}
	if v := strings.TrimSpace(string(data)); v != "" {
		return v
	}
	return "dev"
}

func ldflags() string {
	return fmt.Sprintf("-s -w -X %s.Version=%s -X %s.BuildTime=%s",
		commandsPkg, getVersion(), commandsPkg, time.Now().UTC().Format(time.RFC3339))
}

func binaryPath(goos string) string {
	name := binaryName
	if goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(binDir, name)
}

// All runs format, lint and tests, then builds.
func All() error {
	mg.Deps(Fmt, Lint, Test)
	return Build()
}

// Build compiles gatewayctl for the current platform with version info.
func Build() error {
	fmt.Println("Building", binaryName+"...")
	out := binaryPath(runtime.GOOS)
	if err := sh.RunV("go", "build", "-ldflags", ldflags(), "-o", out, srcDir); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	fmt.Printf("✅ Build complete! %s (%s)\n", out, getVersion())
	return nil
}

// BuildAll cross-compiles for the supported platforms.
func BuildAll() error {
	platforms := []struct{ goos, goarch string }{
		{"linux", "amd64"},
		{"linux", "arm64"},
		{"darwin", "amd64"},
		{"darwin", "arm64"},
		{"windows", "amd64"},
	}
	for _, p := range platforms {
		out := filepath.Join(binDir, p.goos+"-"+p.goarch, filepath.Base(binaryPath(p.goos)))
		env := map[string]string{"GOOS": p.goos, "GOARCH": p.goarch, "CGO_ENABLED": "0"}
		fmt.Printf("Building %s/%s...\n", p.goos, p.goarch)
		if err := sh.RunWithV(env, "go", "build", "-ldflags", ldflags(), "-o", out, srcDir); err != nil {
			return fmt.Errorf("build for %s/%s failed: %w", p.goos, p.goarch, err)
		}
	}
	fmt.Println("✅ Build complete for all platforms!")
	return nil
}

// Test runs unit tests only (with -short flag).
func Test() error {
	fmt.Println("Running unit tests...")
	return sh.RunV("go", "test", "-short", "./src/...")
}

// TestRace runs all tests with the race detector.
// Set TEST_TIMEOUT env var to override the default 10m timeout.
func TestRace() error {
	timeout := os.Getenv("TEST_TIMEOUT")
	if timeout == "" {
		timeout = defaultTestTimeout
	}
	fmt.Println("Running tests with race detector...")
	return sh.RunV("go", "test", "-race", "-timeout="+timeout, "./src/...")
}

// TestCoverage runs tests with coverage report.
func TestCoverage() error {
	fmt.Println("Running tests with coverage...")

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	absCoverageDir := filepath.Join(cwd, coverageDir)
	_ = os.RemoveAll(absCoverageDir)
	if err := os.MkdirAll(absCoverageDir, 0o755); err != nil {
		return fmt.Errorf("failed to create coverage directory at %s: %w", absCoverageDir, err)
	}

	coverageOut := filepath.Join(absCoverageDir, "coverage.out")
	coverageHTML := filepath.Join(absCoverageDir, "coverage.html")

	if err := sh.RunV("go", "test", "-short", "-coverprofile="+coverageOut, "./src/..."); err != nil {
		return fmt.Errorf("tests failed: %w", err)
	}
	if err := sh.RunV("go", "tool", "cover", "-html="+coverageOut, "-o", coverageHTML); err != nil {
		return fmt.Errorf("failed to generate HTML coverage: %w", err)
	}
	if err := sh.RunV("go", "tool", "cover", "-func="+coverageOut); err != nil {
		return fmt.Errorf("failed to display coverage summary: %w", err)
	}

	fmt.Println("Coverage report:", coverageHTML)
	return nil
}

// Lint runs golangci-lint on the codebase.
func Lint() error {
	fmt.Println("Running golangci-lint...")
	if err := sh.RunV("golangci-lint", "run", "./..."); err != nil {
		fmt.Println("⚠️  Linting failed. Ensure golangci-lint is installed:")
		fmt.Println("    go install github.com/golangci/golangci-lint/cmd/golangci-lint@latest")
		return err
	}
	return nil
}

// Fmt formats all Go code using gofmt.
func Fmt() error {
	fmt.Println("Formatting code...")
	if err := sh.RunV("gofmt", "-w", "-s", "src", "magefile.go"); err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}
	fmt.Println("✅ Code formatted!")
	return nil
}

// Security runs gosec over the sources.
func Security() error {
	fmt.Println("Running security scan...")
	return sh.RunV("gosec", "-tests=false", "-exclude-generated", "-quiet", "./src/...")
}

// Clean removes build artifacts and coverage reports.
func Clean() error {
	fmt.Println("Cleaning build artifacts...")
	for _, dir := range []string{binDir, coverageDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}
	fmt.Println("✅ Clean complete!")
	return nil
}

// Run builds and starts the supervisor with debug logging.
func Run() error {
	mg.Deps(Build)
	return sh.RunV(binaryPath(runtime.GOOS), "run", "--debug")
}
