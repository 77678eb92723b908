package detector

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ssalihsrz/openclaw/src/internal/cache"
	"github.com/ssalihsrz/openclaw/src/internal/settings"
)

// Toolchain is the resolved way to launch the gateway from a project root.
type Toolchain struct {
	Root           string
	PackageManager PackageManagerInfo
	// Path is the augmented PATH value for the child environment.
	Path string
	// Command and Args are the program and arguments to execute.
	Command string
	Args    []string
}

// Env returns base with PATH replaced by the augmented value.
func (t Toolchain) Env(base []string) []string {
	env := make([]string, 0, len(base)+1)
	for _, kv := range base {
		if len(kv) >= 5 && (kv[:5] == "PATH=" || kv[:5] == "Path=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "PATH="+t.Path)
}

// Resolver resolves toolchains and caches the result per project root until
// package.json changes.
type Resolver struct {
	cache *cache.TTLCache[Toolchain]
	// basePath is the PATH the augmentation starts from.
	basePath string
}

// NewResolver creates a resolver whose entries expire after ttl.
func NewResolver(ttl time.Duration) *Resolver {
	return &Resolver{
		cache:    cache.New[Toolchain](ttl),
		basePath: os.Getenv("PATH"),
	}
}

// Resolve validates the project root and determines the gateway command.
//
// In direct mode the binary is looked up on the augmented PATH. In auto mode
// a binary in node_modules/.bin is used when present, otherwise the command
// runs through the project's package manager.
func (r *Resolver) Resolve(s settings.Settings) (Toolchain, error) {
	root, err := ValidateProjectRoot(s.ProjectRoot)
	if err != nil {
		return Toolchain{}, err
	}

	hash, err := cache.HashFile(filepath.Join(root, "package.json"))
	if err != nil {
		hash = "none"
	}
	key := fmt.Sprintf("%s|%s|%s|%s|%v", root, hash, s.Gateway.Runner, s.Gateway.Binary, s.GatewayArgs())

	return r.cache.GetOrLoad(key, func() (Toolchain, error) {
		return r.resolve(root, s)
	})
}

func (r *Resolver) resolve(root string, s settings.Settings) (Toolchain, error) {
	tc := Toolchain{
		Root: root,
		Path: AugmentedPath(root, r.basePath),
	}
	args := s.GatewayArgs()

	if s.Gateway.Runner == settings.RunnerDirect || !HasPackageJSON(root) {
		bin, err := LookPathIn(s.Gateway.Binary, tc.Path)
		if err != nil {
			return Toolchain{}, err
		}
		tc.Command = bin
		tc.Args = args
		return tc, nil
	}

	tc.PackageManager = DetectNodePackageManagerWithSource(root)

	local := filepath.Join(root, "node_modules", ".bin", s.Gateway.Binary)
	if isExecutable(local) {
		tc.Command = local
		tc.Args = args
		return tc, nil
	}

	pm, err := LookPathIn(tc.PackageManager.Name, tc.Path)
	if err != nil {
		return Toolchain{}, fmt.Errorf("package manager %s (from %s): %w", tc.PackageManager.Name, tc.PackageManager.Source, err)
	}
	tc.Command = pm
	tc.Args = packageManagerArgs(tc.PackageManager.Name, s.Gateway.Binary, args)
	return tc, nil
}

func packageManagerArgs(pm string, binary string, args []string) []string {
	var out []string
	switch pm {
	case "npm":
		out = []string{"exec", "--", binary}
	case "yarn":
		out = []string{"run", binary}
	default:
		out = []string{"exec", binary}
	}
	return append(out, args...)
}
