package portmanager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/ssalihsrz/openclaw/src/internal/cache"
)

// ProcessInfo identifies a process.
type ProcessInfo struct {
	Name        string
	CommandLine string
}

// ProcessResolver looks up the name and command line of a pid.
type ProcessResolver interface {
	Resolve(ctx context.Context, pid int) (ProcessInfo, error)
}

// DefaultResolverTTL bounds how long a pid's identity is reused.
const DefaultResolverTTL = 2 * time.Second

// SystemResolver resolves processes with gopsutil and caches results briefly.
type SystemResolver struct {
	cache *cache.TTLCache[ProcessInfo]
}

// NewSystemResolver creates a resolver with the given cache TTL.
func NewSystemResolver(ttl time.Duration) *SystemResolver {
	return &SystemResolver{cache: cache.New[ProcessInfo](ttl)}
}

// Resolve implements ProcessResolver. A vanished pid yields ErrNoSuchProcess.
func (r *SystemResolver) Resolve(ctx context.Context, pid int) (ProcessInfo, error) {
	return r.cache.GetOrLoad(strconv.Itoa(pid), func() (ProcessInfo, error) {
		return lookupProcess(ctx, pid)
	})
}

func lookupProcess(ctx context.Context, pid int) (ProcessInfo, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return ProcessInfo{}, fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
		}
		return ProcessInfo{}, fmt.Errorf("pid %d: %w", pid, err)
	}

	info := ProcessInfo{}
	if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
		info.CommandLine = strings.TrimSpace(cmdline)
	}
	if name, err := p.NameWithContext(ctx); err == nil {
		info.Name = name
	}
	if info.Name == "" && info.CommandLine != "" {
		info.Name = filepath.Base(strings.Fields(info.CommandLine)[0])
	}
	if info.Name == "" {
		return ProcessInfo{}, fmt.Errorf("pid %d: unable to resolve process name", pid)
	}
	return info, nil
}
