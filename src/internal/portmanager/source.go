package portmanager

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	gnet "github.com/shirou/gopsutil/v4/net"

	"github.com/ssalihsrz/openclaw/src/internal/logging"
)

// ListenerSource enumerates the pids listening on a TCP port.
type ListenerSource interface {
	ListenerPIDs(ctx context.Context, port int) ([]int, error)
}

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- name is lsof or netstat, args are built from an int port
	return exec.CommandContext(ctx, name, args...).Output()
}

// ExecSource queries lsof on Unix and netstat on Windows.
type ExecSource struct {
	run  CommandRunner
	goos string
}

// NewExecSource creates an ExecSource for the running platform.
func NewExecSource() *ExecSource {
	return &ExecSource{run: runCommand, goos: runtime.GOOS}
}

// ListenerPIDs implements ListenerSource.
func (s *ExecSource) ListenerPIDs(ctx context.Context, port int) ([]int, error) {
	if s.goos == "windows" {
		out, err := s.run(ctx, "netstat", "-ano", "-p", "TCP")
		if err != nil {
			return nil, classifyExecError("netstat", err)
		}
		return parseNetstat(out, port), nil
	}

	out, err := s.run(ctx, "lsof", "-nP", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN", "-t")
	if err != nil {
		// lsof exits 1 when nothing matches.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(bytes.TrimSpace(out)) == 0 {
			return nil, nil
		}
		return nil, classifyExecError("lsof", err)
	}
	return parseLsofPIDs(out), nil
}

func classifyExecError(tool string, err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %s not found", ErrPortQueryUnavailable, tool)
	}
	return fmt.Errorf("%s failed: %w", tool, err)
}

// parseLsofPIDs parses `lsof -t` output: one pid per line.
func parseLsofPIDs(out []byte) []int {
	var pids []int
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// parseNetstat extracts listening pids for port from `netstat -ano` output:
//
//	TCP    0.0.0.0:18789    0.0.0.0:0    LISTENING    4242
func parseNetstat(out []byte, port int) []int {
	suffix := ":" + strconv.Itoa(port)
	var pids []int
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || !strings.EqualFold(fields[0], "TCP") {
			continue
		}
		if !strings.EqualFold(fields[3], "LISTENING") || !strings.HasSuffix(fields[1], suffix) {
			continue
		}
		pid, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// SocketTableSource reads the kernel socket table through gopsutil.
type SocketTableSource struct{}

// ListenerPIDs implements ListenerSource.
func (SocketTableSource) ListenerPIDs(ctx context.Context, port int) ([]int, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("%w: socket table: %w", ErrPortQueryUnavailable, err)
	}
	var pids []int
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port || c.Pid <= 0 {
			continue
		}
		pids = append(pids, int(c.Pid))
	}
	return pids, nil
}

// FallbackSource tries Primary and uses Secondary only when Primary reports
// ErrPortQueryUnavailable.
type FallbackSource struct {
	Primary   ListenerSource
	Secondary ListenerSource
}

// DefaultSource is lsof/netstat with the gopsutil socket table as fallback.
func DefaultSource() ListenerSource {
	return FallbackSource{Primary: NewExecSource(), Secondary: SocketTableSource{}}
}

// ListenerPIDs implements ListenerSource.
func (f FallbackSource) ListenerPIDs(ctx context.Context, port int) ([]int, error) {
	pids, err := f.Primary.ListenerPIDs(ctx, port)
	if err == nil || !errors.Is(err, ErrPortQueryUnavailable) || f.Secondary == nil {
		return pids, err
	}
	logging.Debug("primary port query unavailable, using socket table", "port", port, "error", err)
	return f.Secondary.ListenerPIDs(ctx, port)
}
