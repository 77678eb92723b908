package service

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ssalihsrz/openclaw/src/internal/logging"
)

// Backoff configuration constants
const (
	BackoffMultiplier = 2.0

	// Port check specific settings
	PortCheckInitialInterval = 100 * time.Millisecond
	PortCheckMaxInterval     = 2 * time.Second

	portDialTimeout = 2 * time.Second
)

// PortProbe waits until something accepts connections on port or timeout ends.
type PortProbe func(ctx context.Context, port int, timeout time.Duration) error

// PortHealthCheck verifies that a port on the loopback interface is listening.
func PortHealthCheck(ctx context.Context, port int) error {
	d := net.Dialer{Timeout: portDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("port %d not listening: %w", port, err)
	}
	if err := conn.Close(); err != nil {
		logging.Debug("failed to close health check connection", "port", port, "error", err)
	}
	return nil
}

// WaitForPort waits for a port to start listening with exponential backoff,
// starting at 100ms and doubling up to 2s between attempts.
func WaitForPort(ctx context.Context, port int, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout
	b.InitialInterval = PortCheckInitialInterval
	b.MaxInterval = PortCheckMaxInterval
	b.Multiplier = BackoffMultiplier

	operation := func() error {
		return PortHealthCheck(ctx, port)
	}

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// IsPortListening checks if a port is currently listening.
func IsPortListening(port int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return PortHealthCheck(ctx, port) == nil
}
