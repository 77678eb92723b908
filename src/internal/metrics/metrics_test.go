package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssalihsrz/openclaw/src/internal/portmanager"
	"github.com/ssalihsrz/openclaw/src/internal/service"
)

func TestObserveStatus(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveStatus(service.Status{State: service.StateRunning, RestartCount: 3})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayState.WithLabelValues("running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.GatewayState.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GatewayRestarts))

	m.ObserveStatus(service.Status{State: service.StateFailed, RestartCount: 4})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.GatewayState.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayState.WithLabelValues("failed")))
}

func TestObservePortCheck(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePortCheck(20*time.Millisecond, []portmanager.PortReport{
		{Port: 18789, Listeners: []portmanager.Listener{
			{PID: 1, Command: "openclaw", Expected: true},
			{PID: 2, Command: "python3"},
		}},
		{Port: 18790, Listeners: []portmanager.Listener{}},
	})

	expected := `
		# HELP gatewayctl_port_listeners Listeners found on each configured port by the last check
		# TYPE gatewayctl_port_listeners gauge
		gatewayctl_port_listeners{expected="false",port="18789"} 1
		gatewayctl_port_listeners{expected="false",port="18790"} 0
		gatewayctl_port_listeners{expected="true",port="18789"} 1
		gatewayctl_port_listeners{expected="true",port="18790"} 0
	`
	require.NoError(t, testutil.CollectAndCompare(m.PortListeners, strings.NewReader(expected)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PortCheckDuration))
}

func TestRecordKill(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordKill("terminated", portmanager.Listener{})
	m.RecordKill("terminated", portmanager.Listener{})
	m.RecordKill("pending", portmanager.Listener{})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Kills.WithLabelValues("terminated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Kills.WithLabelValues("pending")))
}

func TestObserveLogSize(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveLogSize(2048)
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.GatewayLogBytes))
}
