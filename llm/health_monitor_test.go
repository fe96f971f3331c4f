package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/telemetry"
	"github.com/BaSui01/gateflow/testutil"
)

func newMonitorFixture(t *testing.T) (*llm.HealthMonitor, *llm.Registry, *telemetry.Store) {
	t.Helper()
	reg := llm.NewRegistry()
	ts := telemetry.NewStore(telemetry.StoreOptions{})
	m := llm.NewHealthMonitor(llm.HealthMonitorOptions{
		Registry:  reg,
		Telemetry: ts,
	})
	return m, reg, ts
}

func register(reg *llm.Registry, p *testutil.FakeProvider, status llm.ProviderStatus) {
	reg.Register(llm.ProviderInfo{
		ID:           p.ID,
		Capabilities: p.Caps,
		Enabled:      true,
		Status:       status,
	}, p)
}

func TestMonitorRecordsHealth(t *testing.T) {
	m, reg, ts := newMonitorFixture(t)
	p := testutil.NewFakeProvider("openai")
	register(reg, p, llm.StatusActive)

	m.ProbeAll(context.Background())

	h, ok := ts.LastHealth("openai")
	require.True(t, ok)
	assert.Equal(t, string(llm.HealthHealthy), h.State)
}

func TestMonitorDegradesUnhealthyProvider(t *testing.T) {
	m, reg, _ := newMonitorFixture(t)
	p := testutil.NewFakeProvider("openai")
	p.Health = llm.HealthUnhealthy
	register(reg, p, llm.StatusActive)

	m.ProbeAll(context.Background())

	status, _ := reg.Status("openai")
	assert.Equal(t, llm.StatusDegraded, status)
}

func TestMonitorReactivatesRecoveredProvider(t *testing.T) {
	m, reg, _ := newMonitorFixture(t)
	p := testutil.NewFakeProvider("openai")
	register(reg, p, llm.StatusDegraded)

	m.ProbeAll(context.Background())

	status, _ := reg.Status("openai")
	assert.Equal(t, llm.StatusActive, status)
}

func TestMonitorLeavesOperatorStatesAlone(t *testing.T) {
	m, reg, _ := newMonitorFixture(t)

	disabled := testutil.NewFakeProvider("off")
	register(reg, disabled, llm.StatusDisabled)
	maintenance := testutil.NewFakeProvider("maint")
	register(reg, maintenance, llm.StatusMaintenance)

	m.ProbeAll(context.Background())

	status, _ := reg.Status("off")
	assert.Equal(t, llm.StatusDisabled, status)
	status, _ = reg.Status("maint")
	assert.Equal(t, llm.StatusMaintenance, status)
}
