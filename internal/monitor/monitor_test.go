package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemostat/hemostat/internal/agent"
	"github.com/hemostat/hemostat/internal/broker"
	"github.com/hemostat/hemostat/internal/logger"
	"github.com/hemostat/hemostat/internal/runtime"
	"github.com/hemostat/hemostat/internal/schema"
)

func testMonitor(t *testing.T) (*Monitor, *runtime.FakeRuntime, *broker.Broker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	b := broker.NewWithClient(client, log)
	t.Cleanup(func() { _ = b.Close() })

	a := agent.New("monitor", b, log, time.Second)
	fake := runtime.NewFakeRuntime()
	mon := New(a, fake, Config{
		PollInterval: 30 * time.Second,
		Thresholds:   Thresholds{CPU: 85, Memory: 80, RestartCount: 3},
		StatsTTL:     5 * time.Minute,
	}, nil)
	return mon, fake, b
}

func collectAlerts(t *testing.T, b *broker.Broker) chan *schema.Envelope {
	t.Helper()
	received := make(chan *schema.Envelope, 16)
	sub := b.Subscribe(context.Background(), schema.ChannelHealthAlert, func(ctx context.Context, env *schema.Envelope) {
		received <- env
	})
	t.Cleanup(func() { sub.Close(time.Second) })
	time.Sleep(50 * time.Millisecond)
	return received
}

func waitAlert(t *testing.T, ch chan *schema.Envelope) schema.HealthAlert {
	t.Helper()
	select {
	case env := <-ch:
		var alert schema.HealthAlert
		require.NoError(t, env.Decode(&alert))
		return alert
	case <-time.After(2 * time.Second):
		t.Fatal("no health alert received")
		return schema.HealthAlert{}
	}
}

func TestDetectAnomalies(t *testing.T) {
	th := Thresholds{CPU: 85, Memory: 80, RestartCount: 3}

	tests := []struct {
		name     string
		sample   schema.ContainerSample
		types    []schema.AnomalyType
		severity schema.Severity
	}{
		{
			name: "cpu above threshold",
			sample: schema.ContainerSample{
				Status:   schema.StatusRunning,
				CPUValid: true,
				Metrics:  schema.Metrics{CPUPercent: 92},
			},
			types:    []schema.AnomalyType{schema.AnomalyHighCPU},
			severity: schema.SeverityHigh,
		},
		{
			name: "cpu in early-warning band",
			sample: schema.ContainerSample{
				Status:   schema.StatusRunning,
				CPUValid: true,
				Metrics:  schema.Metrics{CPUPercent: 70},
			},
			types:    []schema.AnomalyType{schema.AnomalyHighCPU},
			severity: schema.SeverityMedium,
		},
		{
			name: "cpu critical",
			sample: schema.ContainerSample{
				Status:   schema.StatusRunning,
				CPUValid: true,
				Metrics:  schema.Metrics{CPUPercent: 97},
			},
			types:    []schema.AnomalyType{schema.AnomalyHighCPU},
			severity: schema.SeverityCritical,
		},
		{
			name: "cpu without two samples is ignored",
			sample: schema.ContainerSample{
				Status:   schema.StatusRunning,
				CPUValid: false,
				Metrics:  schema.Metrics{CPUPercent: 99},
			},
			types: nil,
		},
		{
			name: "memory above threshold",
			sample: schema.ContainerSample{
				Status:   schema.StatusRunning,
				Metrics:  schema.Metrics{MemoryPercent: 88},
			},
			types:    []schema.AnomalyType{schema.AnomalyHighMemory},
			severity: schema.SeverityHigh,
		},
		{
			name: "unhealthy status",
			sample: schema.ContainerSample{
				Status:       schema.StatusRunning,
				HealthStatus: schema.HealthUnhealthy,
			},
			types:    []schema.AnomalyType{schema.AnomalyUnhealthyStatus},
			severity: schema.SeverityHigh,
		},
		{
			name: "non-zero exit",
			sample: schema.ContainerSample{
				Status:   schema.StatusExited,
				ExitCode: 137,
			},
			types:    []schema.AnomalyType{schema.AnomalyNonZeroExit},
			severity: schema.SeverityHigh,
		},
		{
			name: "clean exit is not anomalous",
			sample: schema.ContainerSample{
				Status:   schema.StatusExited,
				ExitCode: 0,
			},
			types: nil,
		},
		{
			name: "excessive restarts",
			sample: schema.ContainerSample{
				Status:       schema.StatusRunning,
				RestartCount: 5,
			},
			types:    []schema.AnomalyType{schema.AnomalyExcessiveRestarts},
			severity: schema.SeverityMedium,
		},
		{
			name: "restart count at threshold is fine",
			sample: schema.ContainerSample{
				Status:       schema.StatusRunning,
				RestartCount: 3,
			},
			types: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectAnomalies(tt.sample, th)
			require.Len(t, got, len(tt.types))
			for i, want := range tt.types {
				assert.Equal(t, want, got[i].Type)
			}
			if tt.severity != "" && len(got) == 1 {
				assert.Equal(t, tt.severity, got[0].Severity)
			}
		})
	}
}

func TestCycle_FirstCycleNeverReportsCPU(t *testing.T) {
	mon, fake, b := testMonitor(t)
	alerts := collectAlerts(t, b)
	ctx := context.Background()

	fake.AddContainer(runtime.InspectInfo{ID: "c1", Name: "svc-a", Status: schema.StatusRunning})
	fake.SetStats("c1", runtime.StatsSnapshot{
		CPUTotal: 1000, SystemCPU: 10000, OnlineCPUs: 4,
		MemoryUsage: 100 << 20, MemoryLimit: 1 << 30,
	})

	mon.Cycle(ctx)

	select {
	case env := <-alerts:
		t.Fatalf("first cycle published an alert: %s", env.Type)
	case <-time.After(200 * time.Millisecond):
	}

	// Second cycle: delta corresponds to 92% of one core across four cores.
	fake.SetStats("c1", runtime.StatsSnapshot{
		CPUTotal: 1000 + 2300, SystemCPU: 10000 + 10000, OnlineCPUs: 4,
		MemoryUsage: 100 << 20, MemoryLimit: 1 << 30,
	})
	mon.Cycle(ctx)

	alert := waitAlert(t, alerts)
	require.Len(t, alert.Issues, 1)
	assert.Equal(t, schema.AnomalyHighCPU, alert.Issues[0].Type)
	assert.InDelta(t, 92.0, alert.Issues[0].Actual, 0.01)
	assert.Equal(t, schema.SeverityHigh, alert.Issues[0].Severity)
}

func TestCycle_CachesSampleForEveryContainer(t *testing.T) {
	mon, fake, b := testMonitor(t)
	ctx := context.Background()

	fake.AddContainer(runtime.InspectInfo{ID: "c1", Name: "svc-a", Image: "svc-a:latest", Status: schema.StatusRunning})
	fake.SetStats("c1", runtime.StatsSnapshot{
		CPUTotal: 500, SystemCPU: 5000, OnlineCPUs: 2,
		MemoryUsage: 512 << 20, MemoryLimit: 1 << 30,
	})

	mon.Cycle(ctx)

	var sample schema.ContainerSample
	found, err := b.Get(ctx, schema.StatsKey("svc-a"), &sample)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "svc-a", sample.Name)
	assert.False(t, sample.CPUValid)
	assert.InDelta(t, 50.0, sample.Metrics.MemoryPercent, 0.01)
}

func TestCycle_ExitedContainerAlert(t *testing.T) {
	mon, fake, b := testMonitor(t)
	alerts := collectAlerts(t, b)
	ctx := context.Background()

	fake.AddContainer(runtime.InspectInfo{ID: "c2", Name: "svc-b", Status: schema.StatusExited, ExitCode: 1, RestartCount: 7})

	mon.Cycle(ctx)

	alert := waitAlert(t, alerts)
	assert.Equal(t, "svc-b", alert.Container)
	require.Len(t, alert.Issues, 2)
	assert.Equal(t, schema.AnomalyNonZeroExit, alert.Issues[0].Type)
	assert.Equal(t, schema.AnomalyExcessiveRestarts, alert.Issues[1].Type)
}

func TestCycle_SampleErrorIsolated(t *testing.T) {
	mon, fake, b := testMonitor(t)
	alerts := collectAlerts(t, b)
	ctx := context.Background()

	// Listed but uninspectable: simulates a container removed mid-cycle.
	fake.AddContainer(runtime.InspectInfo{ID: "gone", Name: "svc-gone", Status: schema.StatusRunning})
	fake.AddContainer(runtime.InspectInfo{ID: "c3", Name: "svc-c", Status: schema.StatusRunning, Health: schema.HealthUnhealthy})
	fake.SetStats("c3", runtime.StatsSnapshot{CPUTotal: 1, SystemCPU: 100, OnlineCPUs: 1, MemoryUsage: 1 << 20, MemoryLimit: 1 << 30})

	mon.Cycle(ctx)

	// svc-gone has no stats and fails; svc-c still produces its alert.
	alert := waitAlert(t, alerts)
	assert.Equal(t, "svc-c", alert.Container)
}

func TestCycle_PrunesStateForGoneContainers(t *testing.T) {
	mon, fake, _ := testMonitor(t)
	ctx := context.Background()

	fake.AddContainer(runtime.InspectInfo{ID: "c1", Name: "svc-a", Status: schema.StatusRunning})
	fake.SetStats("c1", runtime.StatsSnapshot{CPUTotal: 100, SystemCPU: 1000, OnlineCPUs: 1, MemoryUsage: 1, MemoryLimit: 100})
	mon.Cycle(ctx)

	mon.mu.Lock()
	_, ok := mon.prev["c1"]
	mon.mu.Unlock()
	require.True(t, ok)

	fake.RemoveContainerByKey("c1")
	mon.Cycle(ctx)

	mon.mu.Lock()
	_, ok = mon.prev["c1"]
	mon.mu.Unlock()
	assert.False(t, ok)
}

func TestCPUPercent(t *testing.T) {
	prev := runtime.StatsSnapshot{CPUTotal: 1000, SystemCPU: 10000, OnlineCPUs: 2}
	cur := runtime.StatsSnapshot{CPUTotal: 1500, SystemCPU: 11000, OnlineCPUs: 2}
	assert.InDelta(t, 100.0, cpuPercent(prev, cur), 0.01)

	// Counter reset after daemon restart yields zero, not a negative spike.
	assert.Equal(t, 0.0, cpuPercent(cur, prev))

	// Missing online_cpus falls back to a single core.
	cur.OnlineCPUs = 0
	assert.InDelta(t, 50.0, cpuPercent(prev, cur), 0.01)
}

func TestMemoryPercent(t *testing.T) {
	assert.InDelta(t, 25.0, memoryPercent(runtime.StatsSnapshot{
		MemoryUsage: 300, MemoryInactiveFile: 50, MemoryLimit: 1000,
	}), 0.01)

	// Unlimited containers report zero rather than dividing by zero.
	assert.Equal(t, 0.0, memoryPercent(runtime.StatsSnapshot{MemoryUsage: 300}))

	// Clamped at 100.
	assert.Equal(t, 100.0, memoryPercent(runtime.StatsSnapshot{
		MemoryUsage: 2000, MemoryLimit: 1000,
	}))
}
