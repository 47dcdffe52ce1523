// Package monitor implements the Monitor agent: periodic container sampling,
// anomaly detection against configured thresholds, and health_alert
// publication. It also caches the latest sample of every container in the
// keyed store for UI consumption.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hemostat/hemostat/internal/agent"
	"github.com/hemostat/hemostat/internal/logger"
	"github.com/hemostat/hemostat/internal/metrics"
	"github.com/hemostat/hemostat/internal/runtime"
	"github.com/hemostat/hemostat/internal/schema"
)

// Config holds the Monitor settings.
type Config struct {
	PollInterval time.Duration
	Thresholds   Thresholds
	StatsTTL     time.Duration
}

// Monitor samples containers and publishes health alerts.
type Monitor struct {
	agent   *agent.Agent
	rt      runtime.Runtime
	cfg     Config
	metrics *metrics.Metrics

	mu   sync.Mutex
	prev map[string]runtime.StatsSnapshot // last snapshot per container ID
}

// New creates a Monitor and registers its poll loop on the agent runtime.
// Metrics may be nil.
func New(a *agent.Agent, rt runtime.Runtime, cfg Config, m *metrics.Metrics) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = 300 * time.Second
	}

	mon := &Monitor{
		agent:   a,
		rt:      rt,
		cfg:     cfg,
		metrics: m,
		prev:    make(map[string]runtime.StatsSnapshot),
	}

	a.AddTask(mon.pollLoop)
	return mon
}

// pollLoop drives Cycle on the configured schedule. The first cycle runs
// immediately to warm the two-sample CPU state.
func (m *Monitor) pollLoop(ctx context.Context) {
	m.Cycle(ctx)

	c := cron.New()
	_, err := c.AddFunc("@every "+m.cfg.PollInterval.String(), func() {
		m.Cycle(ctx)
	})
	if err != nil {
		m.agent.Log().Error("failed to schedule poll loop", err)
		return
	}
	c.Start()
	defer c.Stop()

	<-ctx.Done()
}

// Cycle runs one sampling pass over all containers. Per-container failures
// are isolated; a fully unreachable runtime skips the cycle.
func (m *Monitor) Cycle(ctx context.Context) {
	log := m.agent.Log()

	containers, err := m.rt.ListContainers(ctx, true)
	if err != nil {
		log.Warn("runtime unreachable, skipping cycle",
			logger.Field{Key: "error", Value: err.Error()})
		return
	}

	if m.metrics != nil {
		m.metrics.SetContainersSampled(len(containers))
	}

	alive := make(map[string]bool, len(containers))
	for _, c := range containers {
		alive[c.ID] = true

		sample, err := m.sample(ctx, c)
		if err != nil {
			log.Warn("failed to sample container",
				logger.Field{Key: "container", Value: c.Name},
				logger.Field{Key: "error", Value: err.Error()})
			continue
		}

		if err := m.agent.Broker().Set(ctx, schema.StatsKey(sample.Name), sample, m.cfg.StatsTTL); err != nil {
			log.Warn("failed to cache sample",
				logger.Field{Key: "container", Value: sample.Name},
				logger.Field{Key: "error", Value: err.Error()})
		}

		anomalies := DetectAnomalies(sample, m.cfg.Thresholds)
		if len(anomalies) == 0 {
			continue
		}

		m.publishAlert(ctx, sample, anomalies)
	}

	// Containers that disappeared restart their CPU sampling state on
	// reappearance.
	m.mu.Lock()
	for id := range m.prev {
		if !alive[id] {
			delete(m.prev, id)
		}
	}
	m.mu.Unlock()
}

// sample collects one observation of one container. CPU percent requires the
// previous cycle's snapshot; the first observation is marked CPUValid=false.
func (m *Monitor) sample(ctx context.Context, c runtime.ContainerInfo) (schema.ContainerSample, error) {
	info, err := m.rt.Inspect(ctx, c.ID)
	if err != nil {
		return schema.ContainerSample{}, err
	}

	sample := schema.ContainerSample{
		ID:           c.ID,
		Name:         c.Name,
		Image:        c.Image,
		Status:       info.Status,
		HealthStatus: info.Health,
		ExitCode:     info.ExitCode,
		RestartCount: info.RestartCount,
		SampledAt:    time.Now().UTC(),
	}

	// Stats are only meaningful for running containers; exited ones still
	// carry exit code and restart count.
	if info.Status != schema.StatusRunning {
		m.mu.Lock()
		delete(m.prev, c.ID)
		m.mu.Unlock()
		return sample, nil
	}

	snap, err := m.rt.Stats(ctx, c.ID)
	if err != nil {
		return schema.ContainerSample{}, err
	}

	sample.Metrics = schema.Metrics{
		MemoryBytes:     snap.MemoryUsage,
		MemoryLimit:     snap.MemoryLimit,
		NetRxBytes:      snap.NetRxBytes,
		NetTxBytes:      snap.NetTxBytes,
		BlkioReadBytes:  snap.BlkioReadBytes,
		BlkioWriteBytes: snap.BlkioWriteBytes,
	}
	sample.Metrics.MemoryPercent = memoryPercent(snap)

	m.mu.Lock()
	prev, seen := m.prev[c.ID]
	m.prev[c.ID] = snap
	m.mu.Unlock()

	if seen {
		sample.Metrics.CPUPercent = cpuPercent(prev, snap)
		sample.CPUValid = true
	}

	return sample, nil
}

func (m *Monitor) publishAlert(ctx context.Context, sample schema.ContainerSample, anomalies []schema.Anomaly) {
	alert := schema.HealthAlert{
		Container:    sample.Name,
		ContainerID:  sample.ID,
		Image:        sample.Image,
		Issues:       anomalies,
		Metrics:      sample.Metrics,
		Status:       sample.Status,
		RestartCount: sample.RestartCount,
		ExitCode:     sample.ExitCode,
		HealthStatus: sample.HealthStatus,
	}

	if err := m.agent.Publish(ctx, schema.ChannelHealthAlert, schema.KindHealthAlert, alert); err != nil {
		return
	}

	if m.metrics != nil {
		for _, a := range anomalies {
			m.metrics.RecordAlert(string(a.Type))
		}
	}

	m.agent.Log().Info("health alert published",
		logger.Field{Key: "container", Value: sample.Name},
		logger.Field{Key: "issues", Value: len(anomalies)})
}

// cpuPercent applies the canonical formula over two consecutive cumulative
// readings: (Δcpu_total / Δsystem_cpu) × online_cpus × 100.
func cpuPercent(prev, cur runtime.StatsSnapshot) float64 {
	if cur.CPUTotal < prev.CPUTotal || cur.SystemCPU <= prev.SystemCPU {
		return 0
	}
	cpuDelta := float64(cur.CPUTotal - prev.CPUTotal)
	sysDelta := float64(cur.SystemCPU - prev.SystemCPU)

	cpus := float64(cur.OnlineCPUs)
	if cpus == 0 {
		cpus = 1
	}

	return cpuDelta / sysDelta * cpus * 100
}

// memoryPercent excludes inactive file cache to match userspace intuition,
// clamped to [0, 100].
func memoryPercent(snap runtime.StatsSnapshot) float64 {
	if snap.MemoryLimit == 0 {
		return 0
	}
	usage := snap.MemoryUsage
	if snap.MemoryInactiveFile < usage {
		usage -= snap.MemoryInactiveFile
	}
	pct := float64(usage) / float64(snap.MemoryLimit) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
