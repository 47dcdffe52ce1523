// Package scanner implements the vulnerability scanner agent: it drives an
// OWASP ZAP instance through periodic active scans of the configured targets,
// caches the reports for UI consumption, and raises a vulnerability alert
// when a scan turns up high-risk findings.
package scanner

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hemostat/hemostat/internal/agent"
	"github.com/hemostat/hemostat/internal/logger"
	"github.com/hemostat/hemostat/internal/metrics"
	"github.com/hemostat/hemostat/internal/retry"
	"github.com/hemostat/hemostat/internal/schema"
)

const riskHigh = "High"

const progressPollInterval = 10 * time.Second

// Config holds the Scanner settings.
type Config struct {
	ScanInterval  time.Duration
	ScanTimeout   time.Duration
	Targets       []string
	ReportTTL     time.Duration
	ReadyAttempts int
	ReadyBackoff  time.Duration
}

// Scanner runs the scan loop against a ZAP daemon.
type Scanner struct {
	agent   *agent.Agent
	zap     *ZAPClient
	cfg     Config
	metrics *metrics.Metrics
}

// New creates a Scanner and registers its scan loop on the agent runtime.
// Metrics may be nil.
func New(a *agent.Agent, zap *ZAPClient, cfg Config, m *metrics.Metrics) *Scanner {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Hour
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 30 * time.Minute
	}
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = 24 * time.Hour
	}
	if cfg.ReadyAttempts <= 0 {
		cfg.ReadyAttempts = 5
	}
	if cfg.ReadyBackoff <= 0 {
		cfg.ReadyBackoff = 5 * time.Second
	}

	s := &Scanner{agent: a, zap: zap, cfg: cfg, metrics: m}
	a.AddTask(s.scanLoop)
	return s
}

// scanLoop drives Cycle on the configured schedule, starting with one
// immediate cycle.
func (s *Scanner) scanLoop(ctx context.Context) {
	s.Cycle(ctx)

	c := cron.New()
	_, err := c.AddFunc("@every "+s.cfg.ScanInterval.String(), func() {
		s.Cycle(ctx)
	})
	if err != nil {
		s.agent.Log().Error("failed to schedule scan loop", err)
		return
	}
	c.Start()
	defer c.Stop()

	<-ctx.Done()
}

// Cycle scans every configured target once. The daemon is probed first; an
// unreachable daemon skips the whole cycle, a failed target only itself.
func (s *Scanner) Cycle(ctx context.Context) {
	log := s.agent.Log()

	if len(s.cfg.Targets) == 0 {
		log.Debug("no scan targets configured, skipping cycle")
		return
	}

	version, err := retry.DoWithRetry(ctx, func() (string, error) {
		return s.zap.Version(ctx)
	}, retry.Config{
		MaxAttempts:    s.cfg.ReadyAttempts,
		InitialBackoff: s.cfg.ReadyBackoff,
		MaxBackoff:     30 * time.Second,
	})
	if err != nil {
		log.Warn("zap unreachable, skipping scan cycle",
			logger.Field{Key: "error", Value: err.Error()})
		return
	}
	log.Debug("zap ready", logger.Field{Key: "version", Value: version})

	for _, target := range s.cfg.Targets {
		if err := s.scanTarget(ctx, target); err != nil {
			log.Warn("scan failed",
				logger.Field{Key: "target", Value: target},
				logger.Field{Key: "error", Value: err.Error()})
			if s.metrics != nil {
				s.metrics.RecordScan("failed")
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordScan("completed")
		}
	}
}

// scanTarget runs one active scan to completion, caches the report, and
// publishes a vulnerability alert when high-risk findings exist.
func (s *Scanner) scanTarget(ctx context.Context, target string) error {
	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	id, err := s.zap.StartScan(scanCtx, target)
	if err != nil {
		return err
	}

	if err := s.waitForCompletion(scanCtx, id); err != nil {
		return err
	}

	findings, err := s.zap.Findings(scanCtx)
	if err != nil {
		return err
	}

	report := buildReport(target, findings)

	if err := s.agent.Broker().Set(ctx, schema.VulnScanKey(target), report, s.cfg.ReportTTL); err != nil {
		s.agent.Log().Warn("failed to cache scan report",
			logger.Field{Key: "target", Value: target},
			logger.Field{Key: "error", Value: err.Error()})
	}

	s.agent.Log().Info("scan completed",
		logger.Field{Key: "target", Value: target},
		logger.Field{Key: "findings", Value: report.TotalFindings},
		logger.Field{Key: "critical", Value: len(report.Critical)})

	if len(report.Critical) == 0 {
		return nil
	}

	alert := schema.VulnerabilityAlert{
		TargetURL:     target,
		CriticalCount: len(report.Critical),
		TotalFindings: report.TotalFindings,
		Critical:      report.Critical,
	}
	return s.agent.Publish(ctx, schema.ChannelVulnerabilityAlert, schema.KindVulnerabilityAlert, alert)
}

func (s *Scanner) waitForCompletion(ctx context.Context, scanID string) error {
	for {
		p, err := s.zap.Progress(ctx, scanID)
		if err != nil {
			return err
		}
		if p >= 100 {
			return nil
		}
		select {
		case <-time.After(progressPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func buildReport(target string, findings []zapFinding) schema.ScanReport {
	summary := make(map[string]int)
	var critical []schema.VulnerabilityFinding

	for _, f := range findings {
		risk := f.Risk
		if risk == "" {
			risk = "Informational"
		}
		summary[risk]++

		if risk == riskHigh {
			critical = append(critical, schema.VulnerabilityFinding{
				Name:        f.Alert,
				URL:         f.URL,
				Param:       f.Param,
				Description: f.Description,
				Solution:    f.Solution,
				Reference:   f.Reference,
			})
		}
	}

	return schema.ScanReport{
		Timestamp:     time.Now().UTC(),
		TargetURL:     target,
		TotalFindings: len(findings),
		RiskSummary:   summary,
		Critical:      critical,
	}
}
