package monitor

import (
	"github.com/hemostat/hemostat/internal/schema"
)

// Thresholds are the anomaly gates for one detection pass.
type Thresholds struct {
	CPU          float64
	Memory       float64
	RestartCount int
}

// gradeThreshold grades a gauge against its threshold. Detection starts at
// 0.8x the threshold (medium), escalates to high above the threshold, and to
// critical above 95%.
func gradeThreshold(value, threshold float64) (schema.Severity, bool) {
	switch {
	case value > 95:
		return schema.SeverityCritical, true
	case value > threshold:
		return schema.SeverityHigh, true
	case value > 0.8*threshold:
		return schema.SeverityMedium, true
	default:
		return "", false
	}
}

// DetectAnomalies evaluates one sample against the thresholds. CPU anomalies
// require a valid two-sample reading; the first cycle after a container
// appears never produces high_cpu.
func DetectAnomalies(sample schema.ContainerSample, th Thresholds) []schema.Anomaly {
	var anomalies []schema.Anomaly

	if sample.CPUValid {
		if sev, ok := gradeThreshold(sample.Metrics.CPUPercent, th.CPU); ok {
			anomalies = append(anomalies, schema.Anomaly{
				Type:      schema.AnomalyHighCPU,
				Severity:  sev,
				Threshold: th.CPU,
				Actual:    sample.Metrics.CPUPercent,
			})
		}
	}

	if sev, ok := gradeThreshold(sample.Metrics.MemoryPercent, th.Memory); ok {
		anomalies = append(anomalies, schema.Anomaly{
			Type:      schema.AnomalyHighMemory,
			Severity:  sev,
			Threshold: th.Memory,
			Actual:    sample.Metrics.MemoryPercent,
		})
	}

	if sample.HealthStatus == schema.HealthUnhealthy {
		anomalies = append(anomalies, schema.Anomaly{
			Type:     schema.AnomalyUnhealthyStatus,
			Severity: schema.SeverityHigh,
		})
	}

	if sample.Status == schema.StatusExited && sample.ExitCode != 0 {
		anomalies = append(anomalies, schema.Anomaly{
			Type:     schema.AnomalyNonZeroExit,
			Severity: schema.SeverityHigh,
			Actual:   float64(sample.ExitCode),
		})
	}

	if sample.RestartCount > th.RestartCount {
		anomalies = append(anomalies, schema.Anomaly{
			Type:      schema.AnomalyExcessiveRestarts,
			Severity:  schema.SeverityMedium,
			Threshold: float64(th.RestartCount),
			Actual:    float64(sample.RestartCount),
		})
	}

	return anomalies
}
