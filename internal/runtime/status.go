package runtime

import (
	"strings"

	"github.com/hemostat/hemostat/internal/schema"
)

// mapContainerState normalizes a daemon state string to the shared status
// vocabulary.
func mapContainerState(s string) schema.ContainerStatus {
	switch strings.ToLower(s) {
	case "running":
		return schema.StatusRunning
	case "exited":
		return schema.StatusExited
	case "restarting":
		return schema.StatusRestarting
	case "paused":
		return schema.StatusPaused
	case "dead":
		return schema.StatusDead
	default:
		return schema.StatusUnknown
	}
}

// mapHealthStatus normalizes a healthcheck status string.
func mapHealthStatus(s string) schema.HealthStatus {
	switch strings.ToLower(s) {
	case "healthy":
		return schema.HealthHealthy
	case "unhealthy":
		return schema.HealthUnhealthy
	case "starting":
		return schema.HealthStarting
	default:
		return schema.HealthNone
	}
}
