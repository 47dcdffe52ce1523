// Package runtime wraps the container runtime behind a small interface the
// Monitor and Responder consume. The concrete client speaks to the Docker
// daemon; daemon-level protection (circuit breaker, rate limiter) wraps any
// implementation.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hemostat/hemostat/internal/schema"
)

var errNotFound = errors.New("no such container")

// ContainerInfo is one row of a container listing.
type ContainerInfo struct {
	ID     string
	Name   string
	Image  string
	Status schema.ContainerStatus
	Labels map[string]string
}

// InspectInfo is the detail view of one container.
type InspectInfo struct {
	ID           string
	Name         string
	Image        string
	Status       schema.ContainerStatus
	Health       schema.HealthStatus
	ExitCode     int
	RestartCount int
	StartedAt    time.Time
	Labels       map[string]string
}

// StatsSnapshot is one cumulative stats reading. CPU percent requires two
// consecutive snapshots; the caller owns that bookkeeping.
type StatsSnapshot struct {
	CPUTotal           uint64
	SystemCPU          uint64
	OnlineCPUs         uint32
	MemoryUsage        uint64
	MemoryInactiveFile uint64
	MemoryLimit        uint64
	NetRxBytes         uint64
	NetTxBytes         uint64
	BlkioReadBytes     uint64
	BlkioWriteBytes    uint64
	ReadAt             time.Time
}

// ExecResult is the captured output of an exec action.
type ExecResult struct {
	ExitCode int
	Output   string
}

// Runtime is the container-runtime surface the agents depend on.
type Runtime interface {
	Ping(ctx context.Context) error
	ListContainers(ctx context.Context, all bool) ([]ContainerInfo, error)
	Inspect(ctx context.Context, nameOrID string) (InspectInfo, error)
	Stats(ctx context.Context, id string) (StatsSnapshot, error)
	Restart(ctx context.Context, nameOrID string, stopTimeoutSeconds int) error
	Exec(ctx context.Context, nameOrID string, cmd []string) (ExecResult, error)
	Remove(ctx context.Context, nameOrID string, force bool) error
	Close() error
}

// OperationError wraps a runtime failure with the operation and container it
// hit.
type OperationError struct {
	Op        string
	Container string
	Err       error
}

func (e *OperationError) Error() string {
	if e.Container == "" {
		return fmt.Sprintf("runtime %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("runtime %s %s: %v", e.Op, e.Container, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// RateLimitError signals the per-minute action budget is exhausted.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %v", e.RetryAfter)
}

// BreakerOpenError signals the daemon circuit breaker is open.
type BreakerOpenError struct{}

func (e *BreakerOpenError) Error() string {
	return "runtime circuit breaker open"
}
