package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	dockerclient "github.com/moby/moby/client"

	"github.com/hemostat/hemostat/internal/schema"
)

// DockerRuntime is the concrete Runtime backed by the Docker daemon.
type DockerRuntime struct {
	cli *dockerclient.Client
}

// NewDockerRuntime connects to the daemon from the environment and verifies
// it with a ping.
func NewDockerRuntime(ctx context.Context) (*DockerRuntime, error) {
	cli, err := dockerclient.New(dockerclient.WithAPIVersionNegotiation(), dockerclient.FromEnv)
	if err != nil {
		return nil, &OperationError{Op: "connect", Err: err}
	}

	if _, err := cli.Ping(ctx, dockerclient.PingOptions{NegotiateAPIVersion: true}); err != nil {
		return nil, &OperationError{Op: "ping", Err: err}
	}

	return &DockerRuntime{cli: cli}, nil
}

func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

func (d *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx, dockerclient.PingOptions{}); err != nil {
		return &OperationError{Op: "ping", Err: err}
	}
	return nil
}

func (d *DockerRuntime) ListContainers(ctx context.Context, all bool) ([]ContainerInfo, error) {
	result, err := d.cli.ContainerList(ctx, dockerclient.ContainerListOptions{All: all})
	if err != nil {
		return nil, &OperationError{Op: "list", Err: err}
	}

	infos := make([]ContainerInfo, 0, len(result.Items))
	for i := range result.Items {
		item := &result.Items[i]
		name := item.ID
		if len(item.Names) > 0 {
			name = strings.TrimPrefix(item.Names[0], "/")
		}
		infos = append(infos, ContainerInfo{
			ID:     item.ID,
			Name:   name,
			Image:  item.Image,
			Status: mapContainerState(string(item.State)),
			Labels: item.Labels,
		})
	}
	return infos, nil
}

func (d *DockerRuntime) Inspect(ctx context.Context, nameOrID string) (InspectInfo, error) {
	result, err := d.cli.ContainerInspect(ctx, nameOrID, dockerclient.ContainerInspectOptions{})
	if err != nil {
		return InspectInfo{}, &OperationError{Op: "inspect", Container: nameOrID, Err: err}
	}

	c := result.Container
	info := InspectInfo{
		ID:           c.ID,
		Name:         strings.TrimPrefix(c.Name, "/"),
		Status:       schema.StatusUnknown,
		Health:       schema.HealthNone,
		RestartCount: c.RestartCount,
	}
	if c.Config != nil {
		info.Image = c.Config.Image
		info.Labels = c.Config.Labels
	}
	if c.State != nil {
		info.Status = mapContainerState(string(c.State.Status))
		info.ExitCode = c.State.ExitCode
		if c.State.Health != nil {
			info.Health = mapHealthStatus(string(c.State.Health.Status))
		}
		if t, err := time.Parse(time.RFC3339Nano, c.State.StartedAt); err == nil {
			info.StartedAt = t
		}
	}
	return info, nil
}

func (d *DockerRuntime) Stats(ctx context.Context, id string) (StatsSnapshot, error) {
	result, err := d.cli.ContainerStats(ctx, id, dockerclient.ContainerStatsOptions{Stream: false})
	if err != nil {
		return StatsSnapshot{}, &OperationError{Op: "stats", Container: id, Err: err}
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return StatsSnapshot{}, &OperationError{Op: "stats", Container: id, Err: err}
	}

	var stats container.StatsResponse
	if err := json.Unmarshal(body, &stats); err != nil {
		return StatsSnapshot{}, &OperationError{Op: "stats", Container: id, Err: fmt.Errorf("decode: %w", err)}
	}

	snap := StatsSnapshot{
		CPUTotal:           stats.CPUStats.CPUUsage.TotalUsage,
		SystemCPU:          stats.CPUStats.SystemUsage,
		OnlineCPUs:         stats.CPUStats.OnlineCPUs,
		MemoryUsage:        stats.MemoryStats.Usage,
		MemoryInactiveFile: stats.MemoryStats.Stats["inactive_file"],
		MemoryLimit:        stats.MemoryStats.Limit,
		ReadAt:             stats.Read,
	}
	for _, net := range stats.Networks {
		snap.NetRxBytes += net.RxBytes
		snap.NetTxBytes += net.TxBytes
	}
	for _, entry := range stats.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(entry.Op) {
		case "read":
			snap.BlkioReadBytes += entry.Value
		case "write":
			snap.BlkioWriteBytes += entry.Value
		}
	}
	return snap, nil
}

func (d *DockerRuntime) Restart(ctx context.Context, nameOrID string, stopTimeoutSeconds int) error {
	timeout := stopTimeoutSeconds
	_, err := d.cli.ContainerRestart(ctx, nameOrID, dockerclient.ContainerRestartOptions{
		Timeout: &timeout,
	})
	if err != nil {
		return &OperationError{Op: "restart", Container: nameOrID, Err: err}
	}
	return nil
}

func (d *DockerRuntime) Exec(ctx context.Context, nameOrID string, cmd []string) (ExecResult, error) {
	created, err := d.cli.ExecCreate(ctx, nameOrID, dockerclient.ExecCreateOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, &OperationError{Op: "exec", Container: nameOrID, Err: err}
	}

	attach, err := d.cli.ExecAttach(ctx, created.ID, dockerclient.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, &OperationError{Op: "exec", Container: nameOrID, Err: err}
	}
	defer attach.Close()

	output, err := io.ReadAll(attach.Reader)
	if err != nil {
		return ExecResult{}, &OperationError{Op: "exec", Container: nameOrID, Err: err}
	}

	inspect, err := d.cli.ExecInspect(ctx, created.ID, dockerclient.ExecInspectOptions{})
	if err != nil {
		return ExecResult{}, &OperationError{Op: "exec", Container: nameOrID, Err: err}
	}

	return ExecResult{
		ExitCode: inspect.ExitCode,
		Output:   string(output),
	}, nil
}

func (d *DockerRuntime) Remove(ctx context.Context, nameOrID string, force bool) error {
	_, err := d.cli.ContainerRemove(ctx, nameOrID, dockerclient.ContainerRemoveOptions{Force: force})
	if err != nil {
		return &OperationError{Op: "remove", Container: nameOrID, Err: err}
	}
	return nil
}

// IsNotFound reports whether the error indicates a missing container.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such container") || strings.Contains(msg, "not found")
}
