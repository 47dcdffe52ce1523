package runtime

import (
	"context"
	"sync"
)

// FakeRuntime is an in-memory Runtime for tests and dry development. It
// mirrors the daemon surface: containers are keyed by both ID and name.
type FakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*FakeContainer
	stats      map[string]StatsSnapshot

	PingErr    error
	ListErr    error
	StatsErr   error
	RestartErr error
	ExecErr    error
	RemoveErr  error

	RestartCalls []string
	ExecCalls    [][]string
	RemoveCalls  []string
}

// FakeContainer is one fake container's state.
type FakeContainer struct {
	Info    InspectInfo
	ExecOut ExecResult
}

func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		containers: make(map[string]*FakeContainer),
		stats:      make(map[string]StatsSnapshot),
	}
}

// AddContainer registers a container under both its ID and name.
func (f *FakeRuntime) AddContainer(info InspectInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &FakeContainer{Info: info}
	f.containers[info.ID] = c
	if info.Name != "" {
		f.containers[info.Name] = c
	}
}

// RemoveContainerByKey drops a container from the fake daemon.
func (f *FakeRuntime) RemoveContainerByKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[key]; ok {
		delete(f.containers, c.Info.ID)
		delete(f.containers, c.Info.Name)
	}
}

// SetStats sets the next stats snapshot for a container ID.
func (f *FakeRuntime) SetStats(id string, snap StatsSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[id] = snap
}

// SetExecResult sets the exec output for a container.
func (f *FakeRuntime) SetExecResult(key string, res ExecResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[key]; ok {
		c.ExecOut = res
	}
}

func (f *FakeRuntime) Ping(ctx context.Context) error {
	return f.PingErr
}

func (f *FakeRuntime) ListContainers(ctx context.Context, all bool) ([]ContainerInfo, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]bool)
	var out []ContainerInfo
	for _, c := range f.containers {
		if seen[c.Info.ID] {
			continue
		}
		seen[c.Info.ID] = true
		if !all && c.Info.Status != "running" {
			continue
		}
		out = append(out, ContainerInfo{
			ID:     c.Info.ID,
			Name:   c.Info.Name,
			Image:  c.Info.Image,
			Status: c.Info.Status,
			Labels: c.Info.Labels,
		})
	}
	return out, nil
}

func (f *FakeRuntime) Inspect(ctx context.Context, nameOrID string) (InspectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[nameOrID]
	if !ok {
		return InspectInfo{}, &OperationError{Op: "inspect", Container: nameOrID, Err: errNotFound}
	}
	return c.Info, nil
}

func (f *FakeRuntime) Stats(ctx context.Context, id string) (StatsSnapshot, error) {
	if f.StatsErr != nil {
		return StatsSnapshot{}, f.StatsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.stats[id]
	if !ok {
		return StatsSnapshot{}, &OperationError{Op: "stats", Container: id, Err: errNotFound}
	}
	return snap, nil
}

func (f *FakeRuntime) Restart(ctx context.Context, nameOrID string, stopTimeoutSeconds int) error {
	f.mu.Lock()
	f.RestartCalls = append(f.RestartCalls, nameOrID)
	f.mu.Unlock()
	if f.RestartErr != nil {
		return f.RestartErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[nameOrID]; ok {
		c.Info.Status = "running"
		c.Info.RestartCount++
	}
	return nil
}

func (f *FakeRuntime) Exec(ctx context.Context, nameOrID string, cmd []string) (ExecResult, error) {
	f.mu.Lock()
	f.ExecCalls = append(f.ExecCalls, append([]string{nameOrID}, cmd...))
	f.mu.Unlock()
	if f.ExecErr != nil {
		return ExecResult{}, f.ExecErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[nameOrID]; ok {
		return c.ExecOut, nil
	}
	return ExecResult{}, &OperationError{Op: "exec", Container: nameOrID, Err: errNotFound}
}

func (f *FakeRuntime) Remove(ctx context.Context, nameOrID string, force bool) error {
	f.mu.Lock()
	f.RemoveCalls = append(f.RemoveCalls, nameOrID)
	f.mu.Unlock()
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	f.RemoveContainerByKey(nameOrID)
	return nil
}

func (f *FakeRuntime) Close() error { return nil }
