package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hemostat/hemostat/internal/runtime"
	"github.com/hemostat/hemostat/internal/schema"
)

// execAllowlist is the safe diagnostic command set honored when
// enforce_exec_allowlist is on.
var execAllowlist = map[string]bool{
	"ps aux":  true,
	"ps":      true,
	"top":     true,
	"df":      true,
	"free":    true,
	"netstat": true,
	"ss":      true,
	"env":     true,
	"pwd":     true,
	"whoami":  true,
	"date":    true,
	"uptime":  true,
	"uname":   true,
}

// defaultExecCommand is used when a request asks for exec without naming a
// command.
var defaultExecCommand = []string{"ps", "aux"}

const (
	restartConvergenceWait = 30 * time.Second
	restartConvergencePoll = time.Second
	execOutputLimit        = 1000
)

// execution is the result of one actuation attempt.
type execution struct {
	result schema.Result
	err    error
	output string
}

// execute dispatches the action against the runtime. Callers have already
// bounded ctx with the action deadline.
func (r *Responder) execute(ctx context.Context, req schema.RemediationRequest) execution {
	switch req.Action {
	case schema.ActionRestart:
		return r.doRestart(ctx, req.Container)
	case schema.ActionScaleUp:
		// No orchestrator interface to ask for more replicas.
		return execution{result: schema.ResultNotApplicable, output: "no orchestrator available"}
	case schema.ActionCleanup:
		return r.doCleanup(ctx, req.Container)
	case schema.ActionExec:
		return r.doExec(ctx, req.Container, execCommand(req.Command))
	default:
		// Unreachable: unsupported actions are rejected before execution.
		return execution{result: schema.ResultFailed, err: fmt.Errorf("action %s not implemented", req.Action)}
	}
}

// doRestart restarts the container and waits for it to converge back to the
// running state.
func (r *Responder) doRestart(ctx context.Context, container string) execution {
	if err := r.rt.Restart(ctx, container, r.cfg.StopTimeoutSeconds); err != nil {
		return execution{result: schema.ResultFailed, err: err}
	}

	deadline := time.Now().Add(restartConvergenceWait)
	for {
		info, err := r.rt.Inspect(ctx, container)
		if err == nil && info.Status == schema.StatusRunning {
			return execution{result: schema.ResultSuccess}
		}
		if time.Now().After(deadline) {
			return execution{
				result: schema.ResultFailed,
				err:    fmt.Errorf("container did not reach running state after restart"),
			}
		}
		select {
		case <-ctx.Done():
			return execution{result: schema.ResultFailed, err: ctx.Err()}
		case <-time.After(restartConvergencePoll):
		}
	}
}

// doCleanup removes exited containers related to the target: same compose
// project and service labels, or the same image. Running containers are never
// touched.
func (r *Responder) doCleanup(ctx context.Context, container string) execution {
	target, err := r.rt.Inspect(ctx, container)
	if err != nil {
		return execution{result: schema.ResultFailed, err: err}
	}

	all, err := r.rt.ListContainers(ctx, true)
	if err != nil {
		return execution{result: schema.ResultFailed, err: err}
	}

	var removed []string
	for _, c := range all {
		if c.ID == target.ID || c.Status == schema.StatusRunning {
			continue
		}
		if c.Status != schema.StatusExited && c.Status != schema.StatusDead {
			continue
		}
		if !relatedContainer(target, c) {
			continue
		}
		if err := r.rt.Remove(ctx, c.ID, false); err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return execution{result: schema.ResultFailed, err: ctx.Err()}
			}
			continue
		}
		removed = append(removed, c.Name)
	}

	return execution{
		result: schema.ResultSuccess,
		output: fmt.Sprintf("removed %d exited containers: %s", len(removed), strings.Join(removed, ", ")),
	}
}

// relatedContainer decides whether a stopped container belongs to the same
// deployment unit as the target.
func relatedContainer(target runtime.InspectInfo, c runtime.ContainerInfo) bool {
	tProject := target.Labels["com.docker.compose.project"]
	tService := target.Labels["com.docker.compose.service"]
	if tProject != "" &&
		c.Labels["com.docker.compose.project"] == tProject &&
		c.Labels["com.docker.compose.service"] == tService {
		return true
	}
	return c.Image == target.Image
}

// execCommand resolves the command a request wants to run.
func execCommand(cmd []string) []string {
	if len(cmd) == 0 {
		return defaultExecCommand
	}
	return cmd
}

// execAllowed reports whether the command is on the diagnostic allowlist.
func execAllowed(cmd []string) bool {
	return execAllowlist[strings.Join(cmd, " ")]
}

// doExec runs a diagnostic command inside the container. The allowlist has
// already been checked during guarding. Output is truncated before it reaches
// the audit trail.
func (r *Responder) doExec(ctx context.Context, container string, cmd []string) execution {
	res, err := r.rt.Exec(ctx, container, cmd)
	if err != nil {
		return execution{result: schema.ResultFailed, err: err}
	}

	out := res.Output
	if len(out) > execOutputLimit {
		out = out[:execOutputLimit]
	}

	if res.ExitCode != 0 {
		return execution{
			result: schema.ResultFailed,
			err:    fmt.Errorf("command exited with code %d", res.ExitCode),
			output: out,
		}
	}
	return execution{result: schema.ResultSuccess, output: out}
}
