// Package agent provides the shared runtime the four agents are built on:
// broker connection lifecycle, per-channel subscription dispatch, envelope
// publishing, and signal-driven graceful shutdown.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/hemostat/hemostat/internal/broker"
	"github.com/hemostat/hemostat/internal/logger"
	"github.com/hemostat/hemostat/internal/schema"
)

// State is the agent lifecycle state.
type State string

const (
	StateStarting  State = "starting"
	StateConnected State = "connected"
	StateRunning   State = "running"
	StateDraining  State = "draining"
	StateStopped   State = "stopped"
)

type subscription struct {
	channel string
	handler broker.Handler
}

// Task is a long-running background job owned by an agent (e.g. the Monitor
// poll loop). Tasks must return when their context is cancelled.
type Task func(ctx context.Context)

// Agent is the shared runtime. Concrete agents register handlers and tasks,
// then call Run.
type Agent struct {
	name          string
	broker        *broker.Broker
	log           *logger.Logger
	drainDeadline time.Duration

	subs  []subscription
	tasks []Task

	mu    sync.Mutex
	state State
}

// New creates an agent runtime. The logger is scoped with the agent name.
func New(name string, b *broker.Broker, log *logger.Logger, drainDeadline time.Duration) *Agent {
	if drainDeadline <= 0 {
		drainDeadline = 10 * time.Second
	}
	return &Agent{
		name:          name,
		broker:        b,
		log:           log.With(logger.Field{Key: "agent", Value: name}),
		drainDeadline: drainDeadline,
		state:         StateStarting,
	}
}

// Name returns the agent name used as the envelope publisher.
func (a *Agent) Name() string { return a.name }

// Log returns the agent-scoped logger.
func (a *Agent) Log() *logger.Logger { return a.log }

// Broker returns the underlying broker for state helpers.
func (a *Agent) Broker() *broker.Broker { return a.broker }

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Handle registers a channel handler. Must be called before Run.
func (a *Agent) Handle(channel string, h broker.Handler) {
	a.subs = append(a.subs, subscription{channel: channel, handler: h})
}

// AddTask registers a background task started by Run.
func (a *Agent) AddTask(t Task) {
	a.tasks = append(a.tasks, t)
}

// Publish wraps the payload in an envelope and publishes it. Errors are
// logged and returned; publishing is fire-and-forget at-least-once.
func (a *Agent) Publish(ctx context.Context, channel, kind string, payload any) error {
	env, err := schema.NewEnvelope(a.name, kind, payload)
	if err != nil {
		a.log.Error("failed to build envelope", err,
			logger.Field{Key: "channel", Value: channel})
		return err
	}
	if err := a.broker.Publish(ctx, channel, env); err != nil {
		a.log.Warn("publish failed, message dropped",
			logger.Field{Key: "channel", Value: channel},
			logger.Field{Key: "error", Value: err.Error()})
		return err
	}
	return nil
}

// Run connects to the broker, starts subscriptions and tasks, and blocks
// until the context is cancelled. Shutdown stops consuming new messages,
// drains in-flight handlers to the drain deadline, then waits for tasks.
func (a *Agent) Run(ctx context.Context) error {
	a.setState(StateStarting)
	a.log.Info("agent starting")

	if err := a.broker.Connect(ctx); err != nil {
		return err
	}
	a.setState(StateConnected)

	var activeSubs []*broker.Subscription
	for _, s := range a.subs {
		activeSubs = append(activeSubs, a.broker.Subscribe(ctx, s.channel, s.handler))
		a.log.Debug("subscribed", logger.Field{Key: "channel", Value: s.channel})
	}

	// Tasks outlive the signal context: they are cancelled only after the
	// subscriptions have drained, so task-side cleanup (the Responder waiting
	// on in-flight actions) runs with a live context.
	taskCtx, cancelTasks := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	for _, t := range a.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			t(taskCtx)
		}(t)
	}

	a.setState(StateRunning)
	a.log.Info("agent running",
		logger.Field{Key: "channels", Value: len(activeSubs)},
		logger.Field{Key: "tasks", Value: len(a.tasks)})

	<-ctx.Done()

	a.setState(StateDraining)
	a.log.Info("agent draining",
		logger.Field{Key: "deadline", Value: a.drainDeadline.String()})

	if drained := broker.CloseAll(activeSubs, a.drainDeadline); !drained {
		a.log.Warn("drain deadline expired with handlers in flight")
	}

	cancelTasks()
	wg.Wait()

	a.setState(StateStopped)
	a.log.Info("agent stopped")
	return nil
}
