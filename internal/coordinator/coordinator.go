// Package coordinator ties the core together: it owns the schedule-group
// membership, serializes runs per server, and feeds every outcome to the
// dispatcher, the history store, the metrics collectors, and the event
// broker.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/livinlefevreloca/budgetd/internal/budget"
	"github.com/livinlefevreloca/budgetd/internal/events"
	"github.com/livinlefevreloca/budgetd/internal/metrics"
	"github.com/livinlefevreloca/budgetd/internal/notify"
	"github.com/livinlefevreloca/budgetd/internal/orchestrator"
	"github.com/livinlefevreloca/budgetd/internal/retry"
	"github.com/livinlefevreloca/budgetd/internal/schedule"
)

// Target is one fully resolved server target: connection parameters, retry
// policy, and effective cron expression.
type Target struct {
	Server   orchestrator.Server
	Policy   retry.Policy
	Schedule string
}

// History receives every outcome and dispatch result for persistence. It
// is never consulted for decisions; write failures are logged and the run
// proceeds.
type History interface {
	RecordRun(outcome *orchestrator.Outcome) error
	RecordNotification(server, runID string, result notify.Result) error
}

// ServerStatus is the operator-facing snapshot of one server.
type ServerStatus struct {
	Name           string
	Schedule       string
	LastRun        *orchestrator.Outcome
	Evaluation     notify.Evaluation
	AlertsLastHour int
}

// Coordinator owns the per-server locks and the last-outcome map. One
// instance exists per process; state is keyed by server name, never
// ambient.
type Coordinator struct {
	targets    map[string]Target
	order      []string
	factory    budget.ClientFactory
	dispatcher *notify.Dispatcher
	tracker    *notify.Tracker
	gate       *notify.Gate
	history    History
	broker     *events.Broker
	logger     *slog.Logger

	// locks serialize runs per server: a manual trigger for a server
	// whose scheduled run is in flight waits rather than racing it for
	// the working directory and tracker state.
	locks map[string]*sync.Mutex

	mu      sync.RWMutex
	lastRun map[string]*orchestrator.Outcome
}

func New(
	targets []Target,
	factory budget.ClientFactory,
	dispatcher *notify.Dispatcher,
	tracker *notify.Tracker,
	gate *notify.Gate,
	history History,
	broker *events.Broker,
	logger *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		targets:    make(map[string]Target, len(targets)),
		order:      make([]string, 0, len(targets)),
		factory:    factory,
		dispatcher: dispatcher,
		tracker:    tracker,
		gate:       gate,
		history:    history,
		broker:     broker,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex, len(targets)),
		lastRun:    make(map[string]*orchestrator.Outcome),
	}

	for _, t := range targets {
		c.targets[t.Server.Name] = t
		c.order = append(c.order, t.Server.Name)
		c.locks[t.Server.Name] = &sync.Mutex{}
	}
	return c
}

// Entries returns the (server, effective expression) pairs for the
// schedule grouper, in configuration order.
func (c *Coordinator) Entries() []schedule.Entry {
	entries := make([]schedule.Entry, 0, len(c.order))
	for _, name := range c.order {
		entries = append(entries, schedule.Entry{
			Server:     name,
			Expression: c.targets[name].Schedule,
		})
	}
	return entries
}

// FireGroup runs every member of a schedule group sequentially, in
// configuration order. The external budgeting client holds exclusive local
// working-directory state per invocation, so members never run
// concurrently within a firing.
func (c *Coordinator) FireGroup(ctx context.Context, g schedule.Group) {
	for _, name := range g.Servers {
		if ctx.Err() != nil {
			return
		}
		target, ok := c.targets[name]
		if !ok {
			c.logger.Error("schedule group references unknown server", "server", name)
			continue
		}
		c.runServer(ctx, target, orchestrator.TriggerScheduled)
	}
}

// RunNow triggers an immediate sync for one server. It runs concurrently
// with any in-progress scheduled firing for other servers but waits for
// the same server's run to finish.
func (c *Coordinator) RunNow(ctx context.Context, name string, trigger orchestrator.Trigger) (*orchestrator.Outcome, error) {
	target, ok := c.targets[name]
	if !ok {
		return nil, fmt.Errorf("unknown server %q", name)
	}
	return c.runServer(ctx, target, trigger), nil
}

// RunAll runs every configured server sequentially. Used for
// sync-on-start.
func (c *Coordinator) RunAll(ctx context.Context, trigger orchestrator.Trigger) {
	for _, name := range c.order {
		if ctx.Err() != nil {
			return
		}
		c.runServer(ctx, c.targets[name], trigger)
	}
}

// Status returns the operator snapshot for every server, in configuration
// order.
func (c *Coordinator) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(c.order))
	for _, name := range c.order {
		statuses = append(statuses, ServerStatus{
			Name:           name,
			Schedule:       c.targets[name].Schedule,
			LastRun:        c.lastRun[name],
			Evaluation:     c.tracker.Evaluate(name),
			AlertsLastHour: c.gate.SentInLastHour(name),
		})
	}
	return statuses
}

// runServer executes one full sync run under the server's lock and feeds
// the outcome to every consumer.
func (c *Coordinator) runServer(ctx context.Context, target Target, trigger orchestrator.Trigger) *orchestrator.Outcome {
	name := target.Server.Name

	lock := c.locks[name]
	lock.Lock()
	defer lock.Unlock()

	c.broker.Publish(events.TypeRunStarted, name, "sync run starting", map[string]string{
		"trigger": string(trigger),
	})

	orch := orchestrator.New(c.factory(), target.Server, target.Policy, trigger, c.logger)
	outcome := orch.Run(ctx)

	c.mu.Lock()
	c.lastRun[name] = outcome
	c.mu.Unlock()

	c.recordRunMetrics(outcome)
	c.broker.Publish(events.TypeRunCompleted, name, "sync run completed", map[string]string{
		"run_id":   outcome.RunID,
		"status":   string(outcome.Status),
		"duration": outcome.Duration.String(),
	})

	if c.history != nil {
		if err := c.history.RecordRun(outcome); err != nil {
			c.logger.Error("failed to record run history", "server", name, "run_id", outcome.RunID, "error", err)
		}
	}

	result := c.dispatcher.Dispatch(ctx, outcome)
	c.recordDispatchMetrics(name, result)

	if c.history != nil {
		if err := c.history.RecordNotification(name, outcome.RunID, result); err != nil {
			c.logger.Error("failed to record notification history", "server", name, "run_id", outcome.RunID, "error", err)
		}
	}

	if result.Sent {
		c.broker.Publish(events.TypeNotificationSent, name, "notification dispatched", map[string]string{
			"run_id": outcome.RunID,
		})
	} else if result.Reason != "" {
		c.broker.Publish(events.TypeNotificationSuppressed, name, "notification suppressed", map[string]string{
			"run_id": outcome.RunID,
			"reason": result.Reason,
		})
	}

	return outcome
}

func (c *Coordinator) recordRunMetrics(outcome *orchestrator.Outcome) {
	metrics.SyncRunsTotal.WithLabelValues(outcome.Server, string(outcome.Status)).Inc()
	metrics.SyncDuration.WithLabelValues(outcome.Server).Observe(outcome.Duration.Seconds())
	metrics.AccountSyncsTotal.WithLabelValues(outcome.Server, "success").Add(float64(outcome.AccountsSucceeded))
	metrics.AccountSyncsTotal.WithLabelValues(outcome.Server, "failure").Add(float64(outcome.AccountsFailed))
	metrics.LastRunTimestamp.WithLabelValues(outcome.Server).Set(float64(outcome.StartedAt.Unix()))
}

func (c *Coordinator) recordDispatchMetrics(server string, result notify.Result) {
	metrics.ConsecutiveFailures.WithLabelValues(server).Set(float64(c.tracker.Evaluate(server).ConsecutiveCount))

	if !result.Sent {
		if result.Reason != "" {
			metrics.NotificationsSuppressedTotal.WithLabelValues(result.Reason).Inc()
		}
		return
	}
	for _, ch := range result.Channels {
		outcome := "success"
		if !ch.OK {
			outcome = "failure"
		}
		metrics.NotificationsTotal.WithLabelValues(ch.Channel, outcome).Inc()
	}
}
