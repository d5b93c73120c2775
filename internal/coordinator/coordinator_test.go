package coordinator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/budgetd/internal/budget"
	"github.com/livinlefevreloca/budgetd/internal/coordinator"
	"github.com/livinlefevreloca/budgetd/internal/events"
	"github.com/livinlefevreloca/budgetd/internal/notify"
	"github.com/livinlefevreloca/budgetd/internal/orchestrator"
	"github.com/livinlefevreloca/budgetd/internal/retry"
	"github.com/livinlefevreloca/budgetd/internal/schedule"
	"github.com/livinlefevreloca/budgetd/internal/testutil"
)

type fixture struct {
	coord   *coordinator.Coordinator
	history *testutil.MockHistory
	sender  *testutil.MockSender
	broker  *events.Broker

	mu      sync.Mutex
	clients []*testutil.MockBudgetClient
	script  func(*testutil.MockBudgetClient)
}

// newFixture builds a coordinator over mock collaborators. Each run gets a
// fresh mock client, scripted by f.script and retained in f.clients.
func newFixture(t *testing.T, targets ...coordinator.Target) *fixture {
	t.Helper()

	f := &fixture{
		history: testutil.NewMockHistory(),
		sender:  testutil.NewMockSender("log"),
		broker:  events.NewBroker(),
	}
	t.Cleanup(f.broker.Close)

	clock := testutil.NewMockClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	tracker := notify.NewTracker(notify.Thresholds{
		ConsecutiveFailures: 1,
		FailureRate:         2,
		RatePeriod:          30 * time.Minute,
	}, clock)
	gate := notify.NewGate(notify.GateConfig{MinInterval: 15 * time.Minute, MaxPerHour: 4}, clock)
	dispatcher := notify.NewDispatcher(tracker, gate, []notify.Sender{f.sender}, testutil.NewTestLogger())

	factory := func() budget.Client {
		f.mu.Lock()
		defer f.mu.Unlock()
		client := testutil.NewMockBudgetClient()
		if f.script != nil {
			f.script(client)
		}
		f.clients = append(f.clients, client)
		return client
	}

	f.coord = coordinator.New(targets, factory, dispatcher, tracker, gate,
		f.history, f.broker, testutil.NewTestLogger())
	return f
}

func target(name, schedule string) coordinator.Target {
	return coordinator.Target{
		Server: orchestrator.Server{
			Name:     name,
			URL:      "https://" + name + ".example.com",
			Password: "pw",
			SyncID:   "sync-" + name,
			DataDir:  "/tmp/" + name,
		},
		Policy:   retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond},
		Schedule: schedule,
	}
}

func TestEntries_ConfigurationOrder(t *testing.T) {
	f := newFixture(t, target("b", "0 3 * * *"), target("a", "0 4 * * *"))

	entries := f.coord.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, schedule.Entry{Server: "b", Expression: "0 3 * * *"}, entries[0])
	assert.Equal(t, schedule.Entry{Server: "a", Expression: "0 4 * * *"}, entries[1])
}

func TestRunNow_FeedsAllConsumers(t *testing.T) {
	f := newFixture(t, target("home", "0 3 * * *"))
	sub := f.broker.Subscribe()

	outcome, err := f.coord.RunNow(context.Background(), "home", orchestrator.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusSuccess, outcome.Status)
	assert.Equal(t, orchestrator.TriggerManual, outcome.Trigger)

	// History received the run and the dispatch result.
	require.Len(t, f.history.Runs(), 1)
	assert.Equal(t, outcome.RunID, f.history.Runs()[0].RunID)
	require.Len(t, f.history.Notifications(), 1)
	assert.True(t, f.history.Notifications()[0].Sent)

	// The success notification went out.
	require.Len(t, f.sender.Messages(), 1)
	assert.Equal(t, "home", f.sender.Messages()[0].Server)

	// Events were published: started, completed, notification sent.
	var types []events.Type
	for len(sub) > 0 {
		types = append(types, (<-sub).Type)
	}
	assert.Equal(t, []events.Type{
		events.TypeRunStarted,
		events.TypeRunCompleted,
		events.TypeNotificationSent,
	}, types)

	// Status reflects the run.
	statuses := f.coord.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, outcome.RunID, statuses[0].LastRun.RunID)
}

func TestRunNow_UnknownServer(t *testing.T) {
	f := newFixture(t, target("home", "0 3 * * *"))

	_, err := f.coord.RunNow(context.Background(), "nope", orchestrator.TriggerManual)
	assert.Error(t, err)
	assert.Empty(t, f.history.Runs())
}

func TestFireGroup_SequentialInGroupOrder(t *testing.T) {
	f := newFixture(t, target("a", "0 3 * * *"), target("b", "0 3 * * *"))

	f.coord.FireGroup(context.Background(), schedule.Group{
		Expression: "0 3 * * *",
		Servers:    []string{"a", "b"},
	})

	runs := f.history.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].Server)
	assert.Equal(t, "b", runs[1].Server)
	assert.Equal(t, orchestrator.TriggerScheduled, runs[0].Trigger)

	// Each member got its own fresh client.
	assert.Len(t, f.clients, 2)
}

func TestFireGroup_UnknownMemberSkipped(t *testing.T) {
	f := newFixture(t, target("a", "0 3 * * *"))

	f.coord.FireGroup(context.Background(), schedule.Group{
		Expression: "0 3 * * *",
		Servers:    []string{"ghost", "a"},
	})

	runs := f.history.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].Server)
}

func TestFireGroup_StopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, target("a", "0 3 * * *"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.coord.FireGroup(ctx, schedule.Group{Expression: "0 3 * * *", Servers: []string{"a"}})

	assert.Empty(t, f.history.Runs())
}

func TestRunAll_EveryServer(t *testing.T) {
	f := newFixture(t, target("a", "0 3 * * *"), target("b", "0 4 * * *"))

	f.coord.RunAll(context.Background(), orchestrator.TriggerStartup)

	runs := f.history.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, orchestrator.TriggerStartup, runs[0].Trigger)
}

func TestRunServer_HistoryFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t, target("home", "0 3 * * *"))
	f.history.SetWriteError(assert.AnError)

	outcome, err := f.coord.RunNow(context.Background(), "home", orchestrator.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusSuccess, outcome.Status)
	// Dispatch still happened despite the history write failing.
	assert.Len(t, f.sender.Messages(), 1)
}

func TestRunServer_FailureOutcomeTracked(t *testing.T) {
	f := newFixture(t, target("home", "0 3 * * *"))
	f.script = func(c *testutil.MockBudgetClient) {
		c.ConnectErrs = []error{budget.NewError(budget.KindAuth, "invalid-password", "bad credentials")}
	}

	outcome, err := f.coord.RunNow(context.Background(), "home", orchestrator.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusFailure, outcome.Status)

	statuses := f.coord.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, 1, statuses[0].Evaluation.ConsecutiveCount)
	// Threshold of 1 means the failure alerted immediately.
	assert.Equal(t, 1, statuses[0].AlertsLastHour)
}

func TestRunNow_SerializedPerServer(t *testing.T) {
	f := newFixture(t, target("home", "0 3 * * *"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.RunNow(context.Background(), "home", orchestrator.TriggerManual)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// All four runs completed and were recorded; the per-server lock
	// kept them from clobbering each other's client session.
	assert.Len(t, f.history.Runs(), 4)
	assert.Len(t, f.clients, 4)
}
