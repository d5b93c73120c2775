// Package testutil provides shared mocks for deterministic tests: a
// controllable clock, a scriptable budgeting client, and capture-only
// notification/history sinks.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/livinlefevreloca/budgetd/internal/budget"
	"github.com/livinlefevreloca/budgetd/internal/notify"
	"github.com/livinlefevreloca/budgetd/internal/orchestrator"
)

// NewTestLogger creates a quiet logger for tests.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Reduce noise in tests
	}))
}

// MockClock provides controllable time for testing
type MockClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// MockBudgetClient is a scriptable budget.Client. Error queues are
// consumed one entry per call; an exhausted queue means success, so a
// queue of two errors scripts "fail twice, then succeed".
type MockBudgetClient struct {
	mu sync.Mutex

	ConnectErrs    []error
	DownloadErrs   []error
	Accounts       []budget.Account
	ListErr        error
	SyncErrs       map[string][]error
	ReconcileErrs  []error
	DisconnectErrs []error

	ConnectCalls      int
	ConnectedURL      string
	ConnectedDataDir  string
	DownloadCalls     int
	DownloadPasswords []*string
	SyncCalls         map[string]int
	ReconcileCalls    int
	DisconnectCalls   int
}

func NewMockBudgetClient() *MockBudgetClient {
	return &MockBudgetClient{
		SyncErrs:  make(map[string][]error),
		SyncCalls: make(map[string]int),
	}
}

func (m *MockBudgetClient) Connect(_ context.Context, url, _, dataDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectCalls++
	m.ConnectedURL = url
	m.ConnectedDataDir = dataDir
	return pop(&m.ConnectErrs)
}

func (m *MockBudgetClient) DownloadBudget(_ context.Context, _ string, filePassword *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DownloadCalls++
	m.DownloadPasswords = append(m.DownloadPasswords, filePassword)
	return pop(&m.DownloadErrs)
}

func (m *MockBudgetClient) ListAccounts(_ context.Context) ([]budget.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Accounts, nil
}

func (m *MockBudgetClient) SyncAccount(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SyncCalls[accountID]++
	errs := m.SyncErrs[accountID]
	err := pop(&errs)
	m.SyncErrs[accountID] = errs
	return err
}

func (m *MockBudgetClient) Reconcile(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReconcileCalls++
	return pop(&m.ReconcileErrs)
}

func (m *MockBudgetClient) Disconnect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisconnectCalls++
	return pop(&m.DisconnectErrs)
}

// pop removes and returns the first queued error, or nil when exhausted.
func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// Repeat builds an error queue of n copies of err, for scripting
// permanently failing operations against a known retry budget.
func Repeat(err error, n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = err
	}
	return errs
}

// MockSender captures sent notifications for one channel.
type MockSender struct {
	mu       sync.Mutex
	name     string
	err      error
	messages []notify.Message
}

func NewMockSender(name string) *MockSender {
	return &MockSender{name: name}
}

func (m *MockSender) Name() string { return m.name }

func (m *MockSender) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockSender) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MockSender) Messages() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notify.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// MockHistory captures recorded outcomes and dispatch results.
type MockHistory struct {
	mu            sync.Mutex
	writeError    error
	runs          []*orchestrator.Outcome
	notifications []notify.Result
}

func NewMockHistory() *MockHistory {
	return &MockHistory{}
}

func (m *MockHistory) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeError = err
}

func (m *MockHistory) RecordRun(outcome *orchestrator.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeError != nil {
		return m.writeError
	}
	m.runs = append(m.runs, outcome)
	return nil
}

func (m *MockHistory) RecordNotification(_, _ string, result notify.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeError != nil {
		return m.writeError
	}
	m.notifications = append(m.notifications, result)
	return nil
}

func (m *MockHistory) Runs() []*orchestrator.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*orchestrator.Outcome, len(m.runs))
	copy(out, m.runs)
	return out
}

func (m *MockHistory) Notifications() []notify.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notify.Result, len(m.notifications))
	copy(out, m.notifications)
	return out
}
