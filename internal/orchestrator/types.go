package orchestrator

import "time"

// Server is one configured remote budgeting endpoint. Immutable for the
// process lifetime.
type Server struct {
	Name         string
	URL          string
	Password     string
	SyncID       string
	FilePassword string // optional second-stage decryption credential; "" means absent
	DataDir      string
}

// Trigger records what initiated a sync run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerStartup   Trigger = "startup"
)

// Status classifies a finished run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// AccountFailure is one account that could not be synced during a run.
type AccountFailure struct {
	AccountID   string
	AccountName string
	Error       string
}

// Outcome is the result of one sync run for one server. Exactly one is
// produced per Run invocation; it is not modified after Run returns.
type Outcome struct {
	RunID   string
	Server  string
	Trigger Trigger
	Status  Status

	AccountsProcessed int
	AccountsSucceeded int
	AccountsFailed    int
	Succeeded         []string
	Failed            []AccountFailure

	// Set when Status is failure: the phase that failed and the
	// classified error.
	FailedPhase  string
	ErrorCode    string
	ErrorMessage string

	StartedAt time.Time
	Duration  time.Duration
}

// Phase identifies where a run is in its lifecycle.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseConnected
	PhaseBudgetLoaded
	PhaseAccountsEnumerated
	PhaseAccountsSynced
	PhaseFinalized
)

// Phase names double as the FailedPhase values recorded on failure outcomes.
const (
	failPhaseInitialization = "initialization"
	failPhaseDownload       = "budget_download"
	failPhaseEnumeration    = "account_enumeration"
	failPhaseAccountSync    = "account_sync"
	failPhaseReconciliation = "reconciliation"
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseConnected:
		return "connected"
	case PhaseBudgetLoaded:
		return "budget_loaded"
	case PhaseAccountsEnumerated:
		return "accounts_enumerated"
	case PhaseAccountsSynced:
		return "accounts_synced"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// SetPhaseRecorder installs a recorder capturing every phase transition.
func (o *Orchestrator) SetPhaseRecorder(r *PhaseRecorder) {
	o.recorder = r
}

// PhaseRecorder captures the phase path of a run for tests.
type PhaseRecorder struct {
	path []string
}

func NewPhaseRecorder() *PhaseRecorder {
	return &PhaseRecorder{path: make([]string, 0)}
}

func (r *PhaseRecorder) Record(p Phase) {
	r.path = append(r.path, p.String())
}

func (r *PhaseRecorder) Path() []string {
	return r.path
}
