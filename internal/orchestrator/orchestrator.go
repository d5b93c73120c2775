// Package orchestrator drives one server's sync lifecycle:
// connect, download budget, enumerate accounts, per-account sync with
// retry, reconcile, disconnect. One bad account never aborts the run; a
// failed reconciliation always does.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/budgetd/internal/budget"
	"github.com/livinlefevreloca/budgetd/internal/retry"
)

// Orchestrator represents a single sync run against one server.
type Orchestrator struct {
	client  budget.Client
	server  Server
	policy  retry.Policy
	trigger Trigger
	logger  *slog.Logger

	phase Phase

	// Optional phase recorder for testing
	recorder *PhaseRecorder
}

// New creates an orchestrator for one run. The client must be fresh and
// unconnected; the orchestrator owns its full lifecycle including
// disconnect.
func New(client budget.Client, server Server, policy retry.Policy, trigger Trigger, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		client:  client,
		server:  server,
		policy:  policy,
		trigger: trigger,
		logger:  logger,
		phase:   PhaseInit,
	}
}

// Run executes the sync lifecycle and returns exactly one Outcome. It never
// returns an error: every failure mode is classified into the outcome.
func (o *Orchestrator) Run(ctx context.Context) *Outcome {
	started := time.Now()
	outcome := &Outcome{
		RunID:     uuid.NewString(),
		Server:    o.server.Name,
		Trigger:   o.trigger,
		Status:    StatusSuccess,
		StartedAt: started,
	}
	log := o.logger.With("server", o.server.Name, "run_id", outcome.RunID, "trigger", o.trigger)

	log.Info("sync run starting")

	defer func() {
		outcome.Duration = time.Since(started)
		o.transition(log, PhaseFinalized)
		log.Info("sync run finalized",
			"status", outcome.Status,
			"processed", outcome.AccountsProcessed,
			"succeeded", outcome.AccountsSucceeded,
			"failed", outcome.AccountsFailed,
			"duration", outcome.Duration)
	}()
	// Disconnect runs on every exit path, including a failed connect, and
	// survives shutdown cancellation.
	defer o.disconnect(ctx, log)

	// Connect is deliberately not retried: credential and endpoint
	// problems fail identically on every attempt, and transient network
	// problems surface again at the download step, which is retried.
	if err := o.client.Connect(ctx, o.server.URL, o.server.Password, o.server.DataDir); err != nil {
		o.fail(log, outcome, failPhaseInitialization, err)
		return outcome
	}
	o.transition(log, PhaseConnected)

	if err := o.downloadBudget(ctx, log); err != nil {
		o.fail(log, outcome, failPhaseDownload, err)
		return outcome
	}
	o.transition(log, PhaseBudgetLoaded)

	accounts, err := o.client.ListAccounts(ctx)
	if err != nil {
		o.fail(log, outcome, failPhaseEnumeration, err)
		return outcome
	}
	o.transition(log, PhaseAccountsEnumerated)

	o.syncAccounts(ctx, log, accounts, outcome)
	o.transition(log, PhaseAccountsSynced)

	// An unreconciled local state must never be reported as success, so a
	// reconciliation failure overrides any per-account progress.
	if _, err := retry.Do(ctx, log, o.policy, "reconcile", func() (struct{}, error) {
		return struct{}{}, o.client.Reconcile(ctx)
	}); err != nil {
		o.fail(log, outcome, failPhaseReconciliation, err)
		return outcome
	}

	switch {
	case outcome.AccountsFailed > 0 && outcome.AccountsSucceeded == 0:
		outcome.Status = StatusFailure
		outcome.FailedPhase = failPhaseAccountSync
		outcome.ErrorMessage = fmt.Sprintf("all %d accounts failed to sync", outcome.AccountsFailed)
	case outcome.AccountsFailed > 0:
		outcome.Status = StatusPartial
	default:
		outcome.Status = StatusSuccess
	}
	return outcome
}

// downloadBudget fetches the remote budget under the retry policy. An
// empty-string file password is treated identically to absent: no
// decryption credential is sent.
func (o *Orchestrator) downloadBudget(ctx context.Context, log *slog.Logger) error {
	var filePassword *string
	if o.server.FilePassword != "" {
		filePassword = &o.server.FilePassword
	}

	_, err := retry.Do(ctx, log, o.policy, "budget_download", func() (struct{}, error) {
		return struct{}{}, o.client.DownloadBudget(ctx, o.server.SyncID, filePassword)
	})
	return err
}

// syncAccounts runs each account's sync under the retry policy, isolating
// failures: a failed account is recorded and processing continues.
func (o *Orchestrator) syncAccounts(ctx context.Context, log *slog.Logger, accounts []budget.Account, outcome *Outcome) {
	for _, acct := range accounts {
		if acct.Closed {
			log.Debug("skipping closed account", "account", acct.Name)
			continue
		}

		outcome.AccountsProcessed++
		_, err := retry.Do(ctx, log, o.policy, "account_sync", func() (struct{}, error) {
			return struct{}{}, o.client.SyncAccount(ctx, acct.ID)
		})
		if err != nil {
			cerr := budget.Classify(err)
			outcome.AccountsFailed++
			outcome.Failed = append(outcome.Failed, AccountFailure{
				AccountID:   acct.ID,
				AccountName: acct.Name,
				Error:       cerr.Error(),
			})
			log.Error("account sync failed", "account", acct.Name, "error", cerr)
			continue
		}

		outcome.AccountsSucceeded++
		outcome.Succeeded = append(outcome.Succeeded, acct.Name)
		log.Debug("account synced", "account", acct.Name)
	}
}

// fail marks the outcome as a terminal failure of the given phase.
func (o *Orchestrator) fail(log *slog.Logger, outcome *Outcome, phase string, err error) {
	cerr := budget.Classify(err)

	outcome.Status = StatusFailure
	outcome.FailedPhase = phase
	outcome.ErrorMessage = cerr.Message
	outcome.ErrorCode = cerr.Code
	if outcome.ErrorCode == "" {
		outcome.ErrorCode = string(cerr.Kind)
	}

	log.Error("sync run failed", "phase", phase, "error", cerr)
}

// disconnect releases the client session. Its failure is logged, never
// propagated, and it still runs when ctx was cancelled by shutdown.
func (o *Orchestrator) disconnect(ctx context.Context, log *slog.Logger) {
	if err := o.client.Disconnect(context.WithoutCancel(ctx)); err != nil {
		log.Warn("disconnect failed", "error", err)
	}
}

// transition advances the lifecycle phase and logs it.
func (o *Orchestrator) transition(log *slog.Logger, next Phase) {
	prev := o.phase
	o.phase = next

	if o.recorder != nil {
		o.recorder.Record(next)
	}

	log.Debug("phase transition", "from", prev.String(), "to", next.String())
}
