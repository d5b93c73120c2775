// Package notify decides whether a sync outcome becomes an operator alert
// and fans permitted alerts out to the configured channels. Failure alerts
// are gated twice: thresholds (is this bad enough yet) and the rate gate
// (have we alerted too recently/too often).
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/livinlefevreloca/budgetd/internal/orchestrator"
)

// Suppression reasons reported on unsent dispatch results, so operators can
// distinguish "no alert because healthy" from "no alert because
// suppressed".
const (
	ReasonThresholdsNotExceeded = "thresholds_not_exceeded"
	ReasonRateLimitExceeded     = "rate_limit_exceeded"
	ReasonNoChannels            = "no_channels_configured"
)

// Message is the formatted notification handed to every channel sender.
type Message struct {
	Server    string
	RunID     string
	Status    orchestrator.Status
	Recovered bool
	Subject   string
	Body      string
}

// Sender delivers a message over one notification channel. Senders are
// mutually independent network calls.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// ChannelResult is one channel's delivery result.
type ChannelResult struct {
	Channel string
	OK      bool
	Error   string
}

// Result is the dispatch verdict for one outcome.
type Result struct {
	Sent     bool
	Reason   string
	Channels []ChannelResult
}

// Dispatcher consults the tracker and gate, then fans permitted messages
// out to every channel concurrently with independent failure capture.
type Dispatcher struct {
	tracker *Tracker
	gate    *Gate
	senders []Sender
	logger  *slog.Logger
}

func NewDispatcher(tracker *Tracker, gate *Gate, senders []Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		tracker: tracker,
		gate:    gate,
		senders: senders,
		logger:  logger,
	}
}

// Dispatch records the outcome against the tracker and delivers an alert
// when permitted. Success and partial outcomes always dispatch (operators
// want to see recoveries and degradations promptly); failures pass through
// thresholds and the rate gate first.
func (d *Dispatcher) Dispatch(ctx context.Context, outcome *orchestrator.Outcome) Result {
	server := outcome.Server

	switch outcome.Status {
	case orchestrator.StatusSuccess:
		// A success after recorded failures is a recovery; note it
		// before the record call resets the counter.
		recovered := d.tracker.Evaluate(server).ConsecutiveCount > 0
		d.tracker.Record(server, true)
		return d.fanOut(ctx, outcome, recovered)

	case orchestrator.StatusPartial:
		d.tracker.RecordSoft(server)
		return d.fanOut(ctx, outcome, false)

	default:
		d.tracker.Record(server, false)

		ev := d.tracker.Evaluate(server)
		if !ev.ShouldNotify {
			d.logger.Debug("notification suppressed",
				"server", server,
				"reason", ReasonThresholdsNotExceeded,
				"consecutive", ev.ConsecutiveCount,
				"failure_rate", ev.FailureRate)
			return Result{Reason: ReasonThresholdsNotExceeded}
		}
		if !d.gate.Allow(server) {
			d.logger.Info("notification suppressed",
				"server", server,
				"reason", ReasonRateLimitExceeded)
			return Result{Reason: ReasonRateLimitExceeded}
		}

		res := d.fanOut(ctx, outcome, false)
		if res.Sent {
			d.gate.MarkSent(server)
		}
		return res
	}
}

// fanOut delivers the message to every channel concurrently. A delivery
// failure on one channel is captured in its result but never blocks the
// others or flips the overall Sent status.
func (d *Dispatcher) fanOut(ctx context.Context, outcome *orchestrator.Outcome, recovered bool) Result {
	if len(d.senders) == 0 {
		return Result{Reason: ReasonNoChannels}
	}

	msg := formatMessage(outcome, recovered)
	results := make([]ChannelResult, len(d.senders))

	var wg sync.WaitGroup
	for i, sender := range d.senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := ChannelResult{Channel: sender.Name(), OK: true}
			if err := sender.Send(ctx, msg); err != nil {
				res.OK = false
				res.Error = err.Error()
				d.logger.Error("channel delivery failed",
					"channel", sender.Name(),
					"server", outcome.Server,
					"error", err)
			}
			results[i] = res
		}()
	}
	wg.Wait()

	return Result{Sent: true, Channels: results}
}

// formatMessage renders the plain-text alert body shared by all channels.
func formatMessage(outcome *orchestrator.Outcome, recovered bool) Message {
	var subject string
	switch {
	case recovered:
		subject = fmt.Sprintf("budget sync recovered: %s", outcome.Server)
	case outcome.Status == orchestrator.StatusSuccess:
		subject = fmt.Sprintf("budget sync succeeded: %s", outcome.Server)
	case outcome.Status == orchestrator.StatusPartial:
		subject = fmt.Sprintf("budget sync degraded: %s", outcome.Server)
	default:
		subject = fmt.Sprintf("budget sync failed: %s", outcome.Server)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", subject)
	fmt.Fprintf(&b, "run %s (%s), %d accounts processed, %d succeeded, %d failed, took %s\n",
		outcome.RunID, outcome.Trigger,
		outcome.AccountsProcessed, outcome.AccountsSucceeded, outcome.AccountsFailed,
		outcome.Duration.Round(time.Millisecond))
	for _, f := range outcome.Failed {
		fmt.Fprintf(&b, "  account %q: %s\n", f.AccountName, f.Error)
	}
	if outcome.Status == orchestrator.StatusFailure && outcome.ErrorMessage != "" {
		fmt.Fprintf(&b, "failed during %s: %s\n", outcome.FailedPhase, outcome.ErrorMessage)
	}

	return Message{
		Server:    outcome.Server,
		RunID:     outcome.RunID,
		Status:    outcome.Status,
		Recovered: recovered,
		Subject:   subject,
		Body:      b.String(),
	}
}
