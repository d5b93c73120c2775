// Package schedule collapses server targets into the minimum set of cron
// jobs and drives their firing.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/livinlefevreloca/budgetd/internal/cron"
)

// Entry is one server target with its effective cron expression, already
// resolved from server override and global default.
type Entry struct {
	Server     string
	Expression string
}

// Group is the set of servers sharing one cron expression. Members run
// sequentially within one firing, in configuration order.
type Group struct {
	Expression string
	Servers    []string
}

// BuildGroups groups entries by exact string equality of the expression.
// Group order is first-seen order of each expression; member order is input
// order.
func BuildGroups(entries []Entry) []Group {
	var groups []Group
	index := make(map[string]int)

	for _, e := range entries {
		i, ok := index[e.Expression]
		if !ok {
			i = len(groups)
			index[e.Expression] = i
			groups = append(groups, Group{Expression: e.Expression})
		}
		groups[i].Servers = append(groups[i].Servers, e.Server)
	}
	return groups
}

// FireFunc runs one group firing. It is called synchronously from the
// scheduler loop; the single-worker model means a long firing delays the
// next tick rather than overlapping it.
type FireFunc func(ctx context.Context, g Group)

type scheduledGroup struct {
	group    Group
	schedule *cron.Schedule
}

// Scheduler fires schedule groups at minute precision.
type Scheduler struct {
	groups []scheduledGroup
	fire   FireFunc
	logger *slog.Logger
}

// NewScheduler parses every group's expression up front so a bad expression
// fails at startup, not at fire time.
func NewScheduler(groups []Group, fire FireFunc, logger *slog.Logger) (*Scheduler, error) {
	scheduled := make([]scheduledGroup, 0, len(groups))
	for _, g := range groups {
		sched, err := cron.Parse(g.Expression)
		if err != nil {
			return nil, fmt.Errorf("schedule group %q: %w", g.Expression, err)
		}
		scheduled = append(scheduled, scheduledGroup{group: g, schedule: sched})
	}

	return &Scheduler{
		groups: scheduled,
		fire:   fire,
		logger: logger,
	}, nil
}

// due returns the groups that fire at the given minute, in group order.
func (s *Scheduler) due(now time.Time) []Group {
	var out []Group
	for _, sg := range s.groups {
		if sg.schedule.Matches(now) {
			out = append(out, sg.group)
		}
	}
	return out
}

// NextFiring returns the earliest upcoming firing time across all groups,
// for status display. Zero time when no groups are configured.
func (s *Scheduler) NextFiring(after time.Time) time.Time {
	var next time.Time
	for _, sg := range s.groups {
		n := sg.schedule.Next(after)
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

// Run blocks until ctx is cancelled, firing due groups at each minute
// boundary. A firing that overruns its minute skips the minutes it missed;
// the overrun is logged.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "groups", len(s.groups))

	for {
		tick := time.Now().Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(time.Until(tick))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
		}

		for _, g := range s.due(tick) {
			s.logger.Info("firing schedule group",
				"expression", g.Expression,
				"servers", g.Servers)
			s.fire(ctx, g)
		}

		if late := time.Since(tick); late > time.Minute {
			s.logger.Warn("group firing overran its minute", "overrun", late)
		}
	}
}
