package schedule

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/livinlefevreloca/budgetd/internal/testutil"
)

func TestBuildGroups_SharedExpression(t *testing.T) {
	entries := []Entry{
		{Server: "alpha", Expression: "0 3 * * *"},
		{Server: "beta", Expression: "0 3 * * *"},
		{Server: "gamma", Expression: "0 4 * * *"},
	}

	groups := BuildGroups(entries)

	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if !reflect.DeepEqual(groups[0].Servers, []string{"alpha", "beta"}) {
		t.Errorf("unexpected first group members: %v", groups[0].Servers)
	}
	if !reflect.DeepEqual(groups[1].Servers, []string{"gamma"}) {
		t.Errorf("unexpected second group members: %v", groups[1].Servers)
	}
}

// TestBuildGroups_ExactStringMatch verifies grouping compares raw
// expressions, not parsed semantics: "0 3 * * *" and "0 03 * * *" fire at
// the same minute but form separate groups.
func TestBuildGroups_ExactStringMatch(t *testing.T) {
	entries := []Entry{
		{Server: "alpha", Expression: "0 3 * * *"},
		{Server: "beta", Expression: "0 03 * * *"},
	}

	groups := BuildGroups(entries)
	if len(groups) != 2 {
		t.Errorf("expected equivalent-but-distinct expressions to stay separate, got %d groups", len(groups))
	}
}

func TestBuildGroups_FirstSeenOrder(t *testing.T) {
	entries := []Entry{
		{Server: "a", Expression: "0 4 * * *"},
		{Server: "b", Expression: "0 3 * * *"},
		{Server: "c", Expression: "0 4 * * *"},
		{Server: "d", Expression: "*/30 * * * *"},
	}

	groups := BuildGroups(entries)

	wantExprs := []string{"0 4 * * *", "0 3 * * *", "*/30 * * * *"}
	if len(groups) != len(wantExprs) {
		t.Fatalf("expected %d groups, got %d", len(wantExprs), len(groups))
	}
	for i, want := range wantExprs {
		if groups[i].Expression != want {
			t.Errorf("group %d: expected %q, got %q", i, want, groups[i].Expression)
		}
	}
	if !reflect.DeepEqual(groups[0].Servers, []string{"a", "c"}) {
		t.Errorf("unexpected members for %q: %v", groups[0].Expression, groups[0].Servers)
	}
}

func TestBuildGroups_Empty(t *testing.T) {
	if groups := BuildGroups(nil); len(groups) != 0 {
		t.Errorf("expected no groups, got %v", groups)
	}
}

func TestNewScheduler_RejectsBadExpression(t *testing.T) {
	groups := []Group{{Expression: "not a cron", Servers: []string{"a"}}}

	_, err := NewScheduler(groups, func(context.Context, Group) {}, testutil.NewTestLogger())
	if err == nil {
		t.Fatal("expected parse error at construction")
	}
}

func TestScheduler_Due(t *testing.T) {
	groups := BuildGroups([]Entry{
		{Server: "alpha", Expression: "0 3 * * *"},
		{Server: "beta", Expression: "0 3 * * *"},
		{Server: "gamma", Expression: "0 4 * * *"},
	})
	s, err := NewScheduler(groups, func(context.Context, Group) {}, testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	at3 := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	due := s.due(at3)
	if len(due) != 1 || due[0].Expression != "0 3 * * *" {
		t.Fatalf("expected only the 3am group, got %v", due)
	}
	if !reflect.DeepEqual(due[0].Servers, []string{"alpha", "beta"}) {
		t.Errorf("unexpected members: %v", due[0].Servers)
	}

	if due := s.due(time.Date(2026, 3, 14, 5, 0, 0, 0, time.UTC)); len(due) != 0 {
		t.Errorf("expected nothing due at 5am, got %v", due)
	}
}

func TestScheduler_NextFiring(t *testing.T) {
	groups := BuildGroups([]Entry{
		{Server: "alpha", Expression: "0 3 * * *"},
		{Server: "gamma", Expression: "0 4 * * *"},
	})
	s, err := NewScheduler(groups, func(context.Context, Group) {}, testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	after := time.Date(2026, 3, 14, 3, 30, 0, 0, time.UTC)
	next := s.NextFiring(after)
	want := time.Date(2026, 3, 14, 4, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s, err := NewScheduler(nil, func(context.Context, Group) {}, testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}
