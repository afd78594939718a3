package store

import (
	"testing"

	"tracker-client/domain"
)

func TestCompletionRate(t *testing.T) {
	tests := []struct {
		completed, total, want int
	}{
		{0, 0, 0},
		{0, 4, 0},
		{1, 4, 25},
		{2, 4, 50},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 8, 13},
	}
	for _, tt := range tests {
		if got := CompletionRate(tt.completed, tt.total); got != tt.want {
			t.Fatalf("CompletionRate(%d, %d) = %d, want %d", tt.completed, tt.total, got, tt.want)
		}
	}
}

func TestAggregateCountsDoneTasks(t *testing.T) {
	tasks := []domain.Task{
		{ID: "t1", Status: domain.StatusDone},
		{ID: "t2", Status: domain.StatusTodo},
		{ID: "t3", Status: domain.StatusInProgress},
	}
	agg := Aggregate(tasks)
	want := domain.ProjectAggregate{TaskCount: 3, CompletedTaskCount: 1, CompletionRate: 33}
	if agg != want {
		t.Fatalf("Aggregate = %+v, want %+v", agg, want)
	}
	if got := Aggregate(nil); got != (domain.ProjectAggregate{}) {
		t.Fatalf("Aggregate(nil) = %+v, want zero", got)
	}
}
