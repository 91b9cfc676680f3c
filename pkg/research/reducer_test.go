package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unknownAction struct{}

func (unknownAction) action() {}

func activity(msg string) ActivityItem {
	return ActivityItem{Kind: KindSearch, Status: StatusPending, Message: msg, Timestamp: "t1"}
}

func TestReduce(t *testing.T) {
	depth := 2
	withHistory := Reduce(Reduce(InitialState(), AddActivity{Item: activity("m0")}), AddSource{Item: SourceItem{URL: "https://z"}})

	tests := []struct {
		name    string
		initial ResearchState
		actions []Action
		check   func(t *testing.T, got ResearchState)
	}{
		{
			name:    "Toggle flips active twice",
			initial: InitialState(),
			actions: []Action{ToggleActive{}, ToggleActive{}, ToggleActive{}},
			check: func(t *testing.T, got ResearchState) {
				assert.True(t, got.Active)
			},
		},
		{
			name:    "SetActive overwrites",
			initial: InitialState(),
			actions: []Action{SetActive{Active: true}, SetActive{Active: false}},
			check: func(t *testing.T, got ResearchState) {
				assert.False(t, got.Active)
			},
		},
		{
			name:    "Duplicate activity message kept once",
			initial: InitialState(),
			actions: []Action{
				AddActivity{Item: activity("m1")},
				AddActivity{Item: ActivityItem{Kind: KindAnalyze, Status: StatusComplete, Message: "m1", Timestamp: "t2"}},
			},
			check: func(t *testing.T, got ResearchState) {
				require.Len(t, got.Activity, 1)
				assert.Equal(t, StatusPending, got.Activity[0].Status)
			},
		},
		{
			name:    "Duplicate activity still updates progress",
			initial: InitialState(),
			actions: []Action{
				AddActivity{Item: activity("m1")},
				AddActivity{Item: activity("m1"), Progress: &Progress{CompletedSteps: 2, TotalSteps: 5}},
			},
			check: func(t *testing.T, got ResearchState) {
				require.Len(t, got.Activity, 1)
				assert.Equal(t, "m1", got.Activity[0].Message)
				assert.Equal(t, 2, got.CompletedSteps)
				assert.Equal(t, 5, got.TotalExpectedSteps)
			},
		},
		{
			name:    "Activity order follows dispatch order",
			initial: InitialState(),
			actions: []Action{
				AddActivity{Item: activity("a")},
				AddActivity{Item: activity("b")},
				AddActivity{Item: activity("a")},
				AddActivity{Item: ActivityItem{Kind: KindThought, Status: StatusPending, Message: "c", Depth: &depth}},
			},
			check: func(t *testing.T, got ResearchState) {
				require.Len(t, got.Activity, 3)
				assert.Equal(t, []string{"a", "b", "c"}, []string{got.Activity[0].Message, got.Activity[1].Message, got.Activity[2].Message})
				require.NotNil(t, got.Activity[2].Depth)
				assert.Equal(t, 2, *got.Activity[2].Depth)
			},
		},
		{
			name:    "Duplicate source url is ignored",
			initial: InitialState(),
			actions: []Action{
				AddSource{Item: SourceItem{URL: "https://a", Title: "A", Relevance: 0.9}},
				AddSource{Item: SourceItem{URL: "https://a", Title: "A", Relevance: 0.9}},
			},
			check: func(t *testing.T, got ResearchState) {
				assert.Len(t, got.Sources, 1)
			},
		},
		{
			name:    "Sources keep order",
			initial: InitialState(),
			actions: []Action{
				AddSource{Item: SourceItem{URL: "https://b"}},
				AddSource{Item: SourceItem{URL: "https://a"}},
				AddSource{Item: SourceItem{URL: "https://b"}},
			},
			check: func(t *testing.T, got ResearchState) {
				require.Len(t, got.Sources, 2)
				assert.Equal(t, "https://b", got.Sources[0].URL)
				assert.Equal(t, "https://a", got.Sources[1].URL)
			},
		},
		{
			name:    "SetDepth overwrites both fields",
			initial: InitialState(),
			actions: []Action{SetDepth{Current: 4, Max: 9}, SetDepth{Current: 1, Max: 3}},
			check: func(t *testing.T, got ResearchState) {
				assert.Equal(t, 1, got.CurrentDepth)
				assert.Equal(t, 3, got.MaxDepth)
			},
		},
		{
			name:    "InitProgress then UpdateProgress",
			initial: InitialState(),
			actions: []Action{UpdateProgress{Completed: 7, Total: 8}, InitProgress{MaxDepth: 3, TotalSteps: 10}, UpdateProgress{Completed: 4, Total: 10}},
			check: func(t *testing.T, got ResearchState) {
				assert.Equal(t, 3, got.MaxDepth)
				assert.Equal(t, 4, got.CompletedSteps)
				assert.Equal(t, 10, got.TotalExpectedSteps)
			},
		},
		{
			name:    "InitProgress resets completed steps",
			initial: InitialState(),
			actions: []Action{UpdateProgress{Completed: 7, Total: 8}, InitProgress{MaxDepth: 2, TotalSteps: 6}},
			check: func(t *testing.T, got ResearchState) {
				assert.Equal(t, 0, got.CompletedSteps)
				assert.Equal(t, 6, got.TotalExpectedSteps)
			},
		},
		{
			name:    "Clear restores initial state",
			initial: withHistory,
			actions: []Action{SetActive{Active: true}, SetDepth{Current: 2, Max: 5}, UpdateProgress{Completed: 1, Total: 9}, Clear{}},
			check: func(t *testing.T, got ResearchState) {
				assert.Equal(t, InitialState(), got)
			},
		},
		{
			name:    "Unknown action is a no-op",
			initial: withHistory,
			actions: []Action{unknownAction{}, nil},
			check: func(t *testing.T, got ResearchState) {
				assert.Equal(t, withHistory, got)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.initial
			for _, a := range tt.actions {
				got = Reduce(got, a)
			}
			tt.check(t, got)
		})
	}
}

func TestReduceDoesNotAliasPreviousSnapshot(t *testing.T) {
	first := Reduce(InitialState(), AddActivity{Item: activity("a")})
	second := Reduce(first, AddActivity{Item: activity("b")})
	third := Reduce(first, AddActivity{Item: activity("c")})

	require.Len(t, first.Activity, 1)
	require.Len(t, second.Activity, 2)
	require.Len(t, third.Activity, 2)
	assert.Equal(t, "b", second.Activity[1].Message)
	assert.Equal(t, "c", third.Activity[1].Message)
}

func TestDuplicateSourceReturnsSameSequence(t *testing.T) {
	state := Reduce(InitialState(), AddSource{Item: SourceItem{URL: "https://a"}})
	next := Reduce(state, AddSource{Item: SourceItem{URL: "https://a", Title: "other"}})

	assert.Equal(t, state, next)
	assert.Same(t, &state.Sources[0], &next.Sources[0])
}
