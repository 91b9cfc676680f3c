package research

// Action is a closed set of state transitions understood by Reduce
type Action interface {
	action()
}

type (
	// ToggleActive flips the active flag
	ToggleActive struct{}

	// SetActive sets the active flag
	SetActive struct {
		Active bool
	}

	// AddActivity appends Item unless an activity with the same message exists.
	// Progress, when set, overwrites the step counters in both cases.
	AddActivity struct {
		Item     ActivityItem
		Progress *Progress
	}

	// AddSource appends Item unless its URL is already known
	AddSource struct {
		Item SourceItem
	}

	SetDepth struct {
		Current int
		Max     int
	}

	// InitProgress starts a new progress cycle
	InitProgress struct {
		MaxDepth   int
		TotalSteps int
	}

	UpdateProgress struct {
		Completed int
		Total     int
	}

	// Clear resets the store to InitialState
	Clear struct{}
)

func (ToggleActive) action()   {}
func (SetActive) action()      {}
func (AddActivity) action()    {}
func (AddSource) action()      {}
func (SetDepth) action()       {}
func (InitProgress) action()   {}
func (UpdateProgress) action() {}
func (Clear) action()          {}

// Reduce maps (state, action) to the next state. It has no side effects.
// Actions it does not recognise return state unchanged.
func Reduce(state ResearchState, a Action) ResearchState {
	switch a := a.(type) {
	case ToggleActive:
		state.Active = !state.Active
		return state

	case SetActive:
		state.Active = a.Active
		return state

	case AddActivity:
		if !state.hasMessage(a.Item.Message) {
			state.Activity = appendActivity(state.Activity, a.Item)
		}
		if a.Progress != nil {
			state.CompletedSteps = a.Progress.CompletedSteps
			state.TotalExpectedSteps = a.Progress.TotalSteps
		}
		return state

	case AddSource:
		if state.hasSource(a.Item.URL) {
			return state
		}
		state.Sources = appendSource(state.Sources, a.Item)
		return state

	case SetDepth:
		state.CurrentDepth = a.Current
		state.MaxDepth = a.Max
		return state

	case InitProgress:
		state.MaxDepth = a.MaxDepth
		state.TotalExpectedSteps = a.TotalSteps
		state.CompletedSteps = 0
		return state

	case UpdateProgress:
		state.CompletedSteps = a.Completed
		state.TotalExpectedSteps = a.Total
		return state

	case Clear:
		return InitialState()

	default:
		return state
	}
}

// appendActivity copies into a fresh backing array so earlier snapshots never
// see a later append.
func appendActivity(items []ActivityItem, item ActivityItem) []ActivityItem {
	next := make([]ActivityItem, len(items), len(items)+1)
	copy(next, items)
	return append(next, item)
}

func appendSource(items []SourceItem, item SourceItem) []SourceItem {
	next := make([]SourceItem, len(items), len(items)+1)
	copy(next, items)
	return append(next, item)
}
