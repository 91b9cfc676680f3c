package research

import "sync"

// Store owns a ResearchState and applies actions to it one at a time.
// It plays the role of the provider: callers read snapshots through State and
// mutate only through Dispatch or the bound helpers.
type Store struct {
	mu    sync.Mutex
	state ResearchState
	subs  map[int]chan ResearchState
	next  int

	// OnStateUpdate, when set, is called with every snapshot that differs from
	// the previous one. It runs while the store is locked, so it must not
	// dispatch back into the store.
	OnStateUpdate func(state ResearchState)
}

func NewStore() *Store {
	return &Store{
		state: InitialState(),
		subs:  make(map[int]chan ResearchState),
	}
}

// NewStoreFrom restores a store from a persisted snapshot
func NewStoreFrom(state ResearchState) *Store {
	s := NewStore()
	if state.Activity == nil {
		state.Activity = []ActivityItem{}
	}
	if state.Sources == nil {
		state.Sources = []SourceItem{}
	}
	s.state = state
	return s
}

// State returns the current snapshot
func (s *Store) State() ResearchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies a to the current state and notifies observers if the
// state changed. It reports whether it did.
func (s *Store) Dispatch(a Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	next := Reduce(prev, a)
	if sameState(prev, next) {
		return false
	}
	s.state = next

	if s.OnStateUpdate != nil {
		s.OnStateUpdate(next)
	}
	for _, ch := range s.subs {
		publish(ch, next)
	}
	return true
}

// Subscribe returns a channel that receives snapshots after each change.
// Slow readers only see the latest snapshot. Call cancel to stop.
func (s *Store) Subscribe() (<-chan ResearchState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan ResearchState, 1)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *Store) ToggleActive() { s.Dispatch(ToggleActive{}) }

func (s *Store) SetActive(active bool) { s.Dispatch(SetActive{Active: active}) }

func (s *Store) AddActivity(item ActivityItem, progress *Progress) {
	s.Dispatch(AddActivity{Item: item, Progress: progress})
}

func (s *Store) AddSource(item SourceItem) { s.Dispatch(AddSource{Item: item}) }

func (s *Store) SetDepth(current, max int) {
	s.Dispatch(SetDepth{Current: current, Max: max})
}

func (s *Store) InitProgress(maxDepth, totalSteps int) {
	s.Dispatch(InitProgress{MaxDepth: maxDepth, TotalSteps: totalSteps})
}

func (s *Store) UpdateProgress(completed, total int) {
	s.Dispatch(UpdateProgress{Completed: completed, Total: total})
}

func (s *Store) Clear() { s.Dispatch(Clear{}) }

// publish replaces any undelivered snapshot with the newest one
func publish(ch chan ResearchState, state ResearchState) {
	select {
	case ch <- state:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- state:
	default:
	}
}

// sameState relies on sequences being append-only between clears, so equal
// lengths mean equal contents.
func sameState(a, b ResearchState) bool {
	return a.Active == b.Active &&
		a.CurrentDepth == b.CurrentDepth &&
		a.MaxDepth == b.MaxDepth &&
		a.CompletedSteps == b.CompletedSteps &&
		a.TotalExpectedSteps == b.TotalExpectedSteps &&
		len(a.Activity) == len(b.Activity) &&
		len(a.Sources) == len(b.Sources)
}
