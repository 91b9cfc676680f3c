package research

// ActivityKind classifies a logged research step
type ActivityKind string

const (
	KindSearch    ActivityKind = "search"
	KindExtract   ActivityKind = "extract"
	KindAnalyze   ActivityKind = "analyze"
	KindReasoning ActivityKind = "reasoning"
	KindSynthesis ActivityKind = "synthesis"
	KindThought   ActivityKind = "thought"
)

// ActivityStatus is the lifecycle state of a research step
type ActivityStatus string

const (
	StatusPending  ActivityStatus = "pending"
	StatusComplete ActivityStatus = "complete"
	StatusError    ActivityStatus = "error"
)

// ActivityItem is one step of the research process. Items are keyed by Message.
type ActivityItem struct {
	Kind      ActivityKind   `json:"type" validate:"required,oneof=search extract analyze reasoning synthesis thought"`
	Status    ActivityStatus `json:"status" validate:"required,oneof=pending complete error"`
	Message   string         `json:"message" validate:"required"`
	Timestamp string         `json:"timestamp"`
	Depth     *int           `json:"depth,omitempty"`
}

// SourceItem is a reference discovered during research, keyed by URL
type SourceItem struct {
	URL       string  `json:"url" validate:"required"`
	Title     string  `json:"title"`
	Relevance float64 `json:"relevance"`
}

// Progress carries the optional step counters attached to an activity
type Progress struct {
	CompletedSteps int `json:"completedSteps"`
	TotalSteps     int `json:"totalSteps"`
}

// ResearchState is the snapshot held by a Store.
// Treat it as immutable: every transition produces a new value.
type ResearchState struct {
	Active             bool           `json:"isActive"`
	Activity           []ActivityItem `json:"activity"`
	Sources            []SourceItem   `json:"sources"`
	CurrentDepth       int            `json:"currentDepth"`
	MaxDepth           int            `json:"maxDepth"`
	CompletedSteps     int            `json:"completedSteps"`
	TotalExpectedSteps int            `json:"totalExpectedSteps"`
}

// InitialState returns the empty state a new store starts with
func InitialState() ResearchState {
	return ResearchState{
		Activity: []ActivityItem{},
		Sources:  []SourceItem{},
	}
}

// HasContent reports whether a panel has anything to render
func (s ResearchState) HasContent() bool {
	return len(s.Activity) > 0 || len(s.Sources) > 0
}

func (s ResearchState) hasMessage(message string) bool {
	for _, item := range s.Activity {
		if item.Message == message {
			return true
		}
	}
	return false
}

func (s ResearchState) hasSource(url string) bool {
	for _, src := range s.Sources {
		if src.URL == url {
			return true
		}
	}
	return false
}
