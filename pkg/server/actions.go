package server

import "github.com/mikeboe/hyperresearch/pkg/research"

// ActionRequest is the JSON form of a research action
type ActionRequest struct {
	Type string `json:"type" binding:"required"`

	Active   *bool                  `json:"active,omitempty"`
	Activity *research.ActivityItem `json:"activity,omitempty"`
	Source   *research.SourceItem   `json:"source,omitempty"`

	CompletedSteps *int `json:"completedSteps,omitempty"`
	TotalSteps     *int `json:"totalSteps,omitempty"`

	Current   int `json:"current"`
	Max       int `json:"max"`
	MaxDepth  int `json:"maxDepth"`
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Action converts the request into a reducer action. Requests it cannot map,
// including ones missing their payload, become nil, which the reducer ignores.
func (r ActionRequest) Action() research.Action {
	switch r.Type {
	case "toggle-active":
		return research.ToggleActive{}
	case "set-active":
		if r.Active == nil {
			return nil
		}
		return research.SetActive{Active: *r.Active}
	case "add-activity":
		if r.Activity == nil {
			return nil
		}
		a := research.AddActivity{Item: *r.Activity}
		if r.CompletedSteps != nil && r.TotalSteps != nil {
			a.Progress = &research.Progress{CompletedSteps: *r.CompletedSteps, TotalSteps: *r.TotalSteps}
		}
		return a
	case "add-source":
		if r.Source == nil {
			return nil
		}
		return research.AddSource{Item: *r.Source}
	case "set-depth":
		return research.SetDepth{Current: r.Current, Max: r.Max}
	case "init-progress":
		total := 0
		if r.TotalSteps != nil {
			total = *r.TotalSteps
		}
		return research.InitProgress{MaxDepth: r.MaxDepth, TotalSteps: total}
	case "update-progress":
		return research.UpdateProgress{Completed: r.Completed, Total: r.Total}
	case "clear":
		return research.Clear{}
	default:
		return nil
	}
}
