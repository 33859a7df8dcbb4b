package session

import (
	"fmt"

	"github.com/manash/timebooth/pkg/models"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingEraChoice
	StateViewing
)

var stateNames = map[State]string{
	StateIdle:              "idle",
	StateAwaitingEraChoice: "awaiting_era_choice",
	StateViewing:           "viewing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a point-in-time copy of the session for presentation. Nothing
// in it aliases controller state.
type Snapshot struct {
	State    State                   `json:"state"`
	Busy     bool                    `json:"busy"`
	Status   string                  `json:"status,omitempty"`
	Error    string                  `json:"error,omitempty"`
	HasPhoto bool                    `json:"hasPhoto"`
	Analysis *models.AnalysisResult  `json:"analysis,omitempty"`
	Current  *models.GeneratedImage  `json:"current,omitempty"`
	History  []models.GeneratedImage `json:"history"`
	Versions []models.GeneratedImage `json:"versions"`
}

func statusAnalyzing() string {
	return "Analyzing your photo…"
}

func statusTraveling(era models.Era) string {
	return "Traveling to " + era.String() + "… preparing your arrival."
}

func statusEditing() string {
	return "Applying your edits…"
}
