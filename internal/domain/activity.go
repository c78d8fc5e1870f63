package domain

import "fmt"

// ActivityType classifies a care task.
type ActivityType string

const (
	// ActivityIntervention is a treatment task the patient acts on.
	ActivityIntervention ActivityType = "intervention"
	// ActivityAssessment is a measurement task that produces a result.
	ActivityAssessment ActivityType = "assessment"
	// ActivityReadOnly is informational and carries no completion.
	ActivityReadOnly ActivityType = "readonly"
)

// Activity is an immutable care task definition. Once added to a store only
// the schedule's end date can change. Thresholds holds one group per expected
// numeric result slot (occurrence index); adherence thresholds may appear in
// any group and are checked against the day's completed count.
type Activity struct {
	Identifier       string            `json:"identifier"`
	GroupIdentifier  string            `json:"group_identifier,omitempty"`
	Type             ActivityType      `json:"type"`
	Title            string            `json:"title"`
	Text             string            `json:"text,omitempty"`
	TintColor        string            `json:"tint_color,omitempty"`
	Instructions     string            `json:"instructions,omitempty"`
	Schedule         Schedule          `json:"schedule"`
	ResultResettable bool              `json:"result_resettable,omitempty"`
	Optional         bool              `json:"optional,omitempty"`
	Thresholds       [][]Threshold     `json:"thresholds,omitempty"`
	UserInfo         map[string]string `json:"user_info,omitempty"`
	CreatedAt        string            `json:"created_at,omitempty" format:"date-time"`
}

// NewIntervention builds a treatment activity.
func NewIntervention(identifier, title, text string, schedule Schedule) (Activity, error) {
	a := Activity{Identifier: identifier, Type: ActivityIntervention, Title: title, Text: text, Schedule: schedule}
	return a, a.Validate()
}

// NewAssessment builds a measurement activity with optional per-slot
// threshold groups.
func NewAssessment(identifier, title, text string, schedule Schedule, resultResettable bool, thresholds [][]Threshold) (Activity, error) {
	a := Activity{
		Identifier:       identifier,
		Type:             ActivityAssessment,
		Title:            title,
		Text:             text,
		Schedule:         schedule,
		ResultResettable: resultResettable,
		Thresholds:       thresholds,
	}
	return a, a.Validate()
}

// NewReadOnly builds an informational activity.
func NewReadOnly(identifier, title, text string, schedule Schedule) (Activity, error) {
	a := Activity{Identifier: identifier, Type: ActivityReadOnly, Title: title, Text: text, Schedule: schedule}
	return a, a.Validate()
}

// Validate checks structural invariants. Callers building Activity values
// directly are validated again when the activity is added to a store.
func (a Activity) Validate() error {
	if a.Identifier == "" {
		return fmt.Errorf("%w: activity identifier is required", ErrInvalidArgument)
	}
	switch a.Type {
	case ActivityIntervention, ActivityAssessment, ActivityReadOnly:
	default:
		return fmt.Errorf("%w: unknown activity type %q", ErrInvalidArgument, a.Type)
	}
	if a.Title == "" {
		return fmt.Errorf("%w: activity title is required", ErrInvalidArgument)
	}
	return a.Schedule.Validate()
}
