package domain

// EventState is the completion state of one event occurrence.
// All events start at EventInitial and move only through store updates.
type EventState string

const (
	EventInitial      EventState = "initial"
	EventNotCompleted EventState = "not_completed"
	EventCompleted    EventState = "completed"
)

// ValidEventState reports whether s is one of the known states.
func ValidEventState(s EventState) bool {
	switch s {
	case EventInitial, EventNotCompleted, EventCompleted:
		return true
	}
	return false
}

// Event is one concrete occurrence of an activity on one calendar day.
// (Activity.Identifier, DaysSinceStart, OccurrenceIndex) is its unique key
// within a store; Date is derived from the activity's schedule start.
type Event struct {
	DaysSinceStart  int          `json:"days_since_start"`
	OccurrenceIndex int          `json:"occurrence_index"`
	Date            Date         `json:"date"`
	State           EventState   `json:"state"`
	Result          *EventResult `json:"result,omitempty"`
	Activity        Activity     `json:"activity"`
}

// EventResult is what the user reported for a completed event. It is
// immutable: replacing a result attaches a fresh value, never mutates the
// old one.
type EventResult struct {
	CreationDate string            `json:"creation_date" format:"date-time"`
	ValueString  string            `json:"value"`
	UnitString   string            `json:"unit,omitempty"`
	UserInfo     map[string]string `json:"user_info,omitempty"`
}
