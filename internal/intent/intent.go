// Package intent classifies chat messages into a closed set of planner actions.
package intent

import "fmt"

// Intent is the action a user message asks for.
type Intent string

const (
	GeneralChat      Intent = "general_chat"
	ScheduleEvent    Intent = "schedule_event"
	CreateEvent      Intent = "create_event"
	CreateSchedule   Intent = "create_schedule"
	EditEvent        Intent = "edit_event"
	DeleteEvent      Intent = "delete_event"
	DeleteAllEvents  Intent = "delete_all_events"
	DeleteWeekEvents Intent = "delete_week_events"
	ListEvents       Intent = "list_events"
	AnalyzeProgress  Intent = "analyze_progress"
)

var all = []Intent{
	GeneralChat,
	ScheduleEvent,
	CreateEvent,
	CreateSchedule,
	EditEvent,
	DeleteEvent,
	DeleteAllEvents,
	DeleteWeekEvents,
	ListEvents,
	AnalyzeProgress,
}

// All returns every intent in declaration order.
func All() []Intent {
	out := make([]Intent, len(all))
	copy(out, all)
	return out
}

// Valid reports whether i is part of the vocabulary.
func (i Intent) Valid() bool {
	for _, v := range all {
		if v == i {
			return true
		}
	}
	return false
}

func (i Intent) String() string { return string(i) }

// IsMutation reports whether handling i changes stored events.
func (i Intent) IsMutation() bool {
	switch i {
	case CreateEvent, CreateSchedule, EditEvent, DeleteEvent, DeleteAllEvents, DeleteWeekEvents:
		return true
	default:
		return false
	}
}

// Parse validates s as an intent name.
func Parse(s string) (Intent, error) {
	i := Intent(s)
	if !i.Valid() {
		return "", fmt.Errorf("unknown intent %q", s)
	}
	return i, nil
}
