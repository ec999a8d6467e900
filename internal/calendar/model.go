package calendar

import "time"

// EventTime carries exactly one of DateTime (timed event) or Date (all-day).
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

// Attendee is one invitee on an event.
type Attendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName,omitempty"`
	ResponseStatus string `json:"responseStatus"`
}

// Event is the normalized calendar event shape exposed to the dashboard.
type Event struct {
	ID          string     `json:"id"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       EventTime  `json:"start"`
	End         EventTime  `json:"end"`
	Location    string     `json:"location,omitempty"`
	Attendees   []Attendee `json:"attendees,omitempty"`
}

// ListQuery describes a provider events.list call.
type ListQuery struct {
	TimeMin      time.Time
	TimeMax      time.Time
	MaxResults   int
	SingleEvents bool
	ShowDeleted  bool
	OrderBy      string
}
