package calendar

// EventDateTime 对应 Google Calendar EventDateTime：全天事件用 Date，否则 DateTime + TimeZone
type EventDateTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type ReminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type Reminders struct {
	UseDefault bool               `json:"useDefault"`
	Overrides  []ReminderOverride `json:"overrides,omitempty"`
}

// Event is the create-event payload accepted by the calendar MCP server.
type Event struct {
	Summary     string        `json:"summary"`
	Start       EventDateTime `json:"start"`
	End         EventDateTime `json:"end"`
	Description string        `json:"description,omitempty"`
	Location    string        `json:"location,omitempty"`
	Attendees   []string      `json:"attendees,omitempty"`
	Recurrence  []string      `json:"recurrence"`
	Reminders   *Reminders    `json:"reminders,omitempty"`
}
