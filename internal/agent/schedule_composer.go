package agent

import (
	"context"
	"fmt"

	"github.com/seweryn-pilarska/email-reply/internal/calendar"
	"github.com/seweryn-pilarska/email-reply/internal/model"
)

// MeetingPolicy 排期策略常量：固定时区，不从输入推断
type MeetingPolicy struct {
	UTCOffset         string `yaml:"utc_offset"`
	TimeZone          string `yaml:"timezone"`
	Location          string `yaml:"location"`
	SendNotifications bool   `yaml:"send_notifications"`
}

// DefaultMeetingPolicy returns +02:00 / Europe/Warsaw, "Google Meet", with
// attendee notifications.
func DefaultMeetingPolicy() MeetingPolicy {
	return MeetingPolicy{
		UTCOffset:         "+02:00",
		TimeZone:          "Europe/Warsaw",
		Location:          "Google Meet",
		SendNotifications: true,
	}
}

// ScheduleReplyComposer creates the calendar event and turns the outcome into
// reply text. It never returns an error.
type ScheduleReplyComposer struct {
	client calendar.Client
	policy MeetingPolicy
}

func NewScheduleReplyComposer(client calendar.Client, policy MeetingPolicy) *ScheduleReplyComposer {
	return &ScheduleReplyComposer{client: client, policy: policy}
}

// BuildEvent maps extracted fields plus policy onto the calendar payload.
func (c *ScheduleReplyComposer) BuildEvent(email string, info model.MeetingInfo) calendar.Event {
	at := func(clock string) calendar.EventDateTime {
		return calendar.EventDateTime{
			DateTime: info.Date + "T" + clock + ":00" + c.policy.UTCOffset,
			TimeZone: c.policy.TimeZone,
		}
	}
	return calendar.Event{
		Summary:     info.Summary,
		Start:       at(info.StartTime),
		End:         at(info.EndTime),
		Description: "Scheduled from email:\n\n" + email,
		Location:    c.policy.Location,
		Attendees:   []string{info.AttendeeEmail},
		Recurrence:  []string{},
		Reminders:   &calendar.Reminders{UseDefault: true},
	}
}

func (c *ScheduleReplyComposer) Schedule(ctx context.Context, email string, info model.MeetingInfo) (reply string, outcome model.ScheduleOutcome) {
	// 日历客户端 panic 也转为失败回复
	defer func() {
		if r := recover(); r != nil {
			outcome = model.ScheduleOutcome{Reason: fmt.Sprintf("unexpected error: %v", r)}
			reply = schedulingFailedReply(outcome.Reason)
		}
	}()

	created, err := c.client.CreateEvent(ctx, c.BuildEvent(email, info), c.policy.SendNotifications)
	if err != nil {
		outcome = model.ScheduleOutcome{Reason: err.Error()}
		return schedulingFailedReply(outcome.Reason), outcome
	}

	outcome = model.ScheduleOutcome{Created: true}
	if created != nil {
		outcome.EventID = created.ID
		outcome.Link = created.HTMLLink
	}
	return fmt.Sprintf("Meeting scheduled! \"%s\" on %s from %s to %s.",
		info.Summary, info.Date, info.StartTime, info.EndTime), outcome
}

func schedulingFailedReply(reason string) string {
	return "Failed to schedule meeting: " + reason
}
