package calendar

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleClient 直接调用 Google Calendar API v3
type GoogleClient struct {
	svc        *gcal.Service
	calendarID string
	guard      guarded
}

// NewGoogleClient builds the API service from calendar.credentials_file, or
// from application default credentials when it is empty. Extra options are
// appended last.
func NewGoogleClient(ctx context.Context, cfg Config, logger *zap.Logger, extra ...option.ClientOption) (*GoogleClient, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.URL != "" {
		opts = append(opts, option.WithEndpoint(cfg.URL))
	}
	opts = append(opts, extra...)

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	return &GoogleClient{
		svc:        svc,
		calendarID: cfg.calendarID(),
		guard:      newGuarded(ProviderGoogle, cfg, logger),
	}, nil
}

func (c *GoogleClient) CreateEvent(ctx context.Context, event Event, sendNotifications bool) (*Created, error) {
	return c.guard.create(ctx, event, func(ctx context.Context) (*Created, error) {
		sendUpdates := "none"
		if sendNotifications {
			sendUpdates = "all"
		}

		ev, err := c.svc.Events.Insert(c.calendarID, toGoogleEvent(event)).
			SendUpdates(sendUpdates).
			Context(ctx).
			Do()
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) {
				return nil, &StatusError{StatusCode: gerr.Code, Detail: gerr.Message}
			}
			return nil, err
		}

		return &Created{ID: ev.Id, HTMLLink: ev.HtmlLink, Status: ev.Status}, nil
	})
}

func toGoogleEvent(e Event) *gcal.Event {
	ev := &gcal.Event{
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Start:       toGoogleDateTime(e.Start),
		End:         toGoogleDateTime(e.End),
		Recurrence:  e.Recurrence,
	}
	for _, email := range e.Attendees {
		ev.Attendees = append(ev.Attendees, &gcal.EventAttendee{Email: email})
	}
	if e.Reminders != nil {
		ev.Reminders = &gcal.EventReminders{
			UseDefault:      e.Reminders.UseDefault,
			ForceSendFields: []string{"UseDefault"},
		}
		for _, o := range e.Reminders.Overrides {
			ev.Reminders.Overrides = append(ev.Reminders.Overrides, &gcal.EventReminder{
				Method:  o.Method,
				Minutes: int64(o.Minutes),
			})
		}
	}
	return ev
}

func toGoogleDateTime(d EventDateTime) *gcal.EventDateTime {
	return &gcal.EventDateTime{
		Date:     d.Date,
		DateTime: d.DateTime,
		TimeZone: d.TimeZone,
	}
}
