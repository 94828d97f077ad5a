package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/seweryn-pilarska/email-reply/internal/llm"
	"github.com/seweryn-pilarska/email-reply/internal/model"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// MeetingInfoExtractor pulls meeting fields out of an email as strict JSON.
type MeetingInfoExtractor struct {
	client       llm.Client
	model        string
	systemPrompt string
}

func NewMeetingInfoExtractor(client llm.Client, modelName, systemPrompt string) *MeetingInfoExtractor {
	return &MeetingInfoExtractor{client: client, model: modelName, systemPrompt: systemPrompt}
}

// Extract returns *ExtractionFailure for any failure, including a failed
// text-generation call.
func (x *MeetingInfoExtractor) Extract(ctx context.Context, email string, referenceDate time.Time) (*model.MeetingInfo, error) {
	out, err := x.client.Complete(ctx, llm.Request{
		Purpose:     "extract",
		Model:       x.model,
		Temperature: 0,
		Messages:    messages(x.systemPrompt, extractPrompt(email, referenceDate)),
		JSONMode:    true,
	})
	if err != nil {
		return nil, &ExtractionFailure{Reason: "text generation failed", Err: err}
	}

	return ParseMeetingInfo(out)
}

// ParseMeetingInfo parses and validates a model response against the
// meeting schema.
func ParseMeetingInfo(raw string) (*model.MeetingInfo, error) {
	obj := llm.ExtractJSON(raw)
	if obj == "" {
		return nil, &ExtractionFailure{Reason: "response is not JSON"}
	}

	var info model.MeetingInfo
	dec := json.NewDecoder(strings.NewReader(obj))
	if err := dec.Decode(&info); err != nil {
		return nil, &ExtractionFailure{Reason: "invalid JSON", Err: err}
	}

	info.Summary = strings.TrimSpace(info.Summary)
	info.AttendeeEmail = strings.TrimSpace(info.AttendeeEmail)
	info.Date = strings.TrimSpace(info.Date)
	info.StartTime = strings.TrimSpace(info.StartTime)
	info.EndTime = strings.TrimSpace(info.EndTime)

	if err := validateMeetingInfo(info); err != nil {
		return nil, err
	}
	return &info, nil
}

// parseClock 只接受两位数的 HH:MM，"9:30" 会拼出非法的 RFC 3339 时间
func parseClock(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, err
	}
	if t.Format(timeLayout) != v {
		return time.Time{}, fmt.Errorf("time %q is not zero-padded HH:MM", v)
	}
	return t, nil
}

func validateMeetingInfo(info model.MeetingInfo) error {
	missing := func(field string) error {
		return &ExtractionFailure{Reason: fmt.Sprintf("missing %s", field)}
	}
	switch {
	case info.Summary == "":
		return missing("summary")
	case info.AttendeeEmail == "":
		return missing("attendee_email")
	case info.Date == "":
		return missing("date")
	case info.StartTime == "":
		return missing("start_time")
	case info.EndTime == "":
		return missing("end_time")
	}

	if _, err := mail.ParseAddress(info.AttendeeEmail); err != nil {
		return &ExtractionFailure{Reason: "invalid attendee_email", Err: err}
	}
	if _, err := time.Parse(dateLayout, info.Date); err != nil {
		return &ExtractionFailure{Reason: "date is not YYYY-MM-DD", Err: err}
	}
	start, err := parseClock(info.StartTime)
	if err != nil {
		return &ExtractionFailure{Reason: "start_time is not HH:MM", Err: err}
	}
	end, err := parseClock(info.EndTime)
	if err != nil {
		return &ExtractionFailure{Reason: "end_time is not HH:MM", Err: err}
	}
	if !end.After(start) {
		return &ExtractionFailure{Reason: "end_time is not after start_time"}
	}
	return nil
}
