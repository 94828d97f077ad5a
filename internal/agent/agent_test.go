package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/internal/calendar"
	"github.com/seweryn-pilarska/email-reply/internal/llm"
	"github.com/seweryn-pilarska/email-reply/internal/model"
	"github.com/seweryn-pilarska/email-reply/pkg/circuitbreaker"
)

// fakeLLM answers by request purpose and records every call.
type fakeLLM struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if err := f.errs[req.Purpose]; err != nil {
		return "", err
	}
	return f.responses[req.Purpose], nil
}

func (f *fakeLLM) purposes() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Purpose)
	}
	return out
}

type fakeCalendar struct {
	created *calendar.Created
	err     error
	panic   bool
	events  []calendar.Event
	notify  []bool
}

func (f *fakeCalendar) CreateEvent(_ context.Context, event calendar.Event, send bool) (*calendar.Created, error) {
	f.events = append(f.events, event)
	f.notify = append(f.notify, send)
	if f.panic {
		panic("nil pointer in client")
	}
	return f.created, f.err
}

var fixedNow = time.Date(2025, 5, 12, 9, 0, 0, 0, time.UTC) // Monday

func newTestEngine(l llm.Client, c calendar.Client) *Engine {
	return NewEngine(l, c, Config{
		Model:            "gpt-4o-mini",
		ReplyTemperature: 0.5,
		SystemPrompt:     "You are an email assistant.",
		Meeting:          DefaultMeetingPolicy(),
	}, zap.NewNop(), WithClock(func() time.Time { return fixedNow }))
}

const meetingJSON = `{"summary":"Budget discussion","attendee_email":"anna@example.com","date":"2025-05-13","start_time":"10:00","end_time":"11:00"}`

func TestRoute(t *testing.T) {
	tests := []struct {
		intent model.Intent
		want   model.Handler
	}{
		{model.IntentScheduleMeeting, model.HandlerExtractMeetingInfo},
		{model.IntentComplaint, model.HandlerComplaintAgent},
		{model.IntentRescheduleMeeting, model.HandlerDefaultReplyAgent},
		{model.IntentOther, model.HandlerDefaultReplyAgent},
		{"", model.HandlerDefaultReplyAgent},
		{"garbage!!", model.HandlerDefaultReplyAgent},
		{"schedulemeeting", model.HandlerDefaultReplyAgent},
	}
	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			assert.Equal(t, tt.want, Route(tt.intent))
		})
	}
}

func TestRoute_AllKnownIntentsAreRouted(t *testing.T) {
	for _, intent := range model.Intents {
		h := Route(intent)
		switch intent {
		case model.IntentScheduleMeeting:
			assert.Equal(t, model.HandlerExtractMeetingInfo, h)
		case model.IntentComplaint:
			assert.Equal(t, model.HandlerComplaintAgent, h)
		default:
			assert.Equal(t, model.HandlerDefaultReplyAgent, h, intent)
		}
	}
}

func TestIntentClassifier_PromptAndTrim(t *testing.T) {
	f := &fakeLLM{responses: map[string]string{"classify": " Thanks \n"}}
	c := NewIntentClassifier(f, "gpt-4o-mini", "")

	intent, err := c.Classify(context.Background(), "Thank you!")
	require.NoError(t, err)
	assert.Equal(t, model.IntentThanks, intent)

	require.Len(t, f.calls, 1)
	req := f.calls[0]
	assert.Equal(t, float32(0), req.Temperature)
	require.Len(t, req.Messages, 1)
	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, `"Thank you!"`)
	assert.Contains(t, prompt, "- OutOfOffice\n")
	assert.True(t, strings.HasSuffix(prompt, "Respond with only the intent label."))
}

func TestParseMeetingInfo(t *testing.T) {
	info, err := ParseMeetingInfo("```json\n" + meetingJSON + "\n```")
	require.NoError(t, err)
	assert.Equal(t, model.MeetingInfo{
		Summary:       "Budget discussion",
		AttendeeEmail: "anna@example.com",
		Date:          "2025-05-13",
		StartTime:     "10:00",
		EndTime:       "11:00",
	}, *info)

	bad := []struct {
		name string
		raw  string
	}{
		{"not json", "Sure, let's meet tomorrow."},
		{"broken json", `{"summary": "x",`},
		{"missing field", `{"summary":"x","attendee_email":"a@b.c","date":"2025-05-13","start_time":"10:00"}`},
		{"bad date", `{"summary":"x","attendee_email":"a@b.c","date":"13/05/2025","start_time":"10:00","end_time":"11:00"}`},
		{"bad time", `{"summary":"x","attendee_email":"a@b.c","date":"2025-05-13","start_time":"10am","end_time":"11:00"}`},
		{"single digit hour", `{"summary":"x","attendee_email":"a@b.c","date":"2025-05-13","start_time":"9:30","end_time":"11:00"}`},
		{"single digit end hour", `{"summary":"x","attendee_email":"a@b.c","date":"2025-05-13","start_time":"08:00","end_time":"9:30"}`},
		{"end before start", `{"summary":"x","attendee_email":"a@b.c","date":"2025-05-13","start_time":"11:00","end_time":"10:00"}`},
		{"bad email", `{"summary":"x","attendee_email":"nobody","date":"2025-05-13","start_time":"10:00","end_time":"11:00"}`},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMeetingInfo(tt.raw)
			var failure *ExtractionFailure
			require.True(t, errors.As(err, &failure))
			assert.Equal(t, "Failed to extract meeting info. Please try rephrasing.", failure.Reply())
		})
	}
}

func TestMeetingInfoExtractor_PromptCarriesReferenceDate(t *testing.T) {
	f := &fakeLLM{responses: map[string]string{"extract": meetingJSON}}
	x := NewMeetingInfoExtractor(f, "gpt-4o-mini", "")

	_, err := x.Extract(context.Background(), "meet tomorrow", fixedNow)
	require.NoError(t, err)

	req := f.calls[0]
	assert.True(t, req.JSONMode)
	assert.Equal(t, float32(0), req.Temperature)
	assert.Contains(t, req.Messages[0].Content, "Today is 2025-05-12 (Monday).")
}

func TestScheduleReplyComposer_BuildEvent(t *testing.T) {
	c := NewScheduleReplyComposer(&fakeCalendar{}, DefaultMeetingPolicy())
	ev := c.BuildEvent("original email", model.MeetingInfo{
		Summary: "Sync", AttendeeEmail: "bob@example.com", Date: "2025-05-13", StartTime: "14:00", EndTime: "15:30",
	})

	assert.Equal(t, "2025-05-13T14:00:00+02:00", ev.Start.DateTime)
	assert.Equal(t, "2025-05-13T15:30:00+02:00", ev.End.DateTime)
	assert.Equal(t, "Europe/Warsaw", ev.Start.TimeZone)
	assert.Equal(t, []string{"bob@example.com"}, ev.Attendees)
	assert.Equal(t, "Google Meet", ev.Location)
	assert.Contains(t, ev.Description, "original email")
	assert.Empty(t, ev.Recurrence)
	assert.NotNil(t, ev.Recurrence)
	require.NotNil(t, ev.Reminders)
	assert.True(t, ev.Reminders.UseDefault)
}

func TestScheduleReplyComposer_Schedule(t *testing.T) {
	info := model.MeetingInfo{Summary: "Sync", AttendeeEmail: "bob@example.com", Date: "2025-05-13", StartTime: "14:00", EndTime: "15:00"}

	tests := []struct {
		name        string
		cal         *fakeCalendar
		wantCreated bool
		wantReply   string
		wantPrefix  string
	}{
		{
			name:        "created",
			cal:         &fakeCalendar{created: &calendar.Created{ID: "evt1"}},
			wantCreated: true,
			wantReply:   `Meeting scheduled! "Sync" on 2025-05-13 from 14:00 to 15:00.`,
		},
		{
			name:       "non-success status",
			cal:        &fakeCalendar{err: &calendar.StatusError{StatusCode: 500, Detail: "Failed to create event via Google API."}},
			wantPrefix: "Failed to schedule meeting: calendar returned status 500",
		},
		{
			name:       "timeout",
			cal:        &fakeCalendar{err: context.DeadlineExceeded},
			wantPrefix: "Failed to schedule meeting: context deadline exceeded",
		},
		{
			name:       "breaker open",
			cal:        &fakeCalendar{err: circuitbreaker.ErrCircuitBreakerOpen},
			wantPrefix: "Failed to schedule meeting: circuit breaker is open",
		},
		{
			name:       "panic",
			cal:        &fakeCalendar{panic: true},
			wantPrefix: "Failed to schedule meeting: unexpected error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewScheduleReplyComposer(tt.cal, DefaultMeetingPolicy())
			reply, outcome := c.Schedule(context.Background(), "email", info)

			assert.NotEmpty(t, reply)
			assert.Equal(t, tt.wantCreated, outcome.Created)
			if tt.wantReply != "" {
				assert.Equal(t, tt.wantReply, reply)
				assert.Equal(t, "evt1", outcome.EventID)
			} else {
				assert.True(t, strings.HasPrefix(reply, tt.wantPrefix), reply)
				assert.NotEmpty(t, outcome.Reason)
			}
			assert.Equal(t, []bool{true}, tt.cal.notify)
		})
	}
}

func TestReplyGenerators(t *testing.T) {
	f := &fakeLLM{responses: map[string]string{"complaint": "We apologise.", "reply": "Noted."}}

	out, err := NewComplaintReplyGenerator(f, "m", 0.5, "").Generate(context.Background(), "This is unacceptable", model.IntentComplaint)
	require.NoError(t, err)
	assert.Equal(t, "We apologise.", out)
	assert.Equal(t, "The user is upset. Write a professional, apologetic response.\nEmail: This is unacceptable", f.calls[0].Messages[0].Content)
	assert.Equal(t, float32(0.5), f.calls[0].Temperature)

	out, err = NewDefaultReplyGenerator(f, "m", 0.5, "").Generate(context.Background(), "FYI", model.IntentGeneralInfo)
	require.NoError(t, err)
	assert.Equal(t, "Noted.", out)
	assert.Equal(t, "Write a professional reply. Intent: GeneralInfo\nEmail: FYI", f.calls[1].Messages[0].Content)
}

func TestReplyGenerator_EmptyCompletionIsFailure(t *testing.T) {
	f := &fakeLLM{responses: map[string]string{"reply": "   "}}
	_, err := NewDefaultReplyGenerator(f, "m", 0.5, "").Generate(context.Background(), "hi", model.IntentGreeting)
	assert.ErrorIs(t, err, llm.ErrEmptyCompletion)
}

// Scenario 1: meeting request is classified, extracted and scheduled.
func TestEngine_ScheduleMeetingEndToEnd(t *testing.T) {
	f := &fakeLLM{responses: map[string]string{"classify": "ScheduleMeeting", "extract": meetingJSON}}
	cal := &fakeCalendar{created: &calendar.Created{ID: "evt1", HTMLLink: "https://cal/evt1"}}

	state, err := newTestEngine(f, cal).Run(context.Background(), "Can we meet tomorrow at 10am to discuss the budget?")
	require.NoError(t, err)

	assert.Equal(t, model.IntentScheduleMeeting, state.Intent)
	assert.Equal(t, model.HandlerExtractMeetingInfo, state.Handler)
	assert.Contains(t, state.Reply, "Meeting scheduled!")
	assert.Contains(t, state.Reply, "2025-05-13")
	assert.Contains(t, state.Reply, "10:00")
	require.NotNil(t, state.Meeting)
	require.NotNil(t, state.Scheduling)
	assert.True(t, state.Scheduling.Created)
	assert.Equal(t, []model.Stage{
		model.StageStart, model.StageClassified, model.StageRouted,
		model.StageExtractingMeeting, model.StageSchedulingMeeting, model.StageTerminal,
	}, state.Stages)
	assert.Equal(t, []string{"classify", "extract"}, f.purposes())
	require.Len(t, cal.events, 1)
	assert.Equal(t, []string{"anna@example.com"}, cal.events[0].Attendees)

	// system prompt is prepended on every call
	for _, c := range f.calls {
		assert.Equal(t, llm.RoleSystem, c.Messages[0].Role)
	}
}

// Scenario 2: complaint goes to the complaint generator only.
func TestEngine_ComplaintEndToEnd(t *testing.T) {
	f := &fakeLLM{responses: map[string]string{"classify": "Complaint", "complaint": "We are very sorry for the delay."}}
	cal := &fakeCalendar{}

	state, err := newTestEngine(f, cal).Run(context.Background(), "My order is three weeks late. This is unacceptable.")
	require.NoError(t, err)

	assert.Equal(t, model.HandlerComplaintAgent, state.Handler)
	assert.Equal(t, "We are very sorry for the delay.", state.Reply)
	assert.Equal(t, []string{"classify", "complaint"}, f.purposes())
	assert.Empty(t, cal.events)
	assert.Nil(t, state.Meeting)
}

// Scenario 3: unparsable extraction short-circuits before the calendar.
func TestEngine_ExtractionFailureSkipsCalendar(t *testing.T) {
	f := &fakeLLM{responses: map[string]string{"classify": "ScheduleMeeting", "extract": "I could not find a date."}}
	cal := &fakeCalendar{}

	state, err := newTestEngine(f, cal).Run(context.Background(), "Let's meet sometime")
	require.NoError(t, err)

	assert.Equal(t, "Failed to extract meeting info. Please try rephrasing.", state.Reply)
	assert.Empty(t, cal.events)
	assert.Nil(t, state.Scheduling)
	assert.Equal(t, model.StageTerminal, state.Current())
	assert.NotContains(t, state.Stages, model.StageSchedulingMeeting)
}

func TestEngine_ExtractionTransportErrorIsRecovered(t *testing.T) {
	f := &fakeLLM{
		responses: map[string]string{"classify": "ScheduleMeeting"},
		errs:      map[string]error{"extract": context.DeadlineExceeded},
	}
	cal := &fakeCalendar{}

	state, err := newTestEngine(f, cal).Run(context.Background(), "meet at 10?")
	require.NoError(t, err)
	assert.Equal(t, ExtractionFallbackReply, state.Reply)
	assert.Empty(t, cal.events)
}

func TestEngine_SchedulingFailureStillReplies(t *testing.T) {
	f := &fakeLLM{responses: map[string]string{"classify": "ScheduleMeeting", "extract": meetingJSON}}
	cal := &fakeCalendar{err: &calendar.StatusError{StatusCode: 503, Detail: "credentials unavailable"}}

	state, err := newTestEngine(f, cal).Run(context.Background(), "meet tomorrow at 10")
	require.NoError(t, err)
	assert.Equal(t, "Failed to schedule meeting: calendar returned status 503: credentials unavailable", state.Reply)
	assert.False(t, state.Scheduling.Created)
}

func TestEngine_UnknownIntentGoesToDefault(t *testing.T) {
	f := &fakeLLM{responses: map[string]string{"classify": "Banana", "reply": "Thanks for reaching out."}}

	state, err := newTestEngine(f, &fakeCalendar{}).Run(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Equal(t, model.Intent("Banana"), state.Intent)
	assert.Equal(t, model.HandlerDefaultReplyAgent, state.Handler)
	assert.Contains(t, f.calls[1].Messages[1].Content, "Intent: Banana")
}

func TestEngine_ClassificationFailure(t *testing.T) {
	upstream := errors.New("401 unauthorized")
	f := &fakeLLM{errs: map[string]error{"classify": upstream}}

	state, err := newTestEngine(f, &fakeCalendar{}).Run(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClassification)
	assert.ErrorIs(t, err, upstream)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, model.StageClassified, se.Stage)
	assert.Empty(t, state.Reply)
	assert.Len(t, f.calls, 1)
}

func TestEngine_GenerationFailure(t *testing.T) {
	f := &fakeLLM{
		responses: map[string]string{"classify": "Complaint"},
		errs:      map[string]error{"complaint": llm.ErrEmptyCompletion},
	}

	state, err := newTestEngine(f, &fakeCalendar{}).Run(context.Background(), "terrible service")
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, llm.ErrEmptyCompletion)
	assert.Empty(t, state.Reply)
	assert.Equal(t, model.IntentComplaint, state.Intent)
}

func TestEngine_EmptyEmailMakesNoCalls(t *testing.T) {
	f := &fakeLLM{}
	cal := &fakeCalendar{}
	for _, in := range []string{"", "   \n\t"} {
		state, err := newTestEngine(f, cal).Run(context.Background(), in)
		assert.ErrorIs(t, err, ErrEmptyEmail)
		assert.Nil(t, state)
	}
	assert.Empty(t, f.calls)
	assert.Empty(t, cal.events)
}

func TestEngine_ConcurrentRunsAreIndependent(t *testing.T) {
	f := &fakeLLM{responses: map[string]string{"classify": "Thanks", "reply": "You're welcome."}}
	engine := newTestEngine(f, &fakeCalendar{})

	var wg sync.WaitGroup
	states := make([]*model.WorkflowState, 8)
	for i := range states {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := engine.Run(context.Background(), "thanks!")
			assert.NoError(t, err)
			states[i] = s
		}(i)
	}
	wg.Wait()

	for i, s := range states {
		require.NotNil(t, s)
		assert.Equal(t, "You're welcome.", s.Reply)
		for j := i + 1; j < len(states); j++ {
			assert.NotSame(t, s, states[j])
		}
	}
}
