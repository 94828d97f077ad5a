package model

// Intent 邮件意图标签。分类器返回的未知标签原样保留。
type Intent string

const (
	IntentScheduleMeeting   Intent = "ScheduleMeeting"
	IntentRescheduleMeeting Intent = "RescheduleMeeting"
	IntentRequestUpdate     Intent = "RequestUpdate"
	IntentProvideUpdate     Intent = "ProvideUpdate"
	IntentQuestion          Intent = "Question"
	IntentComplaint         Intent = "Complaint"
	IntentGreeting          Intent = "Greeting"
	IntentThanks            Intent = "Thanks"
	IntentFollowUp          Intent = "FollowUp"
	IntentCancellation      Intent = "Cancellation"
	IntentTaskRequest       Intent = "TaskRequest"
	IntentTaskResponse      Intent = "TaskResponse"
	IntentOutOfOffice       Intent = "OutOfOffice"
	IntentGeneralInfo       Intent = "GeneralInfo"
	IntentOther             Intent = "Other"
)

// Intents is the closed label set offered to the classifier, in prompt order.
var Intents = []Intent{
	IntentScheduleMeeting,
	IntentRescheduleMeeting,
	IntentRequestUpdate,
	IntentProvideUpdate,
	IntentQuestion,
	IntentComplaint,
	IntentGreeting,
	IntentThanks,
	IntentFollowUp,
	IntentCancellation,
	IntentTaskRequest,
	IntentTaskResponse,
	IntentOutOfOffice,
	IntentGeneralInfo,
	IntentOther,
}

// Known reports whether i is one of the closed label set.
func (i Intent) Known() bool {
	for _, known := range Intents {
		if i == known {
			return true
		}
	}
	return false
}

func (i Intent) String() string { return string(i) }

// Handler 路由目标
type Handler string

const (
	HandlerExtractMeetingInfo Handler = "ExtractMeetingInfo"
	HandlerComplaintAgent     Handler = "ComplaintAgent"
	HandlerDefaultReplyAgent  Handler = "DefaultReplyAgent"
)

func (h Handler) String() string { return string(h) }
