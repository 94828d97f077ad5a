package agent

import "github.com/seweryn-pilarska/email-reply/internal/model"

// Route is total: every intent, including unknown and empty labels, maps to
// exactly one handler.
func Route(intent model.Intent) model.Handler {
	switch intent {
	case model.IntentScheduleMeeting:
		return model.HandlerExtractMeetingInfo
	case model.IntentComplaint:
		return model.HandlerComplaintAgent
	default:
		return model.HandlerDefaultReplyAgent
	}
}
