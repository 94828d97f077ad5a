package mq

import "time"

// Routing keys
const (
	RoutingKeyReplyRequested   = "email.reply.requested"
	RoutingKeyReplyGenerated   = "email.reply.generated"
	RoutingKeyReplyFailed      = "email.reply.failed"
	RoutingKeyMeetingScheduled = "meeting.scheduled"
)

// ReplyRequestedPayload 异步回复请求（POST /api/chat/async 发布）
type ReplyRequestedPayload struct {
	RequestID    string    `json:"request_id"`
	HumanMessage string    `json:"human_message"`
	Source       string    `json:"source"`
	RequestedAt  time.Time `json:"requested_at"`
	TraceID      string    `json:"trace_id,omitempty"`
}

// ReplyGeneratedPayload 回复生成成功
type ReplyGeneratedPayload struct {
	RequestID   string    `json:"request_id"`
	RunID       string    `json:"run_id"`
	Intent      string    `json:"intent"`
	Handler     string    `json:"handler"`
	Response    string    `json:"response"`
	GeneratedAt time.Time `json:"generated_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// ReplyFailedPayload 重试耗尽或不可重试的失败
type ReplyFailedPayload struct {
	RequestID  string    `json:"request_id"`
	RunID      string    `json:"run_id"`
	Intent     string    `json:"intent,omitempty"`
	Error      string    `json:"error"`
	ErrorType  string    `json:"error_type"`
	RetryCount int64     `json:"retry_count"`
	FailedAt   time.Time `json:"failed_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}

// MeetingScheduledPayload 日历事件创建成功
type MeetingScheduledPayload struct {
	RequestID     string `json:"request_id"`
	RunID         string `json:"run_id"`
	EventID       string `json:"event_id"`
	HTMLLink      string `json:"html_link,omitempty"`
	Summary       string `json:"summary"`
	AttendeeEmail string `json:"attendee_email"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	TraceID       string `json:"trace_id,omitempty"`
}
