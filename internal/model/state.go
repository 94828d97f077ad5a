package model

import "time"

// Stage 工作流阶段
type Stage string

const (
	StageStart             Stage = "Start"
	StageClassified        Stage = "Classified"
	StageRouted            Stage = "Routed"
	StageExtractingMeeting Stage = "ExtractingMeeting"
	StageSchedulingMeeting Stage = "SchedulingMeeting"
	StageHandlingComplaint Stage = "HandlingComplaint"
	StageGeneratingDefault Stage = "GeneratingDefault"
	StageTerminal          Stage = "Terminal"
)

// MeetingInfo 从邮件中抽取的会议信息
type MeetingInfo struct {
	Summary       string `json:"summary"`
	AttendeeEmail string `json:"attendee_email"`
	Date          string `json:"date"`       // YYYY-MM-DD
	StartTime     string `json:"start_time"` // HH:MM
	EndTime       string `json:"end_time"`   // HH:MM
}

// ScheduleOutcome 日历调用结果
type ScheduleOutcome struct {
	Created bool   `json:"created"`
	EventID string `json:"event_id,omitempty"`
	Link    string `json:"link,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// WorkflowState 单次运行的状态，每次 Run 新建，不跨请求共享
type WorkflowState struct {
	Email      string           `json:"-"`
	Intent     Intent           `json:"intent,omitempty"`
	Handler    Handler          `json:"handler,omitempty"`
	Meeting    *MeetingInfo     `json:"meeting,omitempty"`
	Scheduling *ScheduleOutcome `json:"scheduling,omitempty"`
	Reply      string           `json:"reply,omitempty"`
	Stages     []Stage          `json:"stages"`
	StartedAt  time.Time        `json:"started_at"`
}

func NewWorkflowState(email string, now time.Time) *WorkflowState {
	return &WorkflowState{
		Email:     email,
		Stages:    []Stage{StageStart},
		StartedAt: now,
	}
}

// Enter appends a stage to the run history.
func (s *WorkflowState) Enter(stage Stage) {
	s.Stages = append(s.Stages, stage)
}

// Current returns the last stage entered.
func (s *WorkflowState) Current() Stage {
	if len(s.Stages) == 0 {
		return ""
	}
	return s.Stages[len(s.Stages)-1]
}
