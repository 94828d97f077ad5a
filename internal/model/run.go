package model

import "time"

const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// WorkflowRun 运行审计记录（workflow_runs 表），不保存邮件正文
type WorkflowRun struct {
	RunID      string    `json:"run_id"`
	RequestID  string    `json:"request_id,omitempty"` // 仅异步请求
	TraceID    string    `json:"trace_id"`
	Source     string    `json:"source"` // http | mq | cli
	Intent     Intent    `json:"intent"`
	Handler    Handler   `json:"handler"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ReplyChars int       `json:"reply_chars"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
