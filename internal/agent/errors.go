package agent

import (
	"errors"
	"fmt"

	"github.com/seweryn-pilarska/email-reply/internal/model"
)

var (
	// ErrEmptyEmail 输入为空，不调用任何下游
	ErrEmptyEmail = errors.New("email text is required")
	// ErrClassification 意图分类失败（请求级失败）
	ErrClassification = errors.New("intent classification failed")
	// ErrGeneration 投诉/默认回复生成失败（请求级失败）
	ErrGeneration = errors.New("reply generation failed")
)

// ExtractionFallbackReply is the user-facing reply when meeting details
// cannot be extracted.
const ExtractionFallbackReply = "Failed to extract meeting info. Please try rephrasing."

// StageError 标记失败发生的阶段。errors.Is 可同时匹配 Kind 与底层错误。
type StageError struct {
	Stage model.Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error { return []error{e.Kind, e.Err} }

// ExtractionFailure 抽取失败：模型输出不是合法 JSON、字段不符合 schema，或调用本身失败。
// 引擎将其转为固定回复，不进入排期。
type ExtractionFailure struct {
	Reason string
	Err    error
}

func (e *ExtractionFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("meeting extraction failed: %s: %v", e.Reason, e.Err)
	}
	return "meeting extraction failed: " + e.Reason
}

func (e *ExtractionFailure) Unwrap() error { return e.Err }

// Reply returns the fixed fallback message.
func (e *ExtractionFailure) Reply() string { return ExtractionFallbackReply }
