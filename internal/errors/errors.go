package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode classifies failures raised while detecting and exporting tickets.
type ErrorCode string

const (
	// Geometry errors
	ErrorInvalidGeometry ErrorCode = "INVALID_GEOMETRY"

	// Stage errors
	ErrorDetectionFailed ErrorCode = "DETECTION_FAILED"
	ErrorExportFailed    ErrorCode = "EXPORT_FAILED"
	ErrorStageFailed     ErrorCode = "PIPELINE_STAGE_FAILED"
)

// Stage names a step of the document pipeline.
type Stage string

const (
	StageLoading   Stage = "loading"
	StageDetection Stage = "detection"
	StageSplitting Stage = "splitting"
)

// ProcessingError is the structured error returned by every package of the module.
// Page and Index are -1 when they do not apply.
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	Page      int
	Index     int
	Stage     Stage
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	prefix := string(e.Code)
	if e.Stage != "" {
		prefix = fmt.Sprintf("[%s] %s", e.Stage, e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Factory functions

func NewInvalidGeometryError(format string, args ...interface{}) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidGeometry,
		Message:   fmt.Sprintf(format, args...),
		Page:      -1,
		Index:     -1,
		Timestamp: time.Now(),
	}
}

func NewDetectionError(page int, strategy string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDetectionFailed,
		Message:   fmt.Sprintf("detection failed on page %d", page),
		Page:      page,
		Index:     -1,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"strategy": strategy,
		},
		Cause: cause,
	}
}

// NewExportError reports a failed crop or write. Index is -1 when the failure
// is not tied to one ticket, such as the output folder.
func NewExportError(page, index int, cause error) *ProcessingError {
	msg := fmt.Sprintf("export of ticket %d on page %d failed", index, page)
	if index < 0 {
		msg = fmt.Sprintf("export on page %d failed", page)
	}
	return &ProcessingError{
		Code:      ErrorExportFailed,
		Message:   msg,
		Page:      page,
		Index:     index,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewStageError tags a failure with the pipeline stage where it happened.
// Page information is taken from the cause when it carries one.
func NewStageError(stage Stage, page int, cause error) *ProcessingError {
	msg := fmt.Sprintf("%s stage failed", stage)
	if page > 0 {
		msg = fmt.Sprintf("%s stage failed on page %d", stage, page)
	}
	return &ProcessingError{
		Code:      ErrorStageFailed,
		Message:   msg,
		Page:      page,
		Index:     -1,
		Stage:     stage,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// CodeOf returns the code of the outermost ProcessingError in the chain.
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// StageOf returns the pipeline stage recorded anywhere in the chain.
func StageOf(err error) Stage {
	for err != nil {
		var pe *ProcessingError
		if !stderrors.As(err, &pe) {
			return ""
		}
		if pe.Stage != "" {
			return pe.Stage
		}
		err = pe.Cause
	}
	return ""
}

// HasCode reports whether any ProcessingError in the chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var pe *ProcessingError
		if !stderrors.As(err, &pe) {
			return false
		}
		if pe.Code == code {
			return true
		}
		err = pe.Cause
	}
	return false
}

// ToMap converts the error into a flat map for reports and structured logs.
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}
	if e.Stage != "" {
		result["stage"] = string(e.Stage)
	}
	if e.Page >= 0 {
		result["page"] = e.Page
	}
	if e.Index >= 0 {
		result["ticket_index"] = e.Index
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
