package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestStageErrorChain(t *testing.T) {
	cause := stderrors.New("disk full")
	export := NewExportError(2, 1, cause)
	stage := NewStageError(StageSplitting, 2, export)
	wrapped := fmt.Errorf("process invoice.pdf: %w", stage)

	if CodeOf(wrapped) != ErrorStageFailed {
		t.Errorf("CodeOf = %q, want %q", CodeOf(wrapped), ErrorStageFailed)
	}
	if StageOf(wrapped) != StageSplitting {
		t.Errorf("StageOf = %q, want %q", StageOf(wrapped), StageSplitting)
	}
	if !HasCode(wrapped, ErrorExportFailed) {
		t.Error("expected export failure in chain")
	}
	if HasCode(wrapped, ErrorDetectionFailed) {
		t.Error("unexpected detection failure in chain")
	}
	if !stderrors.Is(wrapped, cause) {
		t.Error("root cause should stay reachable through Unwrap")
	}
	if !strings.HasPrefix(stage.Error(), "[splitting]") {
		t.Errorf("stage error should start with stage tag: %s", stage.Error())
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(stderrors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
	if got := StageOf(nil); got != "" {
		t.Errorf("StageOf(nil) = %q, want empty", got)
	}
}

func TestToMap(t *testing.T) {
	err := NewDetectionError(3, "contour", stderrors.New("boom"))
	m := err.ToMap()

	if m["error_code"] != string(ErrorDetectionFailed) {
		t.Errorf("error_code = %v", m["error_code"])
	}
	if m["page"] != 3 {
		t.Errorf("page = %v, want 3", m["page"])
	}
	if m["strategy"] != "contour" {
		t.Errorf("strategy = %v, want contour", m["strategy"])
	}
	if _, ok := m["ticket_index"]; ok {
		t.Error("ticket_index should be omitted for detection errors")
	}
	if m["cause"] != "boom" {
		t.Errorf("cause = %v", m["cause"])
	}
}
