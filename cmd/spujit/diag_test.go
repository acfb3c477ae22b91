package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/multierr"

	"github.com/tangzhangming/spujit/internal/jit"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&jit.UnsupportedError{Method: "f", Reason: "integer division"}, CodeUnsupported},
		{&jit.NotFoundError{Symbol: "g", Referrer: "f"}, CodeNotFound},
		{&jit.AllocationError{Method: "f", Rounds: 9}, CodeAllocation},
		{&jit.PhaseError{Method: "f"}, CodePhaseOrder},
		{&jit.InternalError{Method: "f", Offset: -1}, CodeInternal},
		{fmt.Errorf("wrapped: %w", jit.ErrNotFound), CodeNotFound},
		{errors.New("open kernels.json: no such file"), CodeInput},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestReporterSplitsCombinedErrors(t *testing.T) {
	colorsEnabled = false
	var buf bytes.Buffer
	rep := NewReporter(&buf)

	err := multierr.Combine(
		&jit.UnsupportedError{Method: "f", Reason: "channel number must be a constant in 0..127"},
		&jit.AllocationError{Method: "g", Rounds: 9, Reason: "too many spill rounds"},
	)
	rep.ReportError("kernels.json", err)

	if rep.ErrorCount() != 2 {
		t.Errorf("ErrorCount = %d, want 2", rep.ErrorCount())
	}
	out := buf.String()
	for _, want := range []string{
		"error[E0002]",
		"error[E0004]",
		"--> kernels.json",
		"help: channel numbers must be constants",
		"help: raise max_colors",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if got := rep.Summary(); got != "aborting due to 2 errors" {
		t.Errorf("Summary = %q", got)
	}
}

func TestReporterWarningsDoNotCount(t *testing.T) {
	colorsEnabled = false
	var buf bytes.Buffer
	rep := NewReporter(&buf)
	rep.Report(LevelWarning, CodeInput, "", "unused field")
	if rep.ErrorCount() != 0 || rep.Summary() != "" {
		t.Errorf("warning counted as error")
	}
	if got := buf.String(); got != "warning[E0100]: unused field\n" {
		t.Errorf("output = %q", got)
	}
}
