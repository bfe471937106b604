package batch

import (
	"fmt"

	"github.com/jackzampolin/sarproc/internal/proc"
	"github.com/jackzampolin/sarproc/internal/scene"
)

// Status is the terminal result of one work item.
type Status string

const (
	StatusSucceeded           Status = "succeeded"
	StatusDEMGenerationFailed Status = "dem_generation_failed"
	StatusStageFailed         Status = "stage_failed"
	StatusOutputIncomplete    Status = "output_incomplete"
	StatusSetupFailed         Status = "setup_failed"
	StatusSkipped             Status = "skipped"
)

// State is a step of the per-item state machine.
type State string

const (
	StatePending                 State = "pending"
	StateGeneratingAuxiliaryData State = "generating_auxiliary_data"
	StateStaging                 State = "staging"
	StateValidating              State = "validating"
	StateSucceeded               State = "succeeded"
	StateFailed                  State = "failed"
	StateCleaningUp              State = "cleaning_up"
)

// Transition is reported to Config.Observer each time an item changes state.
type Transition struct {
	Item  scene.Item
	State State
	// Stage is the 1-based stage ordinal while Staging.
	Stage    int
	Subswath string
}

// StageTiming is the elapsed time of one external call.
type StageTiming struct {
	Stage   string       `json:"stage" yaml:"stage"`
	Elapsed proc.Elapsed `json:"elapsed" yaml:"elapsed"`
}

// Outcome is the result of processing one work item. It is never mutated
// after the driver returns it.
type Outcome struct {
	Item   scene.Item `json:"-" yaml:"-"`
	Input  string     `json:"input" yaml:"input"`
	Status Status     `json:"status" yaml:"status"`

	// Stage is the 1-based ordinal of the failed stage for StatusStageFailed.
	Stage     int      `json:"stage,omitempty" yaml:"stage,omitempty"`
	StageName string   `json:"stage_name,omitempty" yaml:"stage_name,omitempty"`
	Subswaths []string `json:"failed_subswaths,omitempty" yaml:"failed_subswaths,omitempty"`
	ExitCode  int      `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	TimedOut  bool     `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`

	Artifact string        `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Missing  []string      `json:"missing,omitempty" yaml:"missing,omitempty"`
	Timings  []StageTiming `json:"timings,omitempty" yaml:"timings,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`

	Interrupted bool `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
}

// Succeeded reports whether the item produced a complete product.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// Failed reports whether the item ended in a failure status.
func (o Outcome) Failed() bool {
	return o.Status != StatusSucceeded && o.Status != StatusSkipped
}

// Reason is the short tag printed on failure lines.
func (o Outcome) Reason() string {
	switch o.Status {
	case StatusStageFailed:
		if o.TimedOut {
			return fmt.Sprintf("%s(%d) timed out", o.Status, o.Stage)
		}
		return fmt.Sprintf("%s(%d)", o.Status, o.Stage)
	default:
		return string(o.Status)
	}
}

// RecordStatus is the status value written to the run record.
func (o Outcome) RecordStatus() string {
	if o.Succeeded() {
		return "success"
	}
	return "FAILED [" + o.Reason() + "]"
}
