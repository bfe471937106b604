package batch

import (
	"time"

	"github.com/jackzampolin/sarproc/internal/scene"
)

// Series holds one stage's elapsed times across successful items, in
// seconds, in item order.
type Series struct {
	Stage  string    `json:"stage" yaml:"stage"`
	Real   []float64 `json:"real" yaml:"real"`
	User   []float64 `json:"user" yaml:"user"`
	System []float64 `json:"system" yaml:"system"`
}

// Failure is one failed item in the summary.
type Failure struct {
	Input  string `json:"input" yaml:"input"`
	Reason string `json:"reason" yaml:"reason"`
}

// Summary aggregates a batch run.
type Summary struct {
	Product     string    `json:"product" yaml:"product"`
	JobID       string    `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	Duration    float64   `json:"duration_seconds" yaml:"duration_seconds"`
	Total       int       `json:"total" yaml:"total"`
	Processed   int       `json:"processed" yaml:"processed"`
	Succeeded   int       `json:"succeeded" yaml:"succeeded"`
	Skipped     int       `json:"skipped" yaml:"skipped"`
	Interrupted bool      `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
	Stages      []Series  `json:"stages" yaml:"stages"`
	Failures    []Failure `json:"failures" yaml:"failures"`

	// FailedItems are the failed items as read, for writing a retry list.
	FailedItems []scene.Item `json:"-" yaml:"-"`
}

// Accountant accumulates outcomes into a Summary. It is owned by the
// driver's loop and is not safe for concurrent use.
type Accountant struct {
	summary Summary
	series  map[string]int
}

// NewAccountant creates an accountant for a run of total items.
func NewAccountant(product string, total int, started time.Time) *Accountant {
	return &Accountant{
		summary: Summary{
			Product:   product,
			StartedAt: started,
			Total:     total,
			Stages:    make([]Series, 0),
			Failures:  make([]Failure, 0),
		},
		series: make(map[string]int),
	}
}

// Record adds one outcome. Timings are kept only for successful items.
func (a *Accountant) Record(o Outcome) {
	a.summary.Processed++

	switch {
	case o.Succeeded():
		a.summary.Succeeded++
		for _, t := range o.Timings {
			idx, ok := a.series[t.Stage]
			if !ok {
				idx = len(a.summary.Stages)
				a.series[t.Stage] = idx
				a.summary.Stages = append(a.summary.Stages, Series{Stage: t.Stage})
			}
			s := &a.summary.Stages[idx]
			s.Real = append(s.Real, t.Elapsed.Real.Seconds())
			s.User = append(s.User, t.Elapsed.User.Seconds())
			s.System = append(s.System, t.Elapsed.System.Seconds())
		}
	case o.Status == StatusSkipped:
		a.summary.Skipped++
	default:
		a.summary.Failures = append(a.summary.Failures, Failure{Input: o.Input, Reason: o.Reason()})
		a.summary.FailedItems = append(a.summary.FailedItems, o.Item)
	}
}

// Interrupt marks the run as stopped before every item was processed.
func (a *Accountant) Interrupt() {
	a.summary.Interrupted = true
}

// Summary returns the accumulated summary as of end.
func (a *Accountant) Summary(end time.Time) *Summary {
	s := a.summary
	s.Duration = end.Sub(s.StartedAt).Seconds()
	return &s
}

// Failed returns the number of failed items.
func (s *Summary) Failed() int {
	return len(s.Failures)
}
