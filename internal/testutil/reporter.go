package testutil

import (
	"sync"

	"github.com/NewMai/QABot/internal/report"
)

// Recorder is a Reporter that keeps everything it is given
type Recorder struct {
	mu       sync.Mutex
	outcomes []report.Outcome
}

func (r *Recorder) Report(o report.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *Recorder) Outcomes() []report.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report.Outcome(nil), r.outcomes...)
}

// Last returns the most recent outcome, or a zero Outcome if there is none
func (r *Recorder) Last() report.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return report.Outcome{}
	}
	return r.outcomes[len(r.outcomes)-1]
}
