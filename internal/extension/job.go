// Package extension implements the agent that grows the source registry at
// runtime: plan a candidate source from a natural-language request, generate
// its descriptor, test it against the live builder, have a model validate
// the output, and only then register it.
package extension

import (
	"fmt"
	"time"

	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

// State is one stop in the extension job lifecycle.
type State string

const (
	StateRequested  State = "requested"
	StatePlanning   State = "planning"
	StateGenerated  State = "generated"
	StateTesting    State = "testing"
	StateValidating State = "validating"
	StateRegistered State = "registered"
	StateFailed     State = "failed"
	StateDiscarded  State = "discarded"
)

// Terminal reports whether a job in this state will never move again.
func (s State) Terminal() bool {
	switch s {
	case StateRegistered, StateFailed, StateDiscarded:
		return true
	}
	return false
}

// transitions is the full lifecycle graph. Testing loops back to Generated
// on a failed attempt; Validating never loops anywhere.
var transitions = map[State][]State{
	StateRequested:  {StatePlanning},
	StatePlanning:   {StateGenerated, StateFailed},
	StateGenerated:  {StateTesting},
	StateTesting:    {StateValidating, StateGenerated, StateFailed},
	StateValidating: {StateRegistered, StateDiscarded, StateFailed},
}

// Request describes the source a caller wants the agent to add.
type Request struct {
	SourceName  string   `json:"source_name"`
	Description string   `json:"description"`
	URL         string   `json:"url,omitempty"`
	Topics      []string `json:"topics,omitempty"`
}

func (r Request) Validate() error {
	if r.SourceName == "" {
		return fmt.Errorf("extension request: source_name is required")
	}
	if r.Description == "" && r.URL == "" {
		return fmt.Errorf("extension request: description or url is required")
	}
	return nil
}

// Attempt is one generate-and-test cycle. Attempts are append-only: nothing
// rewrites an earlier attempt's record.
type Attempt struct {
	Number     int               `json:"number"`
	Descriptor plugin.Descriptor `json:"descriptor"`
	Error      string            `json:"error,omitempty"`
	Articles   int               `json:"articles"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Job is one tracked extension request. Plan, Candidate and Verdict fill in
// as the job passes the corresponding phase; Candidate always holds the most
// recently generated module descriptor.
type Job struct {
	ID         string             `json:"id"`
	SourceName string             `json:"source_name"`
	Request    Request            `json:"request"`
	State      State              `json:"state"`
	Plan       *Plan              `json:"plan,omitempty"`
	Candidate  *plugin.Descriptor `json:"candidate,omitempty"`
	Verdict    *Verdict           `json:"verdict,omitempty"`
	Attempts   []Attempt          `json:"attempts,omitempty"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// AttemptCount is the number of generate-and-test cycles consumed so far.
// Planning failures consume none.
func (j *Job) AttemptCount() int { return len(j.Attempts) }

// transition moves the job to a new state, rejecting moves the lifecycle
// graph does not allow.
func (j *Job) transition(to State) error {
	for _, allowed := range transitions[j.State] {
		if allowed == to {
			j.State = to
			j.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("extension job %s: illegal transition %s -> %s", j.ID, j.State, to)
}

// clone returns a copy safe to hand outside the agent's lock.
func (j *Job) clone() Job {
	cp := *j
	cp.Attempts = make([]Attempt, len(j.Attempts))
	copy(cp.Attempts, j.Attempts)
	if j.Plan != nil {
		p := *j.Plan
		cp.Plan = &p
	}
	if j.Candidate != nil {
		d := *j.Candidate
		cp.Candidate = &d
	}
	if j.Verdict != nil {
		v := *j.Verdict
		cp.Verdict = &v
	}
	return cp
}
