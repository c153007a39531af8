package harness

// TraceEvent is one action the run observed.
type TraceEvent struct {
	Seq     int    `json:"seq"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when the timeout expectation and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every caught action in order.
	Trace []TraceEvent `json:"trace"`

	// Effects contains the rendered instructions the steps issued.
	Effects []string `json:"effects"`

	// Errors contains assertion and expectation failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the snapshot after the last caught action.
	State map[string]any `json:"state,omitempty"`

	// TimedOut reports whether the run hit its timeout.
	TimedOut bool `json:"timed_out"`

	// Report is the timeout diagnostic, empty if the run finished.
	Report string `json:"report,omitempty"`

	// Digest is the content hash of the trace snapshot. Two runs of the same
	// scenario must produce the same digest.
	Digest string `json:"digest"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Effects: []string{},
		Errors:  []string{},
		State:   make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddAction appends an action to the trace. Seq is 1-based.
func (r *Result) AddAction(typ string, payload any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     len(r.Trace) + 1,
		Type:    typ,
		Payload: payload,
	})
}
