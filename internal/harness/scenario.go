package harness

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// ErrCodeInvalidScenario marks scenario load and validation failures.
const ErrCodeInvalidScenario = "INVALID_SCENARIO"

// ScenarioError is returned when a scenario file cannot be loaded or fails
// validation.
type ScenarioError struct {
	Code string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ScenarioError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Path, e.Err)
}

func (e *ScenarioError) Unwrap() error {
	return e.Err
}

// IsInvalidScenario returns true if err is or wraps a ScenarioError.
func IsInvalidScenario(err error) bool {
	var se *ScenarioError
	return errors.As(err, &se)
}

// Scenario defines a store test scenario: a declarative store, the steps a
// script runs against it and the assertions checked on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is an optional fixed run id for log correlation.
	// If empty, defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Timeout bounds the run. Defaults to the engine default.
	Timeout string `yaml:"timeout,omitempty"`

	// SkipInitDispatches logs init actions without matching them.
	SkipInitDispatches bool `yaml:"skip_init_dispatches,omitempty"`

	// MaxActions caps the actions the run may catch. Zero uses the engine
	// default.
	MaxActions int `yaml:"max_actions,omitempty"`

	// Initial is the initial state.
	Initial map[string]any `yaml:"initial,omitempty"`

	// Reducers maps action types to state updates.
	Reducers map[string]ReducerSpec `yaml:"reducers,omitempty"`

	// Sagas describe the store's effect layer.
	Sagas []SagaSpec `yaml:"sagas,omitempty"`

	// Init lists actions dispatched from the init hook.
	Init []ActionStep `yaml:"init,omitempty"`

	// Steps is the script. A scenario without steps only records what the
	// store does while it starts.
	Steps []Step `yaml:"steps,omitempty"`

	// ExpectTimeout states that the run is expected to time out.
	ExpectTimeout bool `yaml:"expect_timeout,omitempty"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state,
	// effect_count
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ReducerSpec is the state update applied for one action type.
type ReducerSpec struct {
	// Set assigns top-level state keys.
	Set map[string]any `yaml:"set,omitempty"`

	// Inc adds to integer state keys.
	Inc map[string]int `yaml:"inc,omitempty"`
}

// SagaSpec is one declarative saga. Without Take it runs once when the store
// starts; with Take it waits for that action first, and Repeat makes it wait
// again after every pass.
type SagaSpec struct {
	Take   string       `yaml:"take,omitempty"`
	Repeat bool         `yaml:"repeat,omitempty"`
	Delay  string       `yaml:"delay,omitempty"`
	Put    []ActionStep `yaml:"put,omitempty"`
	Call   string       `yaml:"call,omitempty"`
}

// ActionStep is an action literal.
type ActionStep struct {
	Type    string `yaml:"type"`
	Payload any    `yaml:"payload,omitempty"`
}

// Step is one script instruction. Exactly one field must be set.
type Step struct {
	Dispatch      *ActionStep    `yaml:"dispatch,omitempty"`
	WaitForAction string         `yaml:"wait_for_action,omitempty"`
	WaitForState  map[string]any `yaml:"wait_for_state,omitempty"`
	WaitForCall   *CallStep      `yaml:"wait_for_call,omitempty"`
	WaitMs        *int           `yaml:"wait_ms,omitempty"`
	Drain         bool           `yaml:"drain,omitempty"`
}

// CallStep waits for a named caller.
type CallStep struct {
	Caller string `yaml:"caller"`
	Times  int    `yaml:"times,omitempty"`
}

// Assertion validates the trace, the effects or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check an action appears in the trace
	// - "trace_order": Check actions appear in order
	// - "trace_count": Check an action appears exactly N times
	// - "final_state": Check final state fields (subset match)
	// - "effect_count": Check the number of issued instructions
	Type string `yaml:"type"`

	// Action is the action type (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Payload is the expected payload (trace_contains). Maps are subset
	// matched.
	Payload any `yaml:"payload,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of occurrences (trace_count,
	// effect_count).
	Count int `yaml:"count,omitempty"`

	// Expect contains expected state fields (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertEffectCount   = "effect_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns a *ScenarioError if the file doesn't exist, is malformed,
// contains unknown fields (typos), breaks the schema or fails the
// semantic checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ScenarioError{Code: ErrCodeInvalidScenario, Path: path, Err: fmt.Errorf("failed to read scenario file: %w", err)}
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, &ScenarioError{Code: ErrCodeInvalidScenario, Path: path, Err: err}
	}
	return s, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateSchema unifies the raw document with #Scenario.
func validateSchema(raw any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Scenario"))

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return err
	}
	return def.Unify(doc).Validate(cue.Concrete(true))
}

// validateScenario checks what the schema cannot express: step shape,
// references between sections and values that canonical JSON rejects.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := s.timeout(); err != nil {
		return err
	}
	if len(s.Assertions) == 0 && !s.ExpectTimeout {
		return fmt.Errorf("assertions list is required unless expect_timeout is set")
	}

	if err := checkValue("initial", s.Initial); err != nil {
		return err
	}
	for typ, r := range s.Reducers {
		if len(r.Set) == 0 && len(r.Inc) == 0 {
			return fmt.Errorf("reducers[%s]: set or inc is required", typ)
		}
		if err := checkValue(fmt.Sprintf("reducers[%s].set", typ), r.Set); err != nil {
			return err
		}
	}

	callers := make(map[string]bool)
	for i, saga := range s.Sagas {
		if saga.Repeat && saga.Take == "" {
			return fmt.Errorf("sagas[%d]: repeat requires take", i)
		}
		if saga.Delay != "" {
			if _, err := time.ParseDuration(saga.Delay); err != nil {
				return fmt.Errorf("sagas[%d]: invalid delay: %w", i, err)
			}
		}
		if len(saga.Put) == 0 && saga.Call == "" && saga.Delay == "" {
			return fmt.Errorf("sagas[%d]: put, call or delay is required", i)
		}
		for j, a := range saga.Put {
			if err := checkAction(fmt.Sprintf("sagas[%d].put[%d]", i, j), a); err != nil {
				return err
			}
		}
		if saga.Call != "" {
			callers[saga.Call] = true
		}
	}

	for i, a := range s.Init {
		if err := checkAction(fmt.Sprintf("init[%d]", i), a); err != nil {
			return err
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, callers); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, callers map[string]bool) error {
	set := 0
	if step.Dispatch != nil {
		set++
		if err := checkAction(fmt.Sprintf("steps[%d].dispatch", i), *step.Dispatch); err != nil {
			return err
		}
	}
	if step.WaitForAction != "" {
		set++
	}
	if step.WaitForState != nil {
		set++
		if len(step.WaitForState) == 0 {
			return fmt.Errorf("steps[%d]: wait_for_state needs at least one field", i)
		}
		if err := checkValue(fmt.Sprintf("steps[%d].wait_for_state", i), step.WaitForState); err != nil {
			return err
		}
	}
	if step.WaitForCall != nil {
		set++
		if !callers[step.WaitForCall.Caller] {
			return fmt.Errorf("steps[%d]: caller %q is not called by any saga", i, step.WaitForCall.Caller)
		}
	}
	if step.WaitMs != nil {
		set++
		if *step.WaitMs < 0 {
			return fmt.Errorf("steps[%d]: wait_ms must be non-negative", i)
		}
	}
	if step.Drain {
		set++
	}

	switch set {
	case 0:
		return fmt.Errorf("steps[%d]: empty step", i)
	case 1:
		return nil
	default:
		return fmt.Errorf("steps[%d]: exactly one instruction per step, got %d", i, set)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertEffectCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for effect_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func checkAction(path string, a ActionStep) error {
	if a.Type == "" {
		return fmt.Errorf("%s: type is required", path)
	}
	if a.Payload == nil {
		return nil
	}
	return checkValue(path+".payload", a.Payload)
}

// checkValue rejects values canonical JSON cannot encode.
func checkValue(path string, v any) error {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, elem := range val {
			if elem == nil {
				return fmt.Errorf("%s.%s: null values are not allowed", path, k)
			}
			if err := checkValue(path+"."+k, elem); err != nil {
				return err
			}
		}
	case []any:
		for i, elem := range val {
			if elem == nil {
				return fmt.Errorf("%s[%d]: null values are not allowed", path, i)
			}
			if err := checkValue(fmt.Sprintf("%s[%d]", path, i), elem); err != nil {
				return err
			}
		}
	case float32, float64:
		return fmt.Errorf("%s: floats are not allowed: %v", path, val)
	}
	return nil
}

// timeout parses the scenario timeout; zero means the engine default.
func (s *Scenario) timeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive")
	}
	return d, nil
}
