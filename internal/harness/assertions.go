package harness

import (
	"fmt"
	"reflect"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			if event.Payload != nil {
				fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Seq, event.Type, event.Payload)
			} else {
				fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, event.Type)
			}
		}
	}
	return buf.String()
}

// assertTraceContains checks if the trace contains an action of the given
// type whose payload matches (subset match for maps).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == assertion.Action && matchPayload(event.Payload, assertion.Payload) {
			return nil
		}
	}

	expected := "action " + assertion.Action
	if assertion.Payload != nil {
		expected += fmt.Sprintf(" with payload %v", assertion.Payload)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed),
// and a type listed twice must occur twice.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, want := range assertion.Actions {
		pos := -1
		for i := next; i < len(trace); i++ {
			if trace[i].Type == want {
				pos = i
				break
			}
		}
		if pos < 0 {
			actual := fmt.Sprintf("missing action: %s", want)
			if next > 0 {
				actual = fmt.Sprintf("%s not found after position %d", want, next)
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual:   actual,
				Trace:    trace,
			}
		}
		next = pos + 1
	}
	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the final state with subset semantics: only the
// fields in Expect are compared.
func assertFinalState(state map[string]any, assertion Assertion) error {
	for _, key := range sortedKeys(assertion.Expect) {
		expected := assertion.Expect[key]
		actual, exists := state[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in state: %s", key, describe(state)),
			}
		}
		if !valuesEqual(actual, expected) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expected, expected),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actual, actual),
			}
		}
	}
	return nil
}

// assertEffectCount checks the number of issued instructions.
func assertEffectCount(effects []string, assertion Assertion) error {
	if len(effects) != assertion.Count {
		return &AssertionError{
			Type:     AssertEffectCount,
			Expected: fmt.Sprintf("%d effects", assertion.Count),
			Actual:   fmt.Sprintf("%d effects: %s", len(effects), strings.Join(effects, "; ")),
		}
	}
	return nil
}

// matchPayload compares payloads. Map payloads are subset matched; a nil
// expectation matches anything.
func matchPayload(actual, expected any) bool {
	if expected == nil {
		return true
	}
	if want, ok := expected.(map[string]any); ok {
		got, ok := actual.(map[string]any)
		return ok && matchSubset(got, want)
	}
	return valuesEqual(actual, expected)
}

// matchSubset checks if actual contains all expected keys with equal values.
// Extra keys in actual are ignored.
func matchSubset(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, exists := actual[key]
		if !exists || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values for equality. Integers compare by value
// regardless of their Go type.
func valuesEqual(actual, expected any) bool {
	return reflect.DeepEqual(normalize(actual), normalize(expected))
}

func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case uint64:
		return int64(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalize(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalize(elem)
		}
		return out
	default:
		return v
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		case AssertEffectCount:
			err = assertEffectCount(result.Effects, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
