// Package harness runs declarative store scenarios through the engine.
//
// A scenario describes a store (initial state, reducers, sagas), an init
// hook, the script steps and the assertions checked on the outcome. The
// harness compiles the steps into an engine script, runs it against a fresh
// store and reports the trace, the issued effects and the final state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: set_ok
//	description: "dispatching setOk moves status to Ok"
//	timeout: 100ms
//	initial: { status: C, number: 0 }
//	reducers:
//	  setOk: { set: { status: Ok } }
//	  inc:   { inc: { number: 1 } }
//	sagas:
//	  - take: setError
//	    delay: 10ms
//	    put: [{ type: setOk }]
//	    call: onRecovered
//	init:
//	  - type: setA
//	steps:
//	  - dispatch: { type: setError }
//	  - wait_for_action: setOk
//	  - wait_for_state: { status: Ok }
//	  - wait_for_call: { caller: onRecovered }
//	  - wait_ms: 10
//	  - drain: true
//	assertions:
//	  - type: trace_order
//	    actions: [setA, setError, setOk]
//	  - type: final_state
//	    expect: { status: Ok }
//
// Files are decoded strictly (unknown fields are errors), unified with the
// CUE schema in schema.cue and then checked semantically.
//
// # Assertion Types
//
//   - trace_contains: Verifies an action appears in the trace, payload subset matched
//   - trace_order: Verifies actions appear in specified order
//   - trace_count: Verifies an action appears exactly N times
//   - final_state: Verifies final state fields (subset match)
//   - effect_count: Verifies the number of issued instructions
//
// A scenario that sets expect_timeout passes only if the run times out.
// max_actions caps the caught actions; a run past the cap fails with an
// engine quota error instead of a result.
//
// # Deterministic Testing
//
// Every run uses a fixed run id and a fresh store. The trace snapshot is
// serialized as canonical JSON (sorted keys, NFC strings) and hashed with a
// domain-separated SHA-256 digest, so repeated runs of a deterministic
// scenario produce byte-identical golden files and equal digests.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/set_ok.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
