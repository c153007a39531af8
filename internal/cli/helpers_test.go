package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storetest/internal/config"
)

const passingScenario = `name: simple
description: dispatch and wait for state
initial: {status: C}
reducers:
  setOk: {set: {status: Ok}}
steps:
  - dispatch: {type: setOk}
  - wait_for_state: {status: Ok}
assertions:
  - type: final_state
    expect: {status: Ok}
`

const failingScenario = `name: failing
description: asserts an action nobody dispatches
initial: {status: C}
reducers:
  setOk: {set: {status: Ok}}
steps:
  - dispatch: {type: setOk}
assertions:
  - type: trace_contains
    action: setError
`

const hangingScenario = `name: hanging
description: waits for an action nobody dispatches
steps:
  - wait_for_action: neverDispatched
assertions:
  - type: effect_count
    count: 1
`

// writeScenario writes a scenario file into dir and returns its path.
func writeScenario(t *testing.T, dir, file, content string) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithEnv(t, config.Env{Format: "text"}, args...)
}

func executeWithEnv(t *testing.T, env config.Env, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(env)
	return executeCommand(cmd, args...)
}

func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
