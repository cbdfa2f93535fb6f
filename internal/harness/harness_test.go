package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../../testdata/scenarios"

var scenarioNames = []string{
	"register_confirmed",
	"double_financing_alert",
	"check_after_registration",
	"alert_before_receipt",
	"already_in_progress",
	"wallet_rejected",
	"not_connected",
	"ledger_outage",
}

func loadNamed(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join(scenarioDir, name+".yaml"))
	require.NoError(t, err)
	require.Equal(t, name, s.Name)
	return s
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range scenarioNames {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadNamed(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestScenarios_Deterministic(t *testing.T) {
	s := loadNamed(t, "wallet_rejected")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	assert.Equal(t, string(first.Render(s.Name)), string(second.Render(s.Name)))
}

func TestRun_FailedExpectationIsReported(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong
description: "expects the wrong phase"
flow:
  - action: submit
    args: { property: "1 Elm St" }
    expect: { state: Pending }
assertions:
  - type: alert_count
    count: 3
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected state Pending, got Failed(NOT_CONNECTED)")
	assert.Contains(t, result.Errors[1], "alert_count: expected 3, got 0")
}

func TestRun_ApproveWithoutRequest(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: orphan
description: "approve with nothing to sign"
flow:
  - action: approve
    args: { tx_hash: "0x1" }
`))
	require.NoError(t, err)

	_, err = Run(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSignRequest)
}

func TestRun_MineUnknownTransaction(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: unknown_tx
description: "mine a hash nobody sent"
flow:
  - action: mine
    args: { tx_hash: "0x99" }
`))
	require.NoError(t, err)

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 (mine)")
}

func TestRun_SubmitLeftInFlight(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: in_flight
description: "the flow ends while the wallet is still asked to sign"
flow:
  - action: connect
  - action: submit
    args: { property: "1 Elm St" }
assertions:
  - type: final_phase
    phase: AwaitingSignature
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.True(t, result.Final.Loading())
}

func TestEvaluateAssertions_TraceContains(t *testing.T) {
	result := newResult()
	result.Trace = []string{`01 check "a" -> absent`}

	assert.Empty(t, EvaluateAssertions(result, []Assertion{{Type: AssertTraceContains, Text: "-> absent"}}))

	failures := EvaluateAssertions(result, []Assertion{{Type: AssertTraceContains, Text: "-> exists"}})
	require.Len(t, failures, 1)
	assert.True(t, strings.HasPrefix(failures[0], "assertions[0] trace_contains:"))
}

func TestRender_OmitsEmptyMessage(t *testing.T) {
	result := newResult()
	out := string(result.Render("idle"))
	assert.Equal(t, "scenario: idle\nfinal: Idle mortgages=0 alerts=0\n", out)
}
