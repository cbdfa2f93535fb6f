package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/lienwatch/internal/tracker"
)

// EvaluateAssertions checks every assertion against result and returns one
// message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if msg := evaluate(result, a); msg != "" {
			failures = append(failures, fmt.Sprintf("assertions[%d] %s: %s", i, a.Type, msg))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) string {
	final := result.Final
	switch a.Type {
	case AssertFinalPhase:
		if final.Phase.String() != a.Phase {
			return fmt.Sprintf("expected %s, got %s", a.Phase, final)
		}

	case AssertErrorCode:
		var got tracker.ErrorCode
		if final.Err != nil {
			got = final.Err.Code
		}
		if string(got) != a.Code {
			return fmt.Sprintf("expected %q, got %q", a.Code, got)
		}

	case AssertMortgageCount:
		if result.Mortgages != a.Count {
			return fmt.Sprintf("expected %d, got %d", a.Count, result.Mortgages)
		}

	case AssertAlertCount:
		if result.Alerts != a.Count {
			return fmt.Sprintf("expected %d, got %d", a.Count, result.Alerts)
		}

	case AssertMessage:
		if got := final.View().Message(); got != a.Text {
			return fmt.Sprintf("expected %q, got %q", a.Text, got)
		}

	case AssertTraceContains:
		for _, line := range result.Trace {
			if strings.Contains(line, a.Text) {
				return ""
			}
		}
		return fmt.Sprintf("%q not found in trace:\n  %s", a.Text, strings.Join(result.Trace, "\n  "))

	default:
		return fmt.Sprintf("unknown assertion type %q", a.Type)
	}
	return ""
}
