package harness

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// DefaultWallet is the signer address used when a scenario names none.
const DefaultWallet = "0x00000000000000000000000000000000000000a1"

// Scenario is a scripted client session against the simulated ledger.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Wallet is the address the scripted wallet signs as.
	Wallet string `yaml:"wallet,omitempty"`

	// Setup establishes ledger state before the flow. Setup steps are traced
	// like flow steps.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the main sequence of client and ledger actions.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Args are action arguments, e.g. property, tx_hash, financier.
	Args map[string]string `yaml:"args,omitempty"`

	// Expect, if set, is checked against the step outcome.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is a per-step check. Empty fields are not checked.
type Expect struct {
	// State is the expected tracker phase after the step.
	State string `yaml:"state,omitempty"`

	// Code is the expected error code returned by the step.
	Code string `yaml:"code,omitempty"`

	// Exists is the expected answer of a check step.
	Exists *bool `yaml:"exists,omitempty"`
}

// Actions.
const (
	ActionConnect          = "connect"
	ActionDisconnect       = "disconnect"
	ActionSubmit           = "submit"
	ActionApprove          = "approve"
	ActionReject           = "reject"
	ActionFail             = "fail"
	ActionMine             = "mine"
	ActionCheck            = "check"
	ActionRegisterExternal = "register_external"
	ActionInjectAlert      = "inject_alert"
	ActionOutageStart      = "outage_start"
	ActionOutageEnd        = "outage_end"
)

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Phase is the expected final phase (final_phase).
	Phase string `yaml:"phase,omitempty"`

	// Code is the expected final error code; empty means none (error_code).
	Code string `yaml:"code,omitempty"`

	// Count is the expected log length (mortgage_count, alert_count).
	Count int `yaml:"count,omitempty"`

	// Text is the expected message, or a trace substring (message,
	// trace_contains).
	Text string `yaml:"text,omitempty"`
}

// Assertion types.
const (
	AssertFinalPhase    = "final_phase"
	AssertErrorCode     = "error_code"
	AssertMortgageCount = "mortgage_count"
	AssertAlertCount    = "alert_count"
	AssertMessage       = "message"
	AssertTraceContains = "trace_contains"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Wallet == "" {
		scenario.Wallet = DefaultWallet
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if !common.IsHexAddress(s.Wallet) {
		return fmt.Errorf("wallet %q is not an address", s.Wallet)
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Action {
	case ActionConnect, ActionDisconnect, ActionOutageStart, ActionOutageEnd, ActionMine:
		return nil
	case ActionSubmit, ActionCheck:
		return requireArgs(step, "property")
	case ActionApprove:
		return requireArgs(step, "tx_hash")
	case ActionReject:
		return requireArgs(step, "reason")
	case ActionFail:
		return requireArgs(step, "error")
	case ActionRegisterExternal:
		if err := requireArgs(step, "property", "financier"); err != nil {
			return err
		}
		return requireAddress(step, "financier")
	case ActionInjectAlert:
		if err := requireArgs(step, "property", "primary"); err != nil {
			return err
		}
		return requireAddress(step, "primary")
	case "":
		return fmt.Errorf("action is required")
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

func requireArgs(step Step, names ...string) error {
	for _, name := range names {
		if _, ok := step.Args[name]; !ok {
			return fmt.Errorf("%s: %s is required", step.Action, name)
		}
	}
	return nil
}

func requireAddress(step Step, name string) error {
	if !common.IsHexAddress(step.Args[name]) {
		return fmt.Errorf("%s: %s %q is not an address", step.Action, name, step.Args[name])
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertFinalPhase:
		if a.Phase == "" {
			return fmt.Errorf("phase is required for final_phase")
		}
	case AssertErrorCode:
	case AssertMortgageCount, AssertAlertCount:
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for %s", a.Type)
		}
	case AssertMessage, AssertTraceContains:
		if a.Text == "" {
			return fmt.Errorf("text is required for %s", a.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
