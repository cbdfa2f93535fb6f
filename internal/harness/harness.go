package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/lienwatch/internal/ledger"
	"github.com/roach88/lienwatch/internal/session"
	"github.com/roach88/lienwatch/internal/testutil"
	"github.com/roach88/lienwatch/internal/tracker"
)

// Epoch is the fixed start of simulated time.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// StepTimeout bounds every blocking step.
const StepTimeout = 10 * time.Second

// ErrNoSignRequest is returned when approve, reject or fail runs without a
// signature request outstanding.
var ErrNoSignRequest = errors.New("no signature request pending")

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool

	// Trace has one line per step.
	Trace []string

	// Journal has one line per recorded tracker transition.
	Journal []string

	// Errors lists failed expectations and assertions.
	Errors []string

	// Final is the tracker state after the flow.
	Final tracker.State

	// Mortgages and Alerts are the final log lengths.
	Mortgages int
	Alerts    int
}

func newResult() *Result {
	return &Result{Pass: true, Trace: []string{}, Errors: []string{}}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Render returns the golden form of the run.
func (r *Result) Render(name string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	for _, line := range r.Trace {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, line := range r.Journal {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "final: %s mortgages=%d alerts=%d\n", r.Final, r.Mortgages, r.Alerts)
	if msg := r.Final.View().Message(); msg != "" {
		fmt.Fprintf(&b, "message: %s\n", msg)
	}
	return []byte(b.String())
}

// Harness drives one session against a simulated ledger and a scripted
// wallet. Submission ids and clocks are deterministic, so a scenario renders
// the same trace on every run.
type Harness struct {
	ctx     context.Context
	sim     *ledger.Sim
	session *session.Session
	wallet  *ledger.ScriptedWallet

	request  *ledger.SignRequest
	inflight <-chan submitOutcome
	lastHash common.Hash
}

type submitOutcome struct {
	state tracker.State
	err   error
}

// Run executes scenario in a fresh session and returns the result.
// The error is non-nil only when the harness itself cannot proceed.
func Run(scenario *Scenario) (*Result, error) {
	sim := ledger.NewSim(ledger.WithSimClock(func() time.Time { return Epoch }))
	sess, err := session.New(sim,
		session.WithIDGenerator(testutil.NewSequenceGenerator("sub")),
		session.WithTimeSource(testutil.NewStepClock(Epoch, time.Second)),
		session.WithReceiptRetry(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer sess.Close()
	detach := sim.Attach(sess)
	defer detach()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &Harness{
		ctx:     runCtx,
		sim:     sim,
		session: sess,
		wallet:  ledger.NewScriptedWallet(common.HexToAddress(scenario.Wallet)),
	}

	result := newResult()
	steps := append(append([]Step{}, scenario.Setup...), scenario.Flow...)
	for i, step := range steps {
		if err := h.executeStep(i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
	}

	if err := h.collect(runCtx, result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executeStep(n int, step Step, result *Result) error {
	ctx, cancel := context.WithTimeout(context.Background(), StepTimeout)
	defer cancel()

	var (
		outcome string
		exists  *bool
		stepErr error
	)

	switch step.Action {
	case ActionConnect:
		h.session.Connect(h.wallet)

	case ActionDisconnect:
		h.session.Disconnect()

	case ActionSubmit:
		stepErr = h.submit(ctx, step.Args["property"])

	case ActionApprove:
		hash := common.HexToHash(step.Args["tx_hash"])
		o, err := h.answer(ctx, func(r *ledger.SignRequest) { r.Approve(hash) })
		if err != nil {
			return err
		}
		if o.err == nil {
			h.lastHash = hash
		}
		stepErr = o.err

	case ActionReject:
		o, err := h.answer(ctx, func(r *ledger.SignRequest) { r.Reject(step.Args["reason"]) })
		if err != nil {
			return err
		}
		stepErr = o.err

	case ActionFail:
		o, err := h.answer(ctx, func(r *ledger.SignRequest) { r.Fail(errors.New(step.Args["error"])) })
		if err != nil {
			return err
		}
		stepErr = o.err

	case ActionMine:
		hash := h.lastHash
		if raw, ok := step.Args["tx_hash"]; ok {
			hash = common.HexToHash(raw)
		}
		if err := h.sim.Mine(hash); err != nil {
			return err
		}
		if err := h.session.FlushReceipt(ctx, hash); err != nil {
			return err
		}

	case ActionCheck:
		ok, err := h.session.Check(ctx, step.Args["property"])
		stepErr = err
		if err == nil {
			exists = &ok
			outcome = "absent"
			if ok {
				outcome = "exists"
			}
		}

	case ActionRegisterExternal:
		h.sim.RegisterExternal(common.HexToAddress(step.Args["financier"]), h.session.Codec().Encode(step.Args["property"]))
		h.session.Drain(ctx)

	case ActionInjectAlert:
		newFinancier := h.wallet.Address()
		if raw, ok := step.Args["new_financier"]; ok {
			newFinancier = common.HexToAddress(raw)
		}
		h.sim.InjectAlert(h.session.Codec().Encode(step.Args["property"]), common.HexToAddress(step.Args["primary"]), newFinancier)
		h.session.Drain(ctx)

	case ActionOutageStart:
		h.sim.SetOutage(true)

	case ActionOutageEnd:
		h.sim.SetOutage(false)

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}

	state := h.session.State()
	if outcome == "" {
		outcome = state.String()
	}
	code := tracker.CodeOf(stepErr)
	if stepErr != nil && code == "" {
		return stepErr
	}

	line := fmt.Sprintf("%02d %s%s -> %s", n, step.Action, describe(step), outcome)
	if code != "" {
		line += " !" + string(code)
	}
	result.Trace = append(result.Trace, line)

	if step.Expect != nil {
		checkExpect(n, step, state, code, exists, result)
	}
	return nil
}

// submit starts a registration and returns once it either asks the wallet
// for a signature or finishes without one.
func (h *Harness) submit(ctx context.Context, property string) error {
	done := make(chan submitOutcome, 1)
	go func() {
		st, err := h.session.Register(h.ctx, property)
		done <- submitOutcome{state: st, err: err}
	}()

	select {
	case req := <-h.wallet.Requests():
		h.request = req
		h.inflight = done
		return nil
	case o := <-done:
		return o.err
	case <-ctx.Done():
		return fmt.Errorf("submit: %w", ctx.Err())
	}
}

// answer replies to the outstanding signature request and waits for the
// submission to return.
func (h *Harness) answer(ctx context.Context, reply func(*ledger.SignRequest)) (submitOutcome, error) {
	if h.request == nil {
		return submitOutcome{}, ErrNoSignRequest
	}
	reply(h.request)
	h.request = nil

	select {
	case o := <-h.inflight:
		h.inflight = nil
		return o, nil
	case <-ctx.Done():
		return submitOutcome{}, fmt.Errorf("waiting for submission: %w", ctx.Err())
	}
}

func describe(step Step) string {
	switch step.Action {
	case ActionSubmit, ActionCheck, ActionRegisterExternal, ActionInjectAlert:
		return fmt.Sprintf(" %q", step.Args["property"])
	case ActionApprove, ActionMine:
		if raw, ok := step.Args["tx_hash"]; ok {
			return " " + raw
		}
	case ActionReject:
		return fmt.Sprintf(" %q", step.Args["reason"])
	case ActionFail:
		return fmt.Sprintf(" %q", step.Args["error"])
	}
	return ""
}

func checkExpect(n int, step Step, state tracker.State, code tracker.ErrorCode, exists *bool, result *Result) {
	e := step.Expect
	if e.State != "" && e.State != state.Phase.String() {
		result.AddError(fmt.Sprintf("step %d (%s): expected state %s, got %s", n, step.Action, e.State, state))
	}
	if e.Code != "" && e.Code != string(code) {
		result.AddError(fmt.Sprintf("step %d (%s): expected code %s, got %q", n, step.Action, e.Code, code))
	}
	if e.Exists != nil && (exists == nil || *exists != *e.Exists) {
		result.AddError(fmt.Sprintf("step %d (%s): expected exists=%t", n, step.Action, *e.Exists))
	}
}

// collect fills the final state, log lengths and journal.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	h.session.Drain(ctx)
	result.Final = h.session.State()

	mortgages, err := h.session.Mortgages(ctx)
	if err != nil {
		return fmt.Errorf("read mortgages: %w", err)
	}
	alerts, err := h.session.Alerts(ctx)
	if err != nil {
		return fmt.Errorf("read alerts: %w", err)
	}
	result.Mortgages = len(mortgages)
	result.Alerts = len(alerts)

	history, err := h.session.History(ctx, "")
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	for _, t := range history {
		line := fmt.Sprintf("journal: %s %s -> %s", t.Submission, t.From, t.To)
		if t.Reason != "" {
			line += " (" + t.Reason + ")"
		}
		result.Journal = append(result.Journal, line)
	}
	return nil
}
