package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lienwatch/internal/config"
	"github.com/roach88/lienwatch/internal/ident"
	"github.com/roach88/lienwatch/internal/ledger"
)

var (
	wallet   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// simBackend serves a command from an in-memory registry.
type simBackend struct {
	sim       *ledger.Sim
	signerErr error
}

func (b *simBackend) Ledger() ledger.Ledger { return b.sim }

func (b *simBackend) Signer(ctx context.Context) (ledger.Signer, error) {
	if b.signerErr != nil {
		return nil, b.signerErr
	}
	return ledger.NewAutoWallet(wallet), nil
}

func (b *simBackend) Close() {}

// syncBuffer is a bytes.Buffer safe for a command writing while the test
// reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func simDialer(backend *simBackend) Dialer {
	return func(ctx context.Context, cfg config.Config) (Backend, error) {
		return backend, nil
	}
}

// execute runs the CLI against backend and returns stdout and stderr.
func execute(t *testing.T, ctx context.Context, backend *simBackend, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("LIENWATCH_PRIVATE_KEY", "")
	cmd := NewRootCommandWithDialer(simDialer(backend))
	stdout := &syncBuffer{}
	stderr := &syncBuffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// mineWhenPending mines the first transaction submitted to sim once a sink
// is attached.
func mineWhenPending(t *testing.T, sim *ledger.Sim) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if pending := sim.Pending(); sim.Sinks() > 0 && len(pending) > 0 {
				_ = sim.Mine(pending[0])
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func propertyID(t *testing.T, description string) ident.PropertyID {
	t.Helper()
	return ident.Encode(description)
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "lienwatch", cmd.Use)
	assert.Contains(t, cmd.Long, "double-financing")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"encode", "check", "register", "watch", "demo"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	for _, name := range []string{"config", "rpc-url", "identifier-scheme", "normalize"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestWatchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	watch, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)

	for _, name := range []string{"start-block", "metrics-addr", "duration"} {
		assert.NotNil(t, watch.Flags().Lookup(name), name)
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, _, err := execute(t, context.Background(), &simBackend{sim: ledger.NewSim()}, "--format", "invalid", "encode", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestConfigErrorExitCode(t *testing.T) {
	_, _, err := execute(t, context.Background(), &simBackend{sim: ledger.NewSim()},
		"--identifier-scheme", "rot13", "encode", "x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEncode(t *testing.T) {
	out, _, err := execute(t, context.Background(), &simBackend{sim: ledger.NewSim()}, "encode", "123 Main St")
	require.NoError(t, err)
	assert.Equal(t, propertyID(t, "123 Main St").Hex()+" (prefix)\n", out)
}

func TestEncode_JSONWarnsOnTruncation(t *testing.T) {
	long := strings.Repeat("x", 40)
	out, _, err := execute(t, context.Background(), &simBackend{sim: ledger.NewSim()}, "--format", "json", "encode", long)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   EncodeResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Truncated)
	assert.Equal(t, propertyID(t, long), resp.Data.PropertyID)
}

func TestCheck(t *testing.T) {
	sim := ledger.NewSim()
	sim.RegisterExternal(stranger, propertyID(t, "123 Main St"))
	backend := &simBackend{sim: sim}

	out, _, err := execute(t, context.Background(), backend, "check", "123 Main St")
	require.NoError(t, err)
	assert.Equal(t, "Property check completed. Mortgage exists.\n", out)

	out, _, err = execute(t, context.Background(), backend, "check", "9 Elm St")
	require.NoError(t, err)
	assert.Equal(t, "Property check completed. Mortgage does not exist.\n", out)
}

func TestCheck_QueryFailed(t *testing.T) {
	sim := ledger.NewSim()
	sim.SetOutage(true)

	out, _, err := execute(t, context.Background(), &simBackend{sim: sim}, "check", "123 Main St")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [QUERY_FAILED]: Failed to check mortgage. Please try again.")
}

func TestRegister_Confirmed(t *testing.T) {
	sim := ledger.NewSim()
	mineWhenPending(t, sim)

	out, _, err := execute(t, context.Background(), &simBackend{sim: sim}, "--format", "json", "register", "123 Main St")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			From  common.Address `json:"from"`
			State struct {
				Phase  string `json:"phase"`
				Status string `json:"status"`
			} `json:"state"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, wallet, resp.Data.From)
	assert.Equal(t, "Confirmed", resp.Data.State.Phase)
	assert.Equal(t, "Transaction confirmed! Mortgage registration complete.", resp.Data.State.Status)

	financier, ok := sim.Financier(propertyID(t, "123 Main St"))
	require.True(t, ok)
	assert.Equal(t, wallet, financier)
}

func TestRegister_DoubleFinancingRejected(t *testing.T) {
	sim := ledger.NewSim()
	sim.RegisterExternal(stranger, propertyID(t, "123 Main St"))
	mineWhenPending(t, sim)

	out, _, err := execute(t, context.Background(), &simBackend{sim: sim}, "register", "123 Main St")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [DOUBLE_FINANCING_REJECTED]: Double financing attempt detected!")
}

func TestRegister_NoKey(t *testing.T) {
	backend := &simBackend{sim: ledger.NewSim(), signerErr: config.ErrNoPrivateKey}

	out, _, err := execute(t, context.Background(), backend, "register", "123 Main St")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [CONFIG]")
	assert.Empty(t, backend.sim.Pending())
}

func TestRegister_TimesOutPending(t *testing.T) {
	sim := ledger.NewSim()
	t.Setenv("LIENWATCH_SETTLE", "100ms")

	out, _, err := execute(t, context.Background(), &simBackend{sim: sim}, "register", "123 Main St")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [PENDING]: Transaction submitted to network.")
	assert.Len(t, sim.Pending(), 1)
}

func TestWatch_PrintsEvents(t *testing.T) {
	sim := ledger.NewSim()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewRootCommandWithDialer(simDialer(&simBackend{sim: sim}))
	stdout := &syncBuffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{"watch"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return sim.Sinks() == 1 }, 5*time.Second, 5*time.Millisecond)
	id := propertyID(t, "123 Main St")
	sim.RegisterExternal(stranger, id)
	sim.RegisterExternal(wallet, id)

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "ALERT double financing")
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "registered "+id.Hex()+" financier="+stranger.Hex()))
	assert.True(t, strings.HasPrefix(lines[1], "ALERT double financing "+id.Hex()+" primary="+stranger.Hex()+" new="+wallet.Hex()))
}

func TestDemo_Scenarios(t *testing.T) {
	scenarios := filepath.Join("..", "..", "testdata", "scenarios")
	golden := filepath.Join("..", "harness", "testdata", "golden")

	out, _, err := execute(t, context.Background(), &simBackend{sim: ledger.NewSim()},
		"demo", scenarios, "--golden-dir", golden)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ register_confirmed")
	assert.Contains(t, out, "✓ double_financing_alert")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestDemo_FailingScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wrong.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`name: wrong
description: expects the wrong phase
flow:
  - action: check
    args: {property: "123 Main St"}
assertions:
  - type: final_phase
    phase: Confirmed
`), 0644))

	out, _, err := execute(t, context.Background(), &simBackend{sim: ledger.NewSim()}, "demo", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestDemo_UpdateNeedsGoldenDir(t *testing.T) {
	_, _, err := execute(t, context.Background(), &simBackend{sim: ledger.NewSim()}, "demo", ".", "--update")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDemo_MissingPath(t *testing.T) {
	_, _, err := execute(t, context.Background(), &simBackend{sim: ledger.NewSim()}, "demo", "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
