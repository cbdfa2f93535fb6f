package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lienwatch/internal/ledger"
	"github.com/roach88/lienwatch/internal/metrics"
	"github.com/roach88/lienwatch/internal/session"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Duration time.Duration // stop after this long; zero runs until interrupted
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream mortgage registrations and double-financing alerts",
		Long: `Poll the registry for new MortgageRegistered and AlertDoubleFinancing
events and print them as they arrive. Starts after the current head unless
start_block is set.

With metrics_addr set, Prometheus metrics are served on /metrics.

Examples:
  lienwatch watch --rpc-url https://sepolia.example.org
  lienwatch watch --start-block 4200000 --format json
  lienwatch watch --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().Uint64("start-block", 0, "replay events from this block")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	m := metrics.New()
	printer := &eventPrinter{w: cmd.OutOrStdout(), json: opts.Format == "json"}
	sess, backend, err := opts.openSession(ctx,
		session.WithMetrics(m),
		session.WithBatchObserver(printer.print),
	)
	if err != nil {
		return failSetup(formatter, err)
	}
	defer backend.Close()
	defer sess.Close()

	if addr := opts.Config.MetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				formatter.VerboseLog("metrics server: %v", err)
			}
		}()
		defer srv.Close()
		formatter.VerboseLog("serving metrics on %s/metrics", addr)
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		sess.Run(ctx)
	}()

	watchErr := sess.Watch(ctx)
	<-runDone
	sess.Drain(context.Background())

	if watchErr != nil && !errors.Is(watchErr, context.Canceled) && !errors.Is(watchErr, context.DeadlineExceeded) {
		return formatter.Fail(ExitFailure, ErrCodeConnect, watchErr)
	}
	return nil
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// eventPrinter writes each applied event as a line of text or JSON.
type eventPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

type eventLine struct {
	Stream ledger.Stream `json:"stream"`
	Event  any           `json:"event"`
}

func (p *eventPrinter) print(b ledger.Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ev := range b.Registered {
		p.line(b.Stream, ev, fmt.Sprintf("registered %s financier=%s block=%d tx=%s",
			ev.PropertyID.Hex(), ev.Financier.Hex(), ev.BlockNumber, ev.TxHash.Hex()))
	}
	for _, ev := range b.Alerts {
		p.line(b.Stream, ev, fmt.Sprintf("ALERT double financing %s primary=%s new=%s block=%d",
			ev.PropertyID.Hex(), ev.PrimaryFinancier.Hex(), ev.NewFinancier.Hex(), ev.BlockNumber))
	}
}

func (p *eventPrinter) line(stream ledger.Stream, ev any, text string) {
	if p.json {
		if err := json.NewEncoder(p.w).Encode(eventLine{Stream: stream, Event: ev}); err != nil {
			slog.Warn("event line not written", "stream", stream, "error", err)
		}
		return
	}
	fmt.Fprintln(p.w, text)
}
