package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/vitwit/chai"
	"github.com/vitwit/chai/clients"
	"github.com/vitwit/chai/metrics"
	"github.com/vitwit/chai/types"
)

type client struct {
	app   *chai.App
	agent *clients.KeystoreAgent
	evm   *clients.EVMClient
}

func (r *client) Close() {
	r.app.Close()
	if r.agent != nil {
		r.agent.Close()
	}
	r.evm.Close()
}

// open dials the node, opens the keystore agent when one is configured and
// builds the client on top of both.
func open(ctx context.Context, g *globals, confirm bool, opts ...chai.Option) (*client, error) {
	evm, err := clients.NewEVMClient(ctx, g.cfg.RPCURL, g.cfg.ChainID)
	if err != nil {
		return nil, err
	}

	agentOpts := []clients.KeystoreOption{clients.WithAgentLogger(g.log)}
	if g.cfg.Account != "" {
		agentOpts = append(agentOpts, clients.WithPreferredAccount(common.HexToAddress(g.cfg.Account)))
	}
	if confirm {
		agentOpts = append(agentOpts, clients.WithConfirm(confirmTransaction))
	}

	r := &client{evm: evm}

	// the interface stays nil unless a keystore was found
	var agent clients.Agent
	ks, err := clients.NewKeystoreAgent(g.cfg.KeystoreDir, evm.ChainID(), promptPassphrase, agentOpts...)
	switch {
	case err == nil:
		r.agent = ks
		agent = ks
	case errors.Is(err, clients.ErrAgentNotFound):
		g.log.Warn("No keystore available", map[string]any{
			"keystore_dir": g.cfg.KeystoreDir,
			"error":        err.Error(),
		})
	default:
		evm.Close()
		return nil, err
	}

	opts = append([]chai.Option{chai.WithLogger(g.log)}, opts...)
	r.app, err = chai.New(g.cfg, evm.Backend(), agent, opts...)
	if err != nil {
		if r.agent != nil {
			r.agent.Close()
		}
		evm.Close()
		return nil, err
	}
	return r, nil
}

// connect runs Connect and prints the notice on failure. A failed memo
// load is reported but does not abort.
func connect(ctx context.Context, w io.Writer, app *chai.App) error {
	err := app.Connect(ctx)
	if err == nil || types.IsCode(err, types.ErrFetch) {
		if err != nil {
			fmt.Fprintln(w, chai.Notice(err))
		}
		return nil
	}
	fmt.Fprintln(w, chai.Notice(err))
	return err
}

func printMemos(w io.Writer, snap types.Snapshot) {
	if len(snap.Memos) == 0 {
		fmt.Fprintln(w, chai.EmptyMemosText)
		return
	}
	for _, m := range snap.Memos {
		fmt.Fprintf(w, "%s  %s (%s)\n    %s\n",
			m.Time().Format(time.DateTime), m.Name, types.FormatAddress(m.From.Hex()), m.Message)
	}
}

func newAccountCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Connect the wallet and show the active account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			r, err := open(ctx, g, false)
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			if err := connect(ctx, out, r.app); err != nil {
				fmt.Fprintln(out, types.NotConnectedLabel)
				return err
			}

			snap := r.app.Snapshot()
			fmt.Fprintf(out, "%s (%s)\n", snap.AccountLabel, snap.Account)
			if r.agent != nil {
				for _, addr := range r.agent.Accounts() {
					fmt.Fprintf(out, "  keystore: %s\n", addr.Hex())
				}
			}
			return nil
		},
	}
}

func newMemosCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "memos",
		Short: "List memos, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			r, err := open(ctx, g, false)
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			if err := connect(ctx, out, r.app); err != nil {
				return err
			}
			printMemos(out, r.app.Snapshot())
			return nil
		},
	}
}

func newSendCmd(g *globals) *cobra.Command {
	var (
		name    string
		message string
		yes     bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a chai with a name and a message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			r, err := open(ctx, g, !yes)
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			if err := connect(ctx, out, r.app); err != nil {
				return err
			}

			fmt.Fprintln(out, r.app.PriceLabel())
			if err := r.app.Submit(ctx, name, message); err != nil {
				fmt.Fprintln(out, chai.Notice(err))
				return err
			}

			snap := r.app.Snapshot()
			if snap.Notice != "" {
				fmt.Fprintln(out, snap.Notice)
			}
			fmt.Fprintln(out, "Transaction confirmed.")
			printMemos(out, snap)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "your name")
	cmd.Flags().StringVarP(&message, "message", "m", "", "your message")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "sign without asking for confirmation")
	return cmd
}

func newWatchCmd(g *globals) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the memo list and account changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var opts []chai.Option
			if g.cfg.EnableMetrics || cmd.Flags().Changed("metrics-addr") {
				reg := prometheus.NewRegistry()
				rec, err := metrics.NewPrometheusRecorder(reg)
				if err != nil {
					return fmt.Errorf("failed to register metrics: %w", err)
				}
				opts = append(opts, chai.WithMetrics(rec))

				srv := serveMetrics(metricsAddr, reg, g)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			r, err := open(ctx, g, true, opts...)
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			if err := connect(ctx, out, r.app); err != nil {
				return err
			}
			return watch(ctx, out, r.app, g.cfg.PollInterval)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on (defaults to metrics_addr)")
	return cmd
}

func serveMetrics(addr string, reg *prometheus.Registry, g *globals) *http.Server {
	if addr == "" {
		addr = g.cfg.MetricsAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Error("Metrics server stopped", map[string]any{"error": err.Error()})
		}
	}()
	g.log.Info("Serving metrics", map[string]any{"addr": addr})
	return srv
}

// watch refreshes every interval and prints whenever the account or the
// memo list changes.
func watch(ctx context.Context, w io.Writer, app *chai.App, interval time.Duration) error {
	if interval <= 0 {
		interval = types.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last types.Snapshot
	printed := false
	for {
		snap := app.Snapshot()
		if !printed || snap.Generation != last.Generation || snap.Account != last.Account || len(snap.Memos) != len(last.Memos) {
			fmt.Fprintf(w, "\n[%s] %s\n", snap.Status, snap.AccountLabel)
			if snap.Notice != "" {
				fmt.Fprintln(w, snap.Notice)
			}
			printMemos(w, snap)
			last, printed = snap, true
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if snap.Bound {
			_ = app.Refresh(ctx)
		}
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			for key, value := range chai.GetVersion() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", key, value)
			}
		},
	}
}
