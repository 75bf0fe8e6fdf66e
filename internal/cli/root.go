// Package cli implements the andyhost command tree.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"andyhost/internal/agent"
	"andyhost/internal/config"
	"andyhost/internal/httpapi"
)

type flags struct {
	configPath string
	logLevel   string
	poolURL    string
	backendURL string
}

// Execute runs the command tree with args.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := NewRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCmd constructs the andyhost command tree.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "andyhost",
		Short:         "Share a local Ollama backend with an Andy API compute pool",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), f, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&f.poolURL, "pool-url", "", "Andy API base URL (overrides ANDY_API_URL)")
	pf.StringVar(&f.backendURL, "backend-url", "", "Ollama base URL (overrides OLLAMA_URL)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Join the pool, serve work and the status API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), f, stderr)
		},
	}

	joinCmd := &cobra.Command{
		Use:   "join",
		Short: "Join and verify membership once, then print the host id",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAgent(f, stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			snap, err := a.JoinOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), snap.HostID)
			return nil
		},
	}

	var hostID string
	leaveCmd := &cobra.Command{
		Use:   "leave",
		Short: "Tell the coordinator a host id is leaving the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			if hostID == "" {
				return errors.New("--host-id is required")
			}
			a, err := newAgent(f, stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.LeaveHost(cmd.Context(), hostID); err != nil {
				return fmt.Errorf("leave %s: %w", hostID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "left pool: %s\n", hostID)
			return nil
		},
	}
	leaveCmd.Flags().StringVar(&hostID, "host-id", "", "Host id to remove")

	poolStatusCmd := &cobra.Command{
		Use:   "pool-status",
		Short: "Print the coordinator's pool status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAgent(f, stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			raw, err := a.PoolStatus(cmd.Context())
			if err != nil {
				return err
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("decode pool status: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List models discovered in the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAgent(f, stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			models := a.Models(cmd.Context())
			if len(models) == 0 {
				return errors.New("no models found (is the backend reachable?)")
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tENABLED\tQUANT\tEMBED\tVISION\tAUDIO")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%t\t%t\t%t\n", m.Name, m.Enabled, m.Quantization, m.SupportsEmbedding, m.SupportsVision, m.SupportsAudio)
			}
			return tw.Flush()
		},
	}

	root.AddCommand(runCmd, joinCmd, leaveCmd, poolStatusCmd, modelsCmd)
	return root
}

// loadConfig merges file, environment and flags, in increasing precedence.
func loadConfig(f *flags) (config.Config, error) {
	var cfg config.Config
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, err
		}
	}
	cfg, err := config.FromEnv(cfg)
	if err != nil {
		return cfg, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.poolURL != "" {
		cfg.PoolURL = f.poolURL
	}
	if f.backendURL != "" {
		cfg.BackendURL = f.backendURL
	}
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

func newAgent(f *flags, stderr io.Writer) (*agent.Agent, error) {
	cfg, err := loadConfig(f)
	if err != nil {
		return nil, err
	}
	log := NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	return agent.New(cfg, log)
}

func runAgent(ctx context.Context, f *flags, stderr io.Writer) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	log := NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	a, err := agent.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(gctx) })
	if cfg.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           httpapi.NewMux(a, httpapi.Options{Logger: log, CORSOrigins: cfg.CORSOrigins}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error { return serve(gctx, srv, log) })
	}
	return g.Wait()
}

func serve(ctx context.Context, srv *http.Server, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("status API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("status API: %w", err)
			return
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return <-errCh
}
