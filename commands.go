package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/arch-linux-gui/alg-welcome/internal/config"
	"github.com/arch-linux-gui/alg-welcome/internal/eventbus"
	"github.com/arch-linux-gui/alg-welcome/internal/httpapi"
	"github.com/arch-linux-gui/alg-welcome/internal/logging"
	"github.com/arch-linux-gui/alg-welcome/internal/mirror"
	"github.com/arch-linux-gui/alg-welcome/internal/model"
	"github.com/arch-linux-gui/alg-welcome/internal/service"
	"github.com/arch-linux-gui/alg-welcome/internal/tui"
)

// loadConfig resolves the config and applies the --log-level override.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		level, err := cmd.Flags().GetString("log-level")
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = level
	}
	return cfg, nil
}

// newCoordinator wires the mirror-list pipeline from configuration.
func newCoordinator(cfg *config.Config, log *slog.Logger) *service.Coordinator {
	m := cfg.Mirrors
	return service.NewCoordinator(service.CoordinatorOptions{
		Build: mirror.BuildOptions{
			Elevation: m.Elevation,
			Reflector: m.Reflector,
			SavePath:  m.SavePath,
			Countries: m.Countries,
		},
		LogClear: m.LogClear,
		Runner: service.NewRunner(service.RunnerOptions{
			StreamMode:  m.StreamMode,
			GracePeriod: m.GracePeriod,
			Elevation:   m.Elevation,
			Logger:      log.With("component", "runner"),
		}),
		Bus:    eventbus.New(log.With("component", "eventbus")),
		Form:   service.NewForm(m.Defaults()),
		Logger: log.With("component", "coordinator"),
	})
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "welcome",
		Short:         "ALG Welcome screen",
		Long:          "Welcome opens the ALG Welcome window. Subcommands update the pacman mirror list from a terminal or serve the update pipeline over HTTP.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runGUI(cfg)
		},
	}

	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newMirrorsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	return cmd
}

func newMirrorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirrors",
		Short: "Rank mirrors with reflector and rewrite the pacman mirror list",
		Example: `  welcome mirrors --country Norway --country France
  welcome mirrors -c Germany --http --sort age --latest 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			req, err := mirrorRequest(cmd, cfg)
			if err != nil {
				return err
			}
			plain, err := cmd.Flags().GetBool("plain")
			if err != nil {
				return err
			}

			interactive := !plain && isInteractive(os.Stdin) && isInteractive(os.Stdout)
			log, closeLog, err := mirrorsLogger(cfg, interactive)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			coord := newCoordinator(cfg, log)
			var result model.RunResult
			if interactive {
				result, err = tui.Run(ctx, coord, req, tui.Options{})
			} else {
				result, err = runMirrorsPlain(ctx, coord, req, cmd.OutOrStdout())
			}
			if err != nil {
				return err
			}
			if !result.Success {
				return errors.New(result.Message)
			}
			if !interactive {
				fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceP("country", "c", nil, "Country to rank mirrors from (repeatable)")
	cmd.Flags().Bool("https", true, "Include HTTPS mirrors")
	cmd.Flags().Bool("http", false, "Include HTTP mirrors")
	cmd.Flags().String("sort", "", "Sort key (rate, age, score, delay, country)")
	cmd.Flags().Int("latest", 0, "Number of most recently synced mirrors to keep")
	cmd.Flags().Int("timeout", 0, "Per-mirror download timeout in seconds")
	cmd.Flags().Bool("plain", false, "Print raw output instead of the terminal UI")
	return cmd
}

// mirrorRequest starts from the configured form defaults and applies the flags
// the user set. Countries are checked against the configured allow-list.
func mirrorRequest(cmd *cobra.Command, cfg *config.Config) (model.MirrorUpdateRequest, error) {
	flags := cmd.Flags()
	form := service.NewForm(cfg.Mirrors.Defaults())

	countries, err := flags.GetStringSlice("country")
	if err != nil {
		return model.MirrorUpdateRequest{}, err
	}
	for _, c := range countries {
		if slices.Contains(form.Params().Countries, c) {
			continue
		}
		if _, err := form.ToggleCountry(c); err != nil {
			return model.MirrorUpdateRequest{}, err
		}
	}

	params := form.Params()
	https, http := params.IncludeHTTPS, params.IncludeHTTP
	if flags.Changed("https") {
		https, _ = flags.GetBool("https")
	}
	if flags.Changed("http") {
		http, _ = flags.GetBool("http")
	}
	form.SetProtocol(https, http)

	if flags.Changed("sort") {
		sortBy, _ := flags.GetString("sort")
		if err := form.SetSort(sortBy); err != nil {
			return model.MirrorUpdateRequest{}, err
		}
	}

	req := form.Request()
	if flags.Changed("latest") {
		req.MaxMirrors, _ = flags.GetInt("latest")
	}
	if flags.Changed("timeout") {
		req.DownloadTimeoutSeconds, _ = flags.GetInt("timeout")
	}
	return req, nil
}

// mirrorsLogger keeps JSON logs off the terminal while the TUI owns it.
func mirrorsLogger(cfg *config.Config, interactive bool) (*slog.Logger, func(), error) {
	if !interactive {
		return logging.NewWithLevel("welcome", cfg.LogLevel), func() {}, nil
	}
	if err := os.MkdirAll(cfg.AppDataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(cfg.AppDataDir, "welcome.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logging.NewWriter(file, "welcome", cfg.LogLevel), func() { file.Close() }, nil
}

// runMirrorsPlain prints each line as it arrives. Cancelling ctx cancels the run.
func runMirrorsPlain(ctx context.Context, coord *service.Coordinator, req model.MirrorUpdateRequest, out io.Writer) (model.RunResult, error) {
	unfollow := coord.Bus().Follow(func(line model.LogLine) {
		fmt.Fprintln(out, line.Text)
	})
	defer unfollow()

	if _, err := coord.Start(ctx, req); err != nil && !errors.Is(err, service.ErrRunInProgress) {
		return model.RunResult{}, err
	}

	stop := context.AfterFunc(ctx, func() {
		if err := coord.Cancel(); err != nil && !errors.Is(err, service.ErrNoActiveRun) {
			fmt.Fprintln(out, "Error:", err)
		}
	})
	defer stop()

	result, _, err := coord.Wait(context.WithoutCancel(ctx))
	return result, err
}

func isInteractive(file *os.File) bool {
	if file == nil {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mirror-list pipeline over HTTP, SSE and WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			log := logging.NewWithLevel("welcome", cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			coord := newCoordinator(cfg, log)
			handler := httpapi.NewRouter(httpapi.NewMirrorHandler(coord, cfg.Mirrors, log.With("component", "httpapi")))
			srv := httpapi.NewServer(cfg.Server.Listen, handler, log.With("component", "http"))

			serveErr := srv.Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Mirrors.GracePeriod+5*time.Second)
			defer cancel()
			if err := coord.Shutdown(shutdownCtx); err != nil {
				log.Warn("mirror-list update did not finish before shutdown", "error", err)
			}
			return serveErr
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen)")
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the tools the Welcome app runs are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			prereqs := service.CheckPrerequisites(cfg.Mirrors)
			printPrerequisites(cmd.OutOrStdout(), prereqs)
			if missing := service.MissingRequired(prereqs); len(missing) > 0 {
				return fmt.Errorf("missing required tools: %v", missing)
			}
			return nil
		},
	}
}

func printPrerequisites(out io.Writer, prereqs []model.Prerequisite) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tSTATUS\tVERSION\tPATH")
	for _, p := range prereqs {
		status := "ok"
		switch {
		case !p.Installed && p.Required:
			status = "missing"
		case !p.Installed:
			status = "missing (optional)"
		case p.Message != "":
			status = p.Message
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, status, p.Version, p.Path)
	}
	tw.Flush()
}
