// The edge binary connects outbound to the todoforai coordination server
// and executes privileged local actions on its behalf: shell execution,
// file I/O, workspace browsing, tool installation, and configuration
// reconciliation. Flag/env wiring follows goclaw's cobra root command
// (cmd/root.go) and the nexus-edge reference daemon's flag set.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/todoforai/edge/internal/config"
	"github.com/todoforai/edge/internal/connection"
	"github.com/todoforai/edge/internal/core"
	"github.com/todoforai/edge/internal/handlers"
	"github.com/todoforai/edge/internal/toolcatalog"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		apiKey          string
		apiURL          string
		debug           bool
		addPath         string
		noInteractive   bool
	)

	root := &cobra.Command{
		Use:   "edge",
		Short: "todoforai edge agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), apiKey, apiURL, debug, addPath, !noInteractive)
		},
	}

	root.Flags().StringVar(&apiKey, "api-key", "", "API key (env TODOFORAI_API_KEY / TODO4AI_API_KEY)")
	root.Flags().StringVar(&apiURL, "api-url", "", "coordination server base URL (env TODOFORAI_API_URL / TODO4AI_API_URL)")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging (env TODOFORAI_DEBUG)")
	root.Flags().StringVar(&addPath, "add-path", "", "workspace path to add once connected")
	root.Flags().BoolVar(&noInteractive, "no-interactive", false, "fail instead of interactively re-prompting for an API key")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the edge version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	return root
}

func run(ctx context.Context, apiKeyFlag, apiURLFlag string, debugFlag bool, addPath string, interactive bool) error {
	settings := config.DefaultSettings()
	_ = config.LoadSettingsFile(settings, config.DefaultSettingsPath())
	config.ApplyEnvOverlay(settings)

	if apiKeyFlag != "" {
		settings.APIKey = apiKeyFlag
	}
	if apiURLFlag != "" {
		settings.APIURL = apiURLFlag
	}
	if debugFlag {
		settings.Debug = true
	}

	log := newLogger(settings.Debug)
	slog.SetDefault(log)

	if settings.APIKey == "" {
		return fmt.Errorf("edge: no API key provided (--api-key or TODOFORAI_API_KEY)")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	record := config.New()
	if addPath != "" {
		record.SetPendingAddPath(addPath)
	}

	toolsDir, err := config.ToolsDir()
	if err != nil {
		return err
	}

	c := core.New(record, toolsDir, toolcatalog.StaticURLResolver{}, defaultShell(), settings.Debug, log)
	if c.Watcher != nil {
		c.Watcher.Start(ctx)
		defer c.Watcher.Stop()
	}

	interactive = interactive && term.IsTerminal(int(os.Stdin.Fd()))
	var prompter connection.KeyPrompter
	if interactive {
		prompter = huhPrompter{}
	}

	sup := connection.New(settings.APIURL, settings.APIKey, interactive, prompter, record, c.Dispatcher, log)
	c.AttachSupervisor(sup)
	handlers.Register(c.Dispatcher, c)

	return sup.Run(ctx)
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "sh"
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if debug || os.Getenv("LOG_FORMAT") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
