// mcp-coder is the workflow coordinator CLI: it sweeps configured
// repositories for label-eligible issues, dispatches LLM workflows to the
// remote executor, and manages attended editor sessions.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcp-coder/coordinator/internal/coordinator"
	"github.com/mcp-coder/coordinator/internal/issuecache"
	"github.com/mcp-coder/coordinator/internal/labels"
	"github.com/mcp-coder/coordinator/internal/logging"
	"github.com/mcp-coder/coordinator/internal/telemetry"
)

const version = "1.0.0"

var (
	configPath string
	logLevel   string
	logFile    string

	logManager *logging.Manager
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mcp-coder",
		Short:         "Label-driven workflow coordinator for issue-to-PR automation",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.mcp_coder/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append JSONL log records to this file")

	// The interceptor is installed after flag parsing so --log-level and
	// --log-file apply.
	var sink io.Closer
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logManager = logging.NewManager(logLevel)
		logManager.InstallInterceptor()
		if logFile != "" {
			s, err := logManager.OpenSink(logFile)
			if err != nil {
				return err
			}
			sink = s
		}
		return nil
	}

	rootCmd.AddCommand(newCoordinatorCommand())
	rootCmd.AddCommand(newBranchStatusCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, "mcp-coder")
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry init: %v\n", err)
		os.Exit(2)
	}

	err = rootCmd.ExecuteContext(ctx)
	_ = shutdown(context.Background())
	if sink != nil {
		_ = sink.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(coordinator.ExitCode(err))
	}
}

// cacheDir places the issue cache next to the session store, under the
// platform config directory.
func cacheDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return fmt.Sprintf("%s/mcp_coder/coordinator_cache", base), nil
}

func openCache() (*issuecache.Cache, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, err
	}
	return issuecache.New(dir)
}

func loadSchema() (*labels.Registry, error) {
	if override := os.Getenv("MCP_CODER_LABEL_SCHEMA"); override != "" {
		return labels.LoadFile(override)
	}
	return labels.Load()
}
