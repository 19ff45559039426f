// Command memcored is the memory engine daemon: a long-running process
// serving the tool protocol over stdio, plus a one-shot mode that runs a
// consolidation pass without a client attached. --demo serves the shared
// demo workspace instead of a --workspace store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	daemonlib "github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"

	"github.com/localmemory/memcore/internal/config"
	"github.com/localmemory/memcore/internal/daemon"
)

const (
	exitOK           = 0
	exitConfigError  = 2
	exitStartupError = 3
	exitRuntimeError = 1
)

var (
	flagWorkspace   string
	flagDaemon      bool
	flagConsolidate bool
	flagDemo        bool
	flagPort        int
	flagLogLevel    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitRuntimeError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memcored",
	Short: "Persistent semantic memory engine for a conversational assistant",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagWorkspace, "workspace", "", "Workspace directory this memory store is scoped to (required unless --demo)")
	flags.BoolVar(&flagDaemon, "daemon", false, "Background the process after startup")
	flags.BoolVar(&flagConsolidate, "consolidate", false, "Run one full consolidation pass and exit")
	flags.BoolVar(&flagDemo, "demo", false, "Use the shared demo workspace instead of --workspace")
	flags.IntVar(&flagPort, "port", 0, "Health endpoint port (0 uses the default)")
	flags.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, args []string) error {
	log := newLogger(flagLogLevel)

	cfg := config.FromEnv()
	if flagWorkspace != "" {
		cfg.WorkspaceDir = flagWorkspace
	}
	if flagDemo {
		cfg.DemoMode = true
	}
	if cfg.WorkspaceDir == "" && !cfg.DemoMode {
		fmt.Fprintln(os.Stderr, "Error: --workspace (or WORKSPACE_DIR) is required unless --demo (or DEMO_MODE=1) is set")
		os.Exit(exitConfigError)
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: resolving home directory: %v\n", err)
			os.Exit(exitConfigError)
		}
		cfg.DataDir = filepath.Join(home, ".memcore")
	}
	if flagPort > 0 {
		cfg.HealthPort = flagPort
	}

	if flagDaemon {
		return runDaemonized(cfg, log)
	}

	d, err := daemon.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: starting daemon: %v\n", err)
		os.Exit(exitStartupError)
	}
	defer d.Close()

	if flagConsolidate {
		return runConsolidateOnce(d, log)
	}

	return runForeground(d, log)
}

// runDaemonized backgrounds the process via sevlyar/go-daemon: a PID and
// log file under the resolved data directory, the parent returning
// immediately once the child has forked.
func runDaemonized(cfg config.Config, log zerolog.Logger) error {
	dataDir := cfg.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: creating data directory: %v\n", err)
		os.Exit(exitStartupError)
	}

	cntxt := &daemonlib.Context{
		PidFileName: filepath.Join(dataDir, "memcored.pid"),
		PidFilePerm: 0o644,
		LogFileName: filepath.Join(dataDir, "memcored.log"),
		LogFilePerm: 0o640,
		WorkDir:     "./",
		Umask:       0o027,
	}

	child, err := cntxt.Reborn()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: daemonizing: %v\n", err)
		os.Exit(exitStartupError)
	}
	if child != nil {
		fmt.Printf("memcored started, pid %d\n", child.Pid)
		return nil
	}
	defer cntxt.Release()

	d, err := daemon.New(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("daemon startup failed")
		os.Exit(exitStartupError)
	}
	defer d.Close()

	return runForeground(d, log)
}

func runForeground(d *daemon.Daemon, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		log.Error().Err(err).Msg("daemon exited with error")
		os.Exit(exitRuntimeError)
	}
	return nil
}

func runConsolidateOnce(d *daemon.Daemon, log zerolog.Logger) error {
	report, err := d.Consolidate().FullConsolidation(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: consolidation failed: %v\n", err)
		os.Exit(exitRuntimeError)
	}
	fmt.Printf("decayed=%d merged=%d patterns_detected=%d\n", report.DecayedN, report.MergedN, report.PatternsDetectedN)
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}
