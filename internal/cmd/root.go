// Package cmd implements the peakscreen CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seqworks/peakscreen/internal/config"
	"github.com/seqworks/peakscreen/internal/observability"
	"github.com/seqworks/peakscreen/internal/server/handlers"
)

var rootCmd = &cobra.Command{
	Use:   "peakscreen",
	Short: "Batch scheduler and result compiler for per-region screening",
	Long: `peakscreen partitions a region list into scheduler-sized batches,
submits per-sample array jobs, polls them to completion, compiles the
per-region outputs into one file per sample, and finally unifies every
compiled sample into a cross-sample score matrix.

Runs are resumable: samples whose compiled result already exists are
skipped, so an interrupted run can simply be started again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd.Context(), rootConfigPath)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}
		appConfig = cfg

		level := cfg.Logging.Level
		if rootLogLevel != "" {
			level = rootLogLevel
		}
		return observability.Init(level, rootVerbose)
	},
}

var (
	rootConfigPath string
	rootVerbose    bool
	rootLogLevel   string

	appConfig *config.Config
)

// versionInfo holds build metadata injected through SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{Version: "dev", Commit: "HEAD", BuildDate: "unknown"}

// SetVersionInfo records build metadata from main's ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(handlers.VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Path to application config file")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Override log level (debug|info|warn|error)")
}

// exitCodeRe extracts the exit code suffix appended by exitError.
var exitCodeRe = regexp.MustCompile(`\(exit code (\d+)\)$`)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.CLILogger.Error("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)

		if m := exitCodeRe.FindStringSubmatch(err.Error()); m != nil {
			code, perr := strconv.Atoi(m[1])
			if perr == nil {
				return code
			}
		}
		if ctx.Err() != nil {
			return foundry.ExitSignalInt
		}
		return 1
	}
	return 0
}
