package cmd

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seqworks/peakscreen/internal/observability"
	"github.com/seqworks/peakscreen/internal/server"
	"github.com/seqworks/peakscreen/internal/server/handlers"
	"github.com/seqworks/peakscreen/pkg/archive"
	"github.com/seqworks/peakscreen/pkg/manifest"
	"github.com/seqworks/peakscreen/pkg/pipeline"
	"github.com/seqworks/peakscreen/pkg/preflight"
	"github.com/seqworks/peakscreen/pkg/runstate"
	"github.com/seqworks/peakscreen/pkg/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a screening job from manifest",
	Long: `Run a screening job as defined in a YAML or JSON manifest file.

The manifest specifies the region list, sample list, per-sample inputs,
partitioning and polling behavior, and scheduler options.

Example:
  peakscreen run --job screen.yaml
  peakscreen run --job screen.yaml --status-addr 127.0.0.1:8844
  peakscreen run --job screen.yaml --dry-run`,
	RunE: runRun,
}

var (
	runJobPath    string
	runStatusAddr string
	runDryRun     bool
	runPlan       bool
	runNoArchive  bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runJobPath, "job", "j", "", "Path to job manifest (required)")
	runCmd.Flags().StringVar(&runStatusAddr, "status-addr", "", "Serve run progress on host:port while running")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate manifest and show plan without executing")
	runCmd.Flags().BoolVar(&runPlan, "plan", false, "Alias for --dry-run")
	runCmd.Flags().BoolVar(&runNoArchive, "no-archive", false, "Skip result archiving even if the manifest configures it")

	_ = runCmd.MarkFlagRequired("job")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(runJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", runJobPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", runJobPath),
		zap.String("output_root", m.Paths.OutputRoot),
		zap.Int("chunk_size", m.Screen.ChunkSize),
		zap.Int("batch_size", m.Screen.BatchSize))

	if runPlan || runDryRun {
		return showRunPlan(m)
	}

	// Preflight: every top-level path must exist before a single job is
	// submitted.
	pf := preflight.Run(m)
	for _, c := range pf.Failed() {
		observability.CLILogger.Error("Preflight check failed",
			zap.String("check", c.Check),
			zap.String("path", c.Path),
			zap.String("detail", c.Detail))
	}
	if err := pf.Err(); err != nil {
		return exitError(foundry.ExitFileReadError, "Preflight failed", err)
	}

	ctrl, err := pipeline.New(pipeline.Config{
		Manifest:     m,
		ManifestPath: runJobPath,
		Scheduler:    buildScheduler(m),
		Log:          observability.CLILogger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid pipeline configuration", err)
	}

	if runStatusAddr != "" {
		if err := startStatusServer(ctx, runStatusAddr, ctrl); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --status-addr", err)
		}
		defer handlers.SetProgressSource(nil)
	}

	record, err := ctrl.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			observability.CLILogger.Warn("Run cancelled", zap.Error(err))
			return exitError(foundry.ExitSignalInt, "Run cancelled", err)
		}
		observability.CLILogger.Error("Run failed", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Run failed", err)
	}

	if err := archiveRun(ctx, m, record); err != nil {
		observability.CLILogger.Error("Archiving failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Archiving failed", err)
	}

	return nil
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

// buildScheduler constructs the Slurm client. The manifest's overrides win
// over the application config's binary paths.
func buildScheduler(m *manifest.Manifest) scheduler.Scheduler {
	cfg := scheduler.SlurmConfig{
		Partition:   m.Scheduler.Partition,
		TimeLimit:   m.Scheduler.TimeLimit,
		CPUsPerTask: m.Scheduler.CPUsPerTask,
		Memory:      m.Scheduler.Memory,
	}
	if appConfig != nil {
		cfg.SbatchPath = appConfig.Scheduler.SbatchPath
		cfg.SqueuePath = appConfig.Scheduler.SqueuePath
	}
	if m.Scheduler.SbatchPath != "" {
		cfg.SbatchPath = m.Scheduler.SbatchPath
	}
	if m.Scheduler.SqueuePath != "" {
		cfg.SqueuePath = m.Scheduler.SqueuePath
	}
	return scheduler.NewSlurm(cfg)
}

// startStatusServer serves run progress in the background until ctx ends.
func startStatusServer(ctx context.Context, addr string, ctrl *pipeline.Controller) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("parse status address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("parse status port %q: %w", portStr, err)
	}

	handlers.SetProgressSource(ctrl.Snapshot)
	srv := server.New(host, port)
	go func() {
		if err := srv.Start(ctx); err != nil {
			observability.CLILogger.Warn("Status server stopped", zap.Error(err))
		}
	}()
	return nil
}

// archiveRun uploads run outputs when the manifest asks for it.
func archiveRun(ctx context.Context, m *manifest.Manifest, rec *runstate.Record) error {
	if runNoArchive || m.Archive == nil || m.Archive.S3 == nil {
		return nil
	}

	s3cfg := m.Archive.S3
	up, err := archive.New(ctx, archive.Config{
		Bucket:         s3cfg.Bucket,
		Prefix:         s3cfg.Prefix,
		Region:         s3cfg.Region,
		Endpoint:       s3cfg.Endpoint,
		Profile:        s3cfg.Profile,
		ForcePathStyle: s3cfg.ForcePathStyle || s3cfg.Endpoint != "",
	}, observability.CLILogger)
	if err != nil {
		return err
	}

	_, err = up.UploadRun(ctx, m, rec)
	return err
}
