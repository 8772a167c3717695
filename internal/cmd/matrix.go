package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seqworks/peakscreen/internal/observability"
	"github.com/seqworks/peakscreen/pkg/manifest"
	"github.com/seqworks/peakscreen/pkg/matrix"
	"github.com/seqworks/peakscreen/pkg/runstate"
)

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Build the cross-sample score matrix",
	Long: `Scan the output root for compiled sample files and build the unified
peak-by-sample score matrix, independent of a run.

Example:
  peakscreen matrix --job screen.yaml`,
	RunE: runMatrix,
}

var matrixJobPath string

func init() {
	rootCmd.AddCommand(matrixCmd)

	matrixCmd.Flags().StringVarP(&matrixJobPath, "job", "j", "", "Path to job manifest (required)")
	_ = matrixCmd.MarkFlagRequired("job")
}

func runMatrix(cmd *cobra.Command, _ []string) error {
	m, err := manifest.Load(matrixJobPath)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	sum, err := matrix.New(observability.CLILogger).Build(m.Paths.OutputRoot, m.MatrixPath())
	if err != nil {
		observability.CLILogger.Error("Matrix build failed", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Matrix build failed", err)
	}

	fmt.Printf("Matrix written: %s (%d samples, %d regions)\n", sum.Path, sum.Samples, sum.Regions)

	if err := archiveRun(cmd.Context(), m, &runstate.Record{MatrixPath: sum.Path}); err != nil {
		observability.CLILogger.Error("Archiving failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Archiving failed", err)
	}
	return nil
}
