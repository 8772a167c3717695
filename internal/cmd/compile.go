package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seqworks/peakscreen/internal/observability"
	"github.com/seqworks/peakscreen/pkg/compile"
	"github.com/seqworks/peakscreen/pkg/manifest"
	"github.com/seqworks/peakscreen/pkg/partition"
	"github.com/seqworks/peakscreen/pkg/regions"
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile one sample's per-region outputs",
	Long: `Compile a sample's per-region output files into its single tagged
result file, independent of a run. Useful to redo a compilation after
fixing individual region outputs by hand.

Example:
  peakscreen compile --job screen.yaml --sample GM12878`,
	RunE: runCompile,
}

var (
	compileJobPath string
	compileSample  string
)

func init() {
	rootCmd.AddCommand(compileCmd)

	compileCmd.Flags().StringVarP(&compileJobPath, "job", "j", "", "Path to job manifest (required)")
	compileCmd.Flags().StringVarP(&compileSample, "sample", "s", "", "Sample name (required)")

	_ = compileCmd.MarkFlagRequired("job")
	_ = compileCmd.MarkFlagRequired("sample")
}

func runCompile(_ *cobra.Command, _ []string) error {
	m, err := manifest.Load(compileJobPath)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	regionList, err := regions.LoadFile(m.Paths.RegionList)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read region list", err)
	}
	plan := partition.Split(regionList, m.Screen.ChunkSize, m.Screen.BatchSize)

	sum, err := compile.New(observability.CLILogger).Run(
		m.SampleDir(compileSample),
		m.CompiledPath(compileSample),
		plan.Manifest(),
	)
	if err != nil {
		observability.CLILogger.Error("Compilation failed",
			zap.String("sample", compileSample),
			zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Compilation failed", err)
	}

	if !sum.Wrote {
		fmt.Printf("No region output files found for %s; nothing compiled.\n", compileSample)
		return nil
	}
	fmt.Printf("Compiled %s: %d files, %d rows -> %s\n",
		compileSample, sum.FilesFound, sum.Rows, m.CompiledPath(compileSample))
	if len(sum.MissingTokens) > 0 {
		fmt.Printf("Missing regions: %d (first: %s)\n", len(sum.MissingTokens), sum.MissingTokens[0])
	}
	return nil
}
