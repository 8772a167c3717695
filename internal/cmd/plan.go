package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/seqworks/peakscreen/pkg/manifest"
	"github.com/seqworks/peakscreen/pkg/partition"
	"github.com/seqworks/peakscreen/pkg/regions"
	"github.com/seqworks/peakscreen/pkg/samples"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the partition plan for a job manifest",
	Long: `Load a job manifest, partition its region list, and print what a run
would submit, without touching the scheduler.

Example:
  peakscreen plan --job screen.yaml`,
	RunE: runShowPlan,
}

var planJobPath string

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVarP(&planJobPath, "job", "j", "", "Path to job manifest (required)")
	_ = planCmd.MarkFlagRequired("job")
}

func runShowPlan(_ *cobra.Command, _ []string) error {
	m, err := manifest.Load(planJobPath)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	return showRunPlan(m)
}

// showRunPlan displays what a run would submit without executing.
func showRunPlan(m *manifest.Manifest) error {
	regionList, err := regions.LoadFile(m.Paths.RegionList)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read region list", err)
	}
	sampleList, err := samples.LoadFile(m.Paths.SampleList)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read sample list", err)
	}

	plan := partition.Split(regionList, m.Screen.ChunkSize, m.Screen.BatchSize)

	fmt.Println("=== Screening Plan (dry-run) ===")
	fmt.Println()
	fmt.Printf("Regions:     %d\n", plan.Total)
	fmt.Printf("Samples:     %d\n", len(sampleList))
	fmt.Printf("Chunk size:  %d\n", m.Screen.ChunkSize)
	fmt.Printf("Batch size:  %d\n", m.Screen.BatchSize)
	fmt.Printf("Chunks:      %d\n", len(plan.Chunks))
	fmt.Printf("Batches:     %d per sample, %d total\n", plan.NumBatches(), plan.NumBatches()*len(sampleList))
	fmt.Println()
	fmt.Printf("Wrapper:     %s\n", m.Scheduler.Wrapper)
	if m.Scheduler.Partition != "" {
		fmt.Printf("Partition:   %s\n", m.Scheduler.Partition)
	}
	fmt.Printf("Output root: %s\n", m.Paths.OutputRoot)
	if m.Archive != nil && m.Archive.S3 != nil {
		fmt.Printf("Archive:     s3://%s/%s\n", m.Archive.S3.Bucket, m.Archive.S3.Prefix)
	}
	fmt.Println()

	fmt.Println("Chunks:")
	for _, c := range plan.Chunks {
		fmt.Printf("  chunk%d: %d regions, %d batches", c.Index, len(c.Regions), len(c.Batches))
		if len(c.Batches) > 0 {
			first := c.Batches[0]
			last := c.Batches[len(c.Batches)-1]
			fmt.Printf(" (%s .. %s)", first.ArrayRange(), last.ArrayRange())
		}
		fmt.Println()
	}
	fmt.Println()
	fmt.Println("Manifest validated successfully. Remove --dry-run to execute.")
	return nil
}
