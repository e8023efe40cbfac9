package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/croplens/croplens/internal/batch"
	"github.com/croplens/croplens/internal/imageref"
	"github.com/croplens/croplens/internal/predict"
	"github.com/croplens/croplens/internal/provider"
)

// batchCmd represents the batch command for parallel image processing.
var batchCmd = &cobra.Command{
	Use:   "batch [files or directories...]",
	Short: "Run disease detection over many images in parallel",
	Long: `Process multiple images through the dual-workflow prediction pipeline.
Inputs can be image files, directories, or a file listing image URLs. Items
are processed under a bounded worker pool; transient provider failures are
retried with exponential backoff, and a failure in one image never affects
the others. Output preserves input order.

Supported formats: PNG, JPEG, GIF, BMP, WebP

Examples:
  croplens batch *.jpg
  croplens batch images/ --recursive --workers 8
  croplens batch --urls urls.txt --format csv --output results.csv`,
	SilenceUsage: true,
	RunE:         runBatchCommand,
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	batchConfig := cfg.ToBatchConfig()
	if cmd.Flags().Changed("workers") {
		batchConfig.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("max-attempts") {
		batchConfig.MaxAttempts, _ = cmd.Flags().GetInt("max-attempts")
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		batchConfig.UseCache = false
	}
	batchConfig.Recursive, _ = cmd.Flags().GetBool("recursive")
	batchConfig.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	batchConfig.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")
	batchConfig.Quiet, _ = cmd.Flags().GetBool("quiet")

	format := cfg.Output.Format
	if format == "summary" {
		format = "json"
	}
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	outputFile := cfg.Output.File
	if cmd.Flags().Changed("output") {
		outputFile, _ = cmd.Flags().GetString("output")
	}

	images, err := collectBatchInputs(cmd, args, batchConfig)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return errors.New("no image inputs found")
	}

	client := provider.NewClient(cfg.ToProviderConfig())
	defer client.Close()
	pl := predict.New(client, cfg.ToPipelineConfig())

	// SIGINT stops dispatching new items; in-flight items drain first.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result := batch.Run(ctx, pl, images, batchConfig)

	if err := result.SaveResults(format, outputFile, batchConfig.Quiet); err != nil {
		return err
	}
	if showStats, _ := cmd.Flags().GetBool("stats"); showStats {
		result.PrintStats(batchConfig.Quiet)
	}
	return nil
}

// collectBatchInputs gathers the run's images from file/directory arguments
// and the optional URL list.
func collectBatchInputs(cmd *cobra.Command, args []string, cfg batch.Config) ([]imageref.Image, error) {
	var images []imageref.Image

	if len(args) > 0 {
		fromFiles, err := batch.DiscoverImages(args, cfg)
		if err != nil {
			return nil, err
		}
		images = append(images, fromFiles...)
	}

	if urlsFile, _ := cmd.Flags().GetString("urls"); urlsFile != "" {
		fromURLs, err := batch.LoadURLList(urlsFile)
		if err != nil {
			return nil, err
		}
		images = append(images, fromURLs...)
	}

	return images, nil
}

func init() {
	batchCmd.Flags().IntP("workers", "w", 4, "number of parallel prediction pipelines")
	batchCmd.Flags().Int("max-attempts", 3, "maximum attempts per image for transient failures")
	batchCmd.Flags().Bool("no-cache", false, "bypass the result cache")
	batchCmd.Flags().BoolP("recursive", "r", false, "recurse into subdirectories")
	batchCmd.Flags().StringSlice("include", nil, "glob patterns of file names to include")
	batchCmd.Flags().StringSlice("exclude", nil, "glob patterns of file names to exclude")
	batchCmd.Flags().String("urls", "", "file listing image URLs, one per line")
	batchCmd.Flags().StringP("format", "f", "json", "output format (json, yaml, csv, text)")
	batchCmd.Flags().StringP("output", "o", "", "write results to file instead of stdout")
	batchCmd.Flags().BoolP("quiet", "q", false, "suppress non-result output")
	batchCmd.Flags().Bool("stats", false, "print processing statistics")
	rootCmd.AddCommand(batchCmd)
}
