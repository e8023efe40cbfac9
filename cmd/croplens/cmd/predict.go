package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/croplens/croplens/internal/imageref"
	"github.com/croplens/croplens/internal/predict"
	"github.com/croplens/croplens/internal/provider"
)

const (
	outputFormatSummary  = "summary"
	outputFormatDetailed = "detailed"
	outputFormatJSON     = "json"
	outputFormatYAML     = "yaml"
)

// predictCmd represents the predict command.
var predictCmd = &cobra.Command{
	Use:   "predict [image]",
	Short: "Run disease detection on a single crop image",
	Long: `Submit one image (local file or URL) to both detection workflows and
print the selected verdict.

Examples:
  croplens predict leaf.jpg
  croplens predict leaf.jpg --output detailed
  croplens predict https://example.com/field.jpg --output json
  croplens predict leaf.jpg --no-cache`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		format, _ := cmd.Flags().GetString("output")
		noCache, _ := cmd.Flags().GetBool("no-cache")
		outFile, _ := cmd.Flags().GetString("output-file")

		img, err := resolveImageArg(args[0])
		if err != nil {
			return err
		}

		client := provider.NewClient(cfg.ToProviderConfig())
		defer client.Close()
		pl := predict.New(client, cfg.ToPipelineConfig())

		res, err := pl.Predict(context.Background(), img, predict.Options{UseCache: !noCache})
		if err != nil {
			var agg *predict.AggregateError
			if errors.As(err, &agg) {
				return fmt.Errorf("prediction failed, no provider answered: %w", err)
			}
			return err
		}

		output, err := formatPrediction(res, format)
		if err != nil {
			return err
		}

		if outFile != "" {
			if err := os.WriteFile(outFile, []byte(output), 0o600); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			return nil
		}
		_, _ = fmt.Fprint(cmd.OutOrStdout(), output)
		return nil
	},
}

// resolveImageArg treats the argument as a URL when it parses as one,
// otherwise as a local file path.
func resolveImageArg(arg string) (imageref.Image, error) {
	if img, err := imageref.FromURL(arg); err == nil {
		return img, nil
	}
	return imageref.FromFile(arg)
}

// formatPrediction renders a prediction in the requested CLI format.
func formatPrediction(res *predict.Result, format string) (string, error) {
	switch format {
	case outputFormatJSON:
		bts, err := json.MarshalIndent(res, "", "  ")
		return string(bts) + "\n", err

	case outputFormatYAML:
		bts, err := yaml.Marshal(res)
		return string(bts), err

	case outputFormatDetailed:
		var b []byte
		b = fmt.Appendf(b, "Rice confidence: %.4f\n", res.Metadata.RiceConfidence)
		b = fmt.Appendf(b, "Wheat confidence: %.4f\n", res.Metadata.WheatConfidence)
		b = fmt.Appendf(b, "Chosen model: %s\n", res.ChosenModel)
		b = fmt.Appendf(b, "Max confidence: %.4f\n", res.Confidence)
		b = fmt.Appendf(b, "Detection count: %d\n", res.DetectionCount)
		if res.Metadata.PartialFailure {
			b = fmt.Appendf(b, "Partial failure: %s provider did not answer\n", res.Metadata.FailedProvider)
		}
		b = append(b, "\nDetections:\n"...)
		for i, d := range res.Detections {
			b = fmt.Appendf(b, "  %d. %s (confidence: %.4f)\n", i+1, d.Class, d.Confidence)
		}
		return string(b), nil

	case outputFormatSummary, "":
		var b []byte
		b = fmt.Appendf(b, "Chosen model: %s\n", res.ChosenModel)
		b = fmt.Appendf(b, "Confidence: %.4f\n", res.Confidence)
		b = fmt.Appendf(b, "Detections found: %d\n", res.DetectionCount)
		if res.DetectionCount > 0 {
			top := res.Detections[0]
			for _, d := range res.Detections[1:] {
				if d.Confidence > top.Confidence {
					top = d
				}
			}
			b = append(b, "Top detection:\n"...)
			b = fmt.Appendf(b, "  - %s (confidence: %.4f)\n", top.Class, top.Confidence)
		}
		return string(b), nil

	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

func init() {
	predictCmd.Flags().String("output", outputFormatSummary, "output format (summary, detailed, json, yaml)")
	predictCmd.Flags().String("output-file", "", "write output to file instead of stdout")
	predictCmd.Flags().Bool("no-cache", false, "bypass the result cache and provider-side caching")
	rootCmd.AddCommand(predictCmd)
}
