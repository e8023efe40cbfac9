package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// formatResults renders a batch run in the requested format.
func formatResults(r *Result, format string) (string, error) {
	switch format {
	case "json", "":
		bts, err := json.MarshalIndent(r, "", "  ")
		return string(bts) + "\n", err
	case "yaml":
		bts, err := yaml.Marshal(r)
		return string(bts), err
	case "csv":
		return formatCSV(r)
	case "text":
		return formatText(r), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// formatCSV emits one row per item with the headline prediction fields.
func formatCSV(r *Result) (string, error) {
	rows := [][]string{{
		"source", "success", "chosen_model", "confidence", "detection_count",
		"rice_confidence", "wheat_confidence", "attempts", "duration_ms", "error",
	}}

	for _, it := range r.Items {
		row := []string{
			it.Source,
			strconv.FormatBool(it.Success),
			"", "", "", "", "",
			strconv.Itoa(it.Attempts),
			strconv.FormatInt(it.DurationMs, 10),
			it.Error,
		}
		if it.Prediction != nil {
			row[2] = string(it.Prediction.ChosenModel)
			row[3] = fmt.Sprintf("%.4f", it.Prediction.Confidence)
			row[4] = strconv.Itoa(it.Prediction.DetectionCount)
			row[5] = fmt.Sprintf("%.4f", it.Prediction.Metadata.RiceConfidence)
			row[6] = fmt.Sprintf("%.4f", it.Prediction.Metadata.WheatConfidence)
		}
		rows = append(rows, row)
	}

	var output strings.Builder
	writer := csv.NewWriter(&output)
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return "", err
		}
	}
	writer.Flush()
	return output.String(), writer.Error()
}

// formatText emits a human-readable per-item summary.
func formatText(r *Result) string {
	var output strings.Builder
	for _, it := range r.Items {
		output.WriteString("# " + it.Source + "\n")
		if it.Success && it.Prediction != nil {
			fmt.Fprintf(&output, "  chosen_model: %s  confidence: %.4f  detections: %d\n",
				it.Prediction.ChosenModel, it.Prediction.Confidence, it.Prediction.DetectionCount)
		} else {
			fmt.Fprintf(&output, "  failed (%s): %s\n", it.ErrorKind, it.Error)
		}
	}
	fmt.Fprintf(&output, "\n%d/%d succeeded (%s)\n", r.Summary.Succeeded, r.Summary.Total, r.Summary.Status)
	return output.String()
}
