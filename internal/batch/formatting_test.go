package batch

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/croplens/croplens/internal/predict"
	"github.com/croplens/croplens/internal/selector"
)

func sampleResult() *Result {
	return &Result{
		Items: []ItemOutcome{
			{
				Source:  "leaf-1.jpg",
				Success: true,
				Prediction: &predict.Result{
					ChosenModel:    selector.ModelRice,
					Confidence:     0.8765,
					DetectionCount: 2,
					Metadata: predict.Metadata{
						RiceConfidence:  0.8765,
						WheatConfidence: 0.321,
					},
				},
				Attempts:   1,
				DurationMs: 120,
			},
			{
				Source:     "leaf-2.jpg",
				Error:      "both providers failed: rice: timeout; wheat: timeout",
				ErrorKind:  "aggregate_failure",
				Attempts:   3,
				DurationMs: 900,
			},
		},
		Summary: Summary{
			Status:     StatusPartial,
			Total:      2,
			Succeeded:  1,
			Failed:     1,
			DurationMs: 1020,
			Workers:    4,
		},
	}
}

func TestFormatResults_JSON(t *testing.T) {
	out, err := sampleResult().FormatResults("json")
	require.NoError(t, err)

	var decoded Result
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Items, 2)
	assert.Equal(t, "leaf-1.jpg", decoded.Items[0].Source)
	assert.Equal(t, StatusPartial, decoded.Summary.Status)
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestFormatResults_EmptyFormatDefaultsToJSON(t *testing.T) {
	out, err := sampleResult().FormatResults("")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(out)))
}

func TestFormatResults_YAML(t *testing.T) {
	out, err := sampleResult().FormatResults("yaml")
	require.NoError(t, err)

	var decoded Result
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, 2, decoded.Summary.Total)
	assert.Equal(t, selector.ModelRice, decoded.Items[0].Prediction.ChosenModel)
}

func TestFormatResults_CSV(t *testing.T) {
	out, err := sampleResult().FormatResults("csv")
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "source", rows[0][0])
	assert.Equal(t, []string{
		"leaf-1.jpg", "true", "rice", "0.8765", "2", "0.8765", "0.3210", "1", "120", "",
	}, rows[1])
	assert.Equal(t, "false", rows[2][1])
	assert.Equal(t, "3", rows[2][7])
	assert.NotEmpty(t, rows[2][9])
}

func TestFormatResults_Text(t *testing.T) {
	out, err := sampleResult().FormatResults("text")
	require.NoError(t, err)

	assert.Contains(t, out, "# leaf-1.jpg")
	assert.Contains(t, out, "chosen_model: rice")
	assert.Contains(t, out, "failed (aggregate_failure)")
	assert.Contains(t, out, "1/2 succeeded (partial)")
}

func TestFormatResults_UnsupportedFormat(t *testing.T) {
	_, err := sampleResult().FormatResults("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}
