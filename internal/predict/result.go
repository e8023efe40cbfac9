// Package predict combines the two workflow invocations into the service's
// canonical prediction: it fans out to both providers, selects the
// authoritative model and assembles the final record.
package predict

import (
	"encoding/json"
	"fmt"

	"github.com/croplens/croplens/internal/detection"
	"github.com/croplens/croplens/internal/provider"
	"github.com/croplens/croplens/internal/selector"
)

// Metadata carries both workflows' confidences, the active policy and call
// timing alongside the prediction.
type Metadata struct {
	RiceConfidence         float64 `json:"rice_confidence" yaml:"rice_confidence"`
	WheatConfidence        float64 `json:"wheat_confidence" yaml:"wheat_confidence"`
	MinConfidenceThreshold float64 `json:"min_confidence_threshold" yaml:"min_confidence_threshold"`
	ConfidenceMargin       float64 `json:"confidence_margin" yaml:"confidence_margin"`
	RiceTimeMs             int64   `json:"rice_time_ms,omitempty" yaml:"rice_time_ms,omitempty"`
	WheatTimeMs            int64   `json:"wheat_time_ms,omitempty" yaml:"wheat_time_ms,omitempty"`
	ProcessingTimeMs       int64   `json:"processing_time_ms,omitempty" yaml:"processing_time_ms,omitempty"`
	WorkflowID             string  `json:"workflow_id,omitempty" yaml:"workflow_id,omitempty"`
	ImageWidth             int     `json:"image_width,omitempty" yaml:"image_width,omitempty"`
	ImageHeight            int     `json:"image_height,omitempty" yaml:"image_height,omitempty"`
	// PartialFailure is set when exactly one workflow failed and the
	// prediction proceeded on the survivor alone.
	PartialFailure bool   `json:"partial_failure,omitempty" yaml:"partial_failure,omitempty"`
	FailedProvider string `json:"failed_provider,omitempty" yaml:"failed_provider,omitempty"`
	CacheHit       bool   `json:"cache_hit,omitempty" yaml:"cache_hit,omitempty"`
}

// Result is the canonical prediction record. Immutable once assembled;
// detections are drawn exclusively from the winning workflow, the loser
// survives only as its max confidence in Metadata.
type Result struct {
	ChosenModel    selector.Model        `json:"chosen_model" yaml:"chosen_model"`
	Confidence     float64               `json:"confidence" yaml:"confidence"`
	Detections     []detection.Detection `json:"detections" yaml:"detections"`
	DetectionCount int                   `json:"detection_count" yaml:"detection_count"`
	Metadata       Metadata              `json:"metadata" yaml:"metadata"`
	Raw            json.RawMessage       `json:"raw,omitempty" yaml:"-"`
}

// AggregateError means both workflows failed for one image. Distinct from
// the valid "none" verdict: the caller could not be given an answer at all.
type AggregateError struct {
	Rice  *provider.CallError
	Wheat *provider.CallError
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("both providers failed: rice: %v; wheat: %v", e.Rice, e.Wheat)
}

// Transient reports whether retrying could help, which is the case when at
// least one of the two underlying failures is transient.
func (e *AggregateError) Transient() bool {
	return e.Rice.Transient() || e.Wheat.Transient()
}

// Assemble builds the canonical prediction from both workflow results.
// If exactly one workflow failed its confidence is treated as below
// threshold and the survivor carries the prediction, flagged as a partial
// failure. If both failed an AggregateError is returned instead of a
// "none" verdict.
func Assemble(rice, wheat provider.Result, policy selector.Policy) (*Result, error) {
	if !rice.OK() && !wheat.OK() {
		return nil, &AggregateError{Rice: rice.Err, Wheat: wheat.Err}
	}

	meta := Metadata{
		RiceConfidence:         rice.MaxConfidence,
		WheatConfidence:        wheat.MaxConfidence,
		MinConfidenceThreshold: policy.MinConfidence,
		ConfidenceMargin:       policy.Margin,
		RiceTimeMs:             rice.Duration.Milliseconds(),
		WheatTimeMs:            wheat.Duration.Milliseconds(),
	}

	switch {
	case !rice.OK():
		meta.PartialFailure = true
		meta.FailedProvider = rice.Provider
	case !wheat.OK():
		meta.PartialFailure = true
		meta.FailedProvider = wheat.Provider
	}

	chosen := selector.Select(rice.MaxConfidence, wheat.MaxConfidence, policy)

	// A failed workflow can never carry the verdict, even when a zero
	// threshold lets its sentinel confidence pass the gate.
	if chosen == selector.ModelRice && !rice.OK() {
		chosen = selector.ModelWheat
	} else if chosen == selector.ModelWheat && !wheat.OK() {
		chosen = selector.ModelRice
	}

	res := &Result{
		ChosenModel: chosen,
		Metadata:    meta,
		Detections:  []detection.Detection{},
	}

	var winner provider.Result
	switch chosen {
	case selector.ModelRice:
		winner = rice
	case selector.ModelWheat:
		winner = wheat
	case selector.ModelNone:
		return res, nil
	}

	res.Confidence = winner.MaxConfidence
	res.Detections = append(res.Detections, winner.Detections...)
	res.DetectionCount = len(winner.Detections)
	res.Raw = winner.Raw
	return res, nil
}
