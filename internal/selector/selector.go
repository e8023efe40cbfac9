// Package selector implements the model selection policy: given the two
// workflows' maximum confidences, decide which verdict is authoritative.
package selector

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Model identifies the winning detection workflow.
type Model string

const (
	ModelRice  Model = "rice"
	ModelWheat Model = "wheat"
	ModelNone  Model = "none"
)

// Policy holds the configured decision thresholds.
type Policy struct {
	// MinConfidence is the floor below which a workflow's result does not
	// count as a detection.
	MinConfidence float64
	// Margin is the band within which two confidences are treated as not
	// decisively different.
	Margin float64
}

// Select picks the authoritative model from the two workflows' maximum
// confidences. Pure and total over all numeric inputs:
//
//  1. Both below MinConfidence: ModelNone.
//  2. One confidence leads by at least Margin: that model wins.
//  3. Close competition (difference inside Margin): the higher confidence
//     wins; an exact tie goes to rice.
func Select(riceConf, wheatConf float64, p Policy) Model {
	if riceConf < p.MinConfidence && wheatConf < p.MinConfidence {
		return ModelNone
	}

	switch {
	case riceConf >= wheatConf+p.Margin:
		return ModelRice
	case wheatConf >= riceConf+p.Margin:
		return ModelWheat
	case riceConf >= wheatConf:
		// Close competition, rice on exact ties.
		return ModelRice
	default:
		return ModelWheat
	}
}

// Version derives a stable identifier for a policy and provider pairing.
// Cache entries embed it so that configuration changes invalidate stale
// results.
func Version(p Policy, riceWorkflow, wheatWorkflow string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%.6f|%.6f",
		riceWorkflow, wheatWorkflow, p.MinConfidence, p.Margin))
	return hex.EncodeToString(sum[:8])
}
