// Package detection defines the canonical detection schema shared by both
// provider workflows, and the normalizer that maps raw workflow payloads
// into it.
package detection

// Detection is one detected disease region in source-image pixel units.
// Value type, immutable once built.
type Detection struct {
	Class       string  `json:"class" yaml:"class"`
	ClassID     int     `json:"class_id" yaml:"class_id"`
	Confidence  float64 `json:"confidence" yaml:"confidence"`
	X           float64 `json:"x" yaml:"x"`
	Y           float64 `json:"y" yaml:"y"`
	Width       float64 `json:"width" yaml:"width"`
	Height      float64 `json:"height" yaml:"height"`
	DetectionID string  `json:"detection_id,omitempty" yaml:"detection_id,omitempty"`
	ParentID    string  `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
}

// MaxConfidence returns the highest confidence among the detections, or 0
// when the slice is empty.
func MaxConfidence(dets []Detection) float64 {
	maxConf := 0.0
	for _, d := range dets {
		if d.Confidence > maxConf {
			maxConf = d.Confidence
		}
	}
	return maxConf
}
