package detection

import (
	"encoding/json"
	"errors"
)

// ErrMalformedPayload indicates the raw payload was not a recognizable
// workflow response at all.
var ErrMalformedPayload = errors.New("malformed provider payload")

// Normalize converts a raw workflow payload into the canonical detection
// schema. It tolerates the response shapes the hosted workflows produce:
// a top-level list (first element taken), a predictions object wrapping a
// predictions list, or a bare predictions list. Individual detections that
// fail field or range validation are dropped and counted, never carried
// through corrupted. Deterministic for a given payload.
func Normalize(raw []byte) ([]Detection, int, error) {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, 0, ErrMalformedPayload
	}

	if list, ok := root.([]any); ok {
		if len(list) == 0 {
			return nil, 0, nil
		}
		root = list[0]
	}

	obj, ok := root.(map[string]any)
	if !ok {
		return nil, 0, ErrMalformedPayload
	}

	preds := predictionList(obj["predictions"])
	detections := make([]Detection, 0, len(preds))
	dropped := 0
	for _, p := range preds {
		d, ok := normalizeOne(p)
		if !ok {
			dropped++
			continue
		}
		detections = append(detections, d)
	}
	return detections, dropped, nil
}

// predictionList unwraps the predictions block, which is either a list or an
// object holding a nested "predictions" list.
func predictionList(block any) []any {
	switch v := block.(type) {
	case []any:
		return v
	case map[string]any:
		if inner, ok := v["predictions"].([]any); ok {
			return inner
		}
	}
	return nil
}

// normalizeOne maps a single raw prediction into a Detection, reporting
// ok=false when required fields are missing or out of range.
func normalizeOne(raw any) (Detection, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Detection{}, false
	}

	conf, ok := confidenceField(m)
	if !ok || conf < 0 || conf > 1 {
		return Detection{}, false
	}

	d := Detection{Confidence: conf}
	if s, ok := m["class"].(string); ok {
		d.Class = s
	} else if s, ok := m["label"].(string); ok {
		d.Class = s
	}
	if v, ok := numberField(m, "class_id"); ok {
		d.ClassID = int(v)
	}
	d.X, _ = numberField(m, "x")
	d.Y, _ = numberField(m, "y")
	if v, ok := numberField(m, "width"); ok && v >= 0 {
		d.Width = v
	}
	if v, ok := numberField(m, "height"); ok && v >= 0 {
		d.Height = v
	}
	if s, ok := m["detection_id"].(string); ok {
		d.DetectionID = s
	}
	if s, ok := m["parent_id"].(string); ok {
		d.ParentID = s
	}
	return d, true
}

// confidenceField tries the confidence field names the workflows use.
func confidenceField(m map[string]any) (float64, bool) {
	for _, key := range []string{"confidence", "score", "conf"} {
		if v, ok := numberField(m, key); ok {
			return v, true
		}
	}
	return 0, false
}

func numberField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}
