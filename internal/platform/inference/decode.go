package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawRanked is one entry of the upstream top-3 list.
type RawRanked struct {
	Label       string
	Probability *float64
}

// RawPrediction is the upstream response with every field alias resolved.
// Nil means the field was absent or null.
type RawPrediction struct {
	PredictedDisease *string
	Probability      *float64
	GradcamPath      *string
	GradcamURL       *string
	Top3             []RawRanked
}

// Accepted field names, in resolution order. The upstream service has
// shipped several spellings over time.
var (
	predictedDiseaseKeys = []string{"predictedDisease"}
	probabilityKeys      = []string{"probability"}
	gradcamPathKeys      = []string{"gradcamImagePath", "gradcam_path", "gradcamGsPath", "gradcam_storage_path", "gradcam_storagePath"}
	gradcamURLKeys       = []string{"gradcamUrl", "gradcamPublicUrl", "gradcam_download_url", "gradcam_image_url", "gradcam_public_url"}
	top3Keys             = []string{"top3"}
	rankedLabelKeys      = []string{"label"}
	rankedProbKeys       = []string{"prob", "probability"}
)

type fields map[string]json.RawMessage

// firstPresent returns the first alias whose value is present and not null.
func (f fields) firstPresent(aliases []string) (json.RawMessage, string, bool) {
	for _, k := range aliases {
		raw, ok := f[k]
		if !ok || isNull(raw) {
			continue
		}
		return raw, k, true
	}
	return nil, "", false
}

func (f fields) str(aliases []string) (*string, error) {
	raw, key, ok := f.firstPresent(aliases)
	if !ok {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("field %q: expected string: %w", key, err)
	}
	return &s, nil
}

func (f fields) number(aliases []string) (*float64, error) {
	raw, key, ok := f.firstPresent(aliases)
	if !ok {
		return nil, nil
	}
	v, err := parseNumber(raw)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", key, err)
	}
	return &v, nil
}

// parseNumber accepts a JSON number or a numeric string.
func parseNumber(raw json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("expected number, got %s", string(raw))
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("expected number, got %q", s)
	}
	return n, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Decode parses an upstream body. A blank body or a JSON null is
// ErrEmptyResponse; unknown fields are ignored.
func Decode(body []byte) (*RawPrediction, error) {
	if isNull(body) {
		return nil, ErrEmptyResponse
	}

	var f fields
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	if f == nil {
		return nil, ErrEmptyResponse
	}

	var (
		out RawPrediction
		err error
	)
	if out.PredictedDisease, err = f.str(predictedDiseaseKeys); err != nil {
		return nil, err
	}
	if out.Probability, err = f.number(probabilityKeys); err != nil {
		return nil, err
	}
	if out.GradcamPath, err = f.str(gradcamPathKeys); err != nil {
		return nil, err
	}
	if out.GradcamURL, err = f.str(gradcamURLKeys); err != nil {
		return nil, err
	}
	if out.Top3, err = f.ranked(top3Keys); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f fields) ranked(aliases []string) ([]RawRanked, error) {
	raw, key, ok := f.firstPresent(aliases)
	if !ok {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("field %q: expected array: %w", key, err)
	}

	out := make([]RawRanked, 0, len(items))
	for i, item := range items {
		// a null entry keeps its slot so later entries stay in position
		if isNull(item) {
			out = append(out, RawRanked{})
			continue
		}
		var entry fields
		if err := json.Unmarshal(item, &entry); err != nil {
			return nil, fmt.Errorf("%s[%d]: expected object: %w", key, i, err)
		}
		label, err := entry.str(rankedLabelKeys)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		prob, err := entry.number(rankedProbKeys)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		r := RawRanked{Probability: prob}
		if label != nil {
			r.Label = *label
		}
		out = append(out, r)
	}
	return out, nil
}
