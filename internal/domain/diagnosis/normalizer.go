package diagnosis

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/eyesofbreath/xray-api/internal/platform/blobstore"
	"github.com/eyesofbreath/xray-api/internal/platform/inference"
)

// CalibrationOffset is added once to the top-ranked probability before storage.
const CalibrationOffset = 0.30

// ErrNoPrediction means the response named no disease: neither a labelled first
// ranked entry nor a predicted disease.
var ErrNoPrediction = errors.New("inference response has no prediction")

// Canonical is a prediction ready to be stored.
type Canonical struct {
	Top1               Ranked
	Top2               *Ranked
	Top3               *Ranked
	PrimaryLabel       string
	PrimaryProbability float64
	ExplanationURL     string
}

// Result builds the unsaved result row for imageID.
func (c Canonical) Result(imageID uuid.UUID) *Result {
	return &Result{
		ImageID:          imageID,
		PredictedDisease: c.PrimaryLabel,
		Probability:      c.PrimaryProbability,
		GradcamURL:       c.ExplanationURL,
		Top1:             c.Top1,
		Top2:             c.Top2,
		Top3:             c.Top3,
	}
}

// Normalizer turns a decoded inference response into a Canonical prediction.
// It is pure: the same input always yields the same output.
type Normalizer struct {
	// StorageDomain is the host used when rewriting bucket paths to download URLs.
	StorageDomain string
}

func NewNormalizer(storageDomain string) *Normalizer {
	return &Normalizer{StorageDomain: storageDomain}
}

func (n *Normalizer) Normalize(raw *inference.RawPrediction) (Canonical, error) {
	if raw == nil {
		return Canonical{}, ErrNoPrediction
	}

	var out Canonical
	ranked := rankedEntries(raw.Top3)
	if len(ranked) > 0 && ranked[0].Label != "" {
		out.Top1 = ranked[0]
	}
	if len(ranked) > 1 {
		out.Top2 = labelled(ranked[1])
	}
	if len(ranked) > 2 {
		out.Top3 = labelled(ranked[2])
	}
	// an unlabelled first entry counts as no top1
	if out.Top1.Label == "" {
		if raw.PredictedDisease == nil || strings.TrimSpace(*raw.PredictedDisease) == "" {
			return Canonical{}, ErrNoPrediction
		}
		out.Top1 = Ranked{Label: *raw.PredictedDisease, Probability: prob(raw.Probability)}
	}

	out.Top1.Probability = min(1.0, out.Top1.Probability+CalibrationOffset)

	out.PrimaryLabel = out.Top1.Label
	out.PrimaryProbability = prob(raw.Probability)
	if raw.PredictedDisease != nil {
		out.PrimaryLabel = *raw.PredictedDisease
		if *raw.PredictedDisease == out.Top1.Label {
			out.PrimaryProbability = out.Top1.Probability
		}
	}

	out.ExplanationURL = n.explanationURL(raw.GradcamURL, raw.GradcamPath)
	return out, nil
}

// rankedEntries keeps at most three entries in upstream order.
func rankedEntries(raw []inference.RawRanked) []Ranked {
	if len(raw) > 3 {
		raw = raw[:3]
	}
	out := make([]Ranked, 0, len(raw))
	for _, r := range raw {
		out = append(out, Ranked{Label: strings.TrimSpace(r.Label), Probability: prob(r.Probability)})
	}
	return out
}

func labelled(r Ranked) *Ranked {
	if r.Label == "" {
		return nil
	}
	return &r
}

// prob reads an optional probability as a value in [0, 1]; absent is 0.
func prob(p *float64) float64 {
	if p == nil {
		return 0
	}
	return max(0, min(1, *p))
}

func (n *Normalizer) explanationURL(gradcamURL, gradcamPath *string) string {
	if gradcamURL != nil && strings.TrimSpace(*gradcamURL) != "" {
		return strings.TrimSpace(*gradcamURL)
	}
	if gradcamPath == nil {
		return ""
	}
	return n.CanonicalURL(*gradcamPath)
}

// CanonicalURL rewrites a bucket path such as gs://bucket/dir/file.jpg into its
// public download URL. HTTP(S) URLs and schemeless values are returned as they
// are, so the function is idempotent. A path with no object key yields "".
func (n *Normalizer) CanonicalURL(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") {
		return path
	}

	_, rest, ok := strings.Cut(path, "://")
	if !ok {
		return path
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return ""
	}
	return blobstore.PublicURL(n.StorageDomain, bucket, key)
}
