package diagnosis

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/eyesofbreath/xray-api/internal/platform/inference"
)

const testDomain = "firebasestorage.googleapis.com"

func str(s string) *string   { return &s }
func num(f float64) *float64 { return &f }
func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
func ranked(label string, p float64) inference.RawRanked {
	return inference.RawRanked{Label: label, Probability: num(p)}
}

func TestNormalize_PositionalTop3(t *testing.T) {
	n := NewNormalizer(testDomain)
	out, err := n.Normalize(&inference.RawPrediction{
		PredictedDisease: str("Pneumonia"),
		Probability:      num(0.45),
		Top3: []inference.RawRanked{
			ranked("Pneumonia", 0.45),
			ranked("Effusion", 0.30),
			ranked("Normal", 0.10),
			ranked("Ignored", 0.05),
		},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.Top1.Label != "Pneumonia" || !near(out.Top1.Probability, 0.75) {
		t.Errorf("top1 = %+v, want Pneumonia/0.75", out.Top1)
	}
	if out.Top2 == nil || out.Top2.Label != "Effusion" || !near(out.Top2.Probability, 0.30) {
		t.Errorf("top2 = %+v", out.Top2)
	}
	if out.Top3 == nil || out.Top3.Label != "Normal" || !near(out.Top3.Probability, 0.10) {
		t.Errorf("top3 = %+v", out.Top3)
	}
	if out.PrimaryLabel != "Pneumonia" || !near(out.PrimaryProbability, 0.75) {
		t.Errorf("primary = %s/%v, want Pneumonia/0.75", out.PrimaryLabel, out.PrimaryProbability)
	}
}

func TestNormalize_ShortTop3(t *testing.T) {
	out, err := NewNormalizer(testDomain).Normalize(&inference.RawPrediction{
		Top3: []inference.RawRanked{ranked("Atelectasis", 0.2)},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.Top2 != nil || out.Top3 != nil {
		t.Errorf("expected absent top2/top3, got %+v %+v", out.Top2, out.Top3)
	}
	if out.PrimaryLabel != "Atelectasis" {
		t.Errorf("primary label falls back to top1, got %q", out.PrimaryLabel)
	}
	if out.PrimaryProbability != 0 {
		t.Errorf("primary probability without predictedDisease should be 0, got %v", out.PrimaryProbability)
	}
}

func TestNormalize_FallbackWithoutTop3(t *testing.T) {
	out, err := NewNormalizer(testDomain).Normalize(&inference.RawPrediction{
		PredictedDisease: str("Pneumonia"),
		Probability:      num(0.5),
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.Top1.Label != "Pneumonia" || !near(out.Top1.Probability, 0.8) {
		t.Errorf("top1 = %+v, want Pneumonia/0.8", out.Top1)
	}
	if !near(out.PrimaryProbability, 0.8) {
		t.Errorf("primary probability = %v, want 0.8", out.PrimaryProbability)
	}
}

func TestNormalize_OffsetCapsAtOne(t *testing.T) {
	out, _ := NewNormalizer(testDomain).Normalize(&inference.RawPrediction{
		Top3: []inference.RawRanked{ranked("Cardiomegaly", 0.9)},
	})
	if out.Top1.Probability != 1.0 {
		t.Errorf("expected cap at 1.0, got %v", out.Top1.Probability)
	}
}

func TestNormalize_PrimaryMismatchKeepsOriginal(t *testing.T) {
	out, _ := NewNormalizer(testDomain).Normalize(&inference.RawPrediction{
		PredictedDisease: str("Effusion"),
		Probability:      num(0.4),
		Top3:             []inference.RawRanked{ranked("Pneumonia", 0.5), ranked("Effusion", 0.4)},
	})
	if out.PrimaryLabel != "Effusion" || !near(out.PrimaryProbability, 0.4) {
		t.Errorf("primary = %s/%v, want Effusion/0.4", out.PrimaryLabel, out.PrimaryProbability)
	}
	if !near(out.Top1.Probability, 0.8) {
		t.Errorf("top1 still gets the offset, got %v", out.Top1.Probability)
	}
}

func TestNormalize_NilProbabilities(t *testing.T) {
	out, err := NewNormalizer(testDomain).Normalize(&inference.RawPrediction{
		PredictedDisease: str("Normal"),
		Top3:             []inference.RawRanked{{Label: "Normal"}},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !near(out.Top1.Probability, CalibrationOffset) {
		t.Errorf("nil probability treated as 0 before offset, got %v", out.Top1.Probability)
	}
}

func TestNormalize_OutOfRangeClamped(t *testing.T) {
	out, _ := NewNormalizer(testDomain).Normalize(&inference.RawPrediction{
		Top3: []inference.RawRanked{ranked("A", -0.2), ranked("B", 1.7)},
	})
	if !near(out.Top1.Probability, CalibrationOffset) {
		t.Errorf("negative probability should clamp to 0, got %v", out.Top1.Probability)
	}
	if out.Top2.Probability != 1 {
		t.Errorf("probability above 1 should clamp to 1, got %v", out.Top2.Probability)
	}
}

func TestNormalize_UnlabelledTop1FallsBack(t *testing.T) {
	out, err := NewNormalizer(testDomain).Normalize(&inference.RawPrediction{
		PredictedDisease: str("Pneumonia"),
		Probability:      num(0.4),
		Top3:             []inference.RawRanked{{Probability: num(0.3)}},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.Top1.Label != "Pneumonia" || !near(out.Top1.Probability, 0.7) {
		t.Errorf("top1 = %+v, want Pneumonia/0.7", out.Top1)
	}
	if out.PrimaryLabel != "Pneumonia" || !near(out.PrimaryProbability, 0.7) {
		t.Errorf("primary = %s/%v, want Pneumonia/0.7", out.PrimaryLabel, out.PrimaryProbability)
	}
}

func TestNormalize_EmptySlotsKeepPositions(t *testing.T) {
	out, err := NewNormalizer(testDomain).Normalize(&inference.RawPrediction{
		PredictedDisease: str("Pneumonia"),
		Probability:      num(0.5),
		Top3:             []inference.RawRanked{{}, ranked("Effusion", 0.2), {}},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.Top1.Label != "Pneumonia" || !near(out.Top1.Probability, 0.8) {
		t.Errorf("top1 = %+v, want Pneumonia/0.8", out.Top1)
	}
	if out.Top2 == nil || out.Top2.Label != "Effusion" {
		t.Errorf("top2 = %+v, want Effusion", out.Top2)
	}
	if out.Top3 != nil {
		t.Errorf("empty third slot should be absent, got %+v", out.Top3)
	}
}

func TestNormalize_NoPrediction(t *testing.T) {
	n := NewNormalizer(testDomain)
	for _, raw := range []*inference.RawPrediction{
		nil,
		{},
		{Probability: num(0.3)},
		{Top3: []inference.RawRanked{{Probability: num(0.3)}}},
		{PredictedDisease: str("  ")},
	} {
		if _, err := n.Normalize(raw); !errors.Is(err, ErrNoPrediction) {
			t.Errorf("Normalize(%+v) = %v, want ErrNoPrediction", raw, err)
		}
	}
}

func TestNormalize_ExplanationURL(t *testing.T) {
	tests := []struct {
		name string
		url  *string
		path *string
		want string
	}{
		{
			name: "bucket path converted",
			path: str("gs://eyes-of-breath/grad-cam/2025/x.jpg"),
			want: "https://firebasestorage.googleapis.com/v0/b/eyes-of-breath/o/grad-cam%2F2025%2Fx.jpg?alt=media",
		},
		{
			name: "url wins over path",
			url:  str("https://cdn.example.com/cam.png"),
			path: str("gs://bucket/cam.png"),
			want: "https://cdn.example.com/cam.png",
		},
		{
			name: "blank url falls back to path",
			url:  str("   "),
			path: str("gs://bucket/cam.png"),
			want: "https://firebasestorage.googleapis.com/v0/b/bucket/o/cam.png?alt=media",
		},
		{
			name: "https path unchanged",
			path: str("https://example.com/cam.png"),
			want: "https://example.com/cam.png",
		},
		{
			name: "missing key separator",
			path: str("gs://bucket-only"),
			want: "",
		},
		{
			name: "nothing",
			want: "",
		},
	}
	n := NewNormalizer(testDomain)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := n.Normalize(&inference.RawPrediction{
				PredictedDisease: str("Normal"),
				GradcamURL:       tt.url,
				GradcamPath:      tt.path,
			})
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if out.ExplanationURL != tt.want {
				t.Errorf("ExplanationURL = %q, want %q", out.ExplanationURL, tt.want)
			}
		})
	}
}

func TestCanonicalURL_Idempotent(t *testing.T) {
	n := NewNormalizer(testDomain)
	for _, in := range []string{
		"gs://bucket/a b/c.jpg",
		"https://example.com/x",
		"gs://bucket/grad-cam/20250825/acffc5f4.jpg",
	} {
		once := n.CanonicalURL(in)
		if twice := n.CanonicalURL(once); twice != once {
			t.Errorf("CanonicalURL not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestCanonical_Result(t *testing.T) {
	out, _ := NewNormalizer(testDomain).Normalize(&inference.RawPrediction{
		PredictedDisease: str("Pneumonia"),
		Probability:      num(0.5),
	})
	r := out.Result(uuid.New())
	if r.PredictedDisease != "Pneumonia" || !near(r.Probability, 0.8) || r.Top1.Label != "Pneumonia" {
		t.Errorf("unexpected result %+v", r)
	}
}
