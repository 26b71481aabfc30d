package embedding

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/scrypster/mneme/internal/config"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(config.EmbeddingConfig{
		Provider:  "hash",
		Dimension: 64,
		CacheSize: 16,
	})
}

func TestSerializeRoundTrip(t *testing.T) {
	vec := []float32{0.1, -0.5, 1.0, 0, 3.14159}

	blob := Serialize(vec)
	if len(blob) != len(vec)*4 {
		t.Fatalf("blob size = %d, want %d", len(blob), len(vec)*4)
	}

	back := Deserialize(blob)
	if len(back) != len(vec) {
		t.Fatalf("round-trip length = %d, want %d", len(back), len(vec))
	}
	for i := range vec {
		if back[i] != vec[i] {
			t.Errorf("round-trip[%d] = %v, want %v", i, back[i], vec[i])
		}
	}

	// Byte-exact re-serialization.
	if !bytes.Equal(Serialize(back), blob) {
		t.Error("serialize(deserialize(blob)) != blob")
	}
}

func TestSerializeEmpty(t *testing.T) {
	if blob := Serialize(nil); blob != nil {
		t.Errorf("Serialize(nil) = %v, want nil", blob)
	}
	if vec := Deserialize(nil); vec != nil {
		t.Errorf("Deserialize(nil) = %v, want nil", vec)
	}
}

func TestCosineSimilarityIdentity(t *testing.T) {
	vec := []float32{0.6, 0.8}
	if got := CosineSimilarity(vec, vec); math.Abs(got-1.0) > 1e-6 {
		t.Errorf("CosineSimilarity(v, v) = %v, want 1.0", got)
	}
}

func TestCosineSimilarityMismatchedLengths(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{1, 0, 0}
	if got := CosineSimilarity(a, b); got != 0 {
		t.Errorf("mismatched lengths: got %v, want 0", got)
	}
	if got := CosineSimilarity(nil, nil); got != 0 {
		t.Errorf("empty vectors: got %v, want 0", got)
	}
}

func TestEncodeNormalizes(t *testing.T) {
	svc := newTestService(t)

	vec, err := svc.EncodeSingle(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("EncodeSingle failed: %v", err)
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1.0) > 1e-5 {
		t.Errorf("encoded vector norm² = %v, want 1.0", sum)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.EncodeSingle(ctx, "hello world")
	if err != nil {
		t.Fatalf("first encode failed: %v", err)
	}
	b, err := svc.EncodeSingle(ctx, "hello world")
	if err != nil {
		t.Fatalf("second encode failed: %v", err)
	}

	if CosineSimilarity(a, b) < 0.9999 {
		t.Error("identical texts produced different embeddings")
	}
}

func TestEncodeSimilarTextsCloserThanUnrelated(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	vecs, err := svc.Encode(ctx, []string{
		"the user likes green tea",
		"the user likes black tea",
		"quantum chromodynamics lattice simulation",
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	similar := CosineSimilarity(vecs[0], vecs[1])
	unrelated := CosineSimilarity(vecs[0], vecs[2])
	if similar <= unrelated {
		t.Errorf("similar pair (%v) not closer than unrelated pair (%v)", similar, unrelated)
	}
}

func TestDimensionRealized(t *testing.T) {
	svc := newTestService(t)

	if got := svc.Dimension(); got != 64 {
		t.Errorf("pre-init Dimension() = %d, want configured 64", got)
	}

	if _, err := svc.EncodeSingle(context.Background(), "probe"); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if got := svc.Dimension(); got != 64 {
		t.Errorf("post-init Dimension() = %d, want 64", got)
	}
}

func TestEncodeEmptyBatch(t *testing.T) {
	svc := newTestService(t)
	vecs, err := svc.Encode(context.Background(), nil)
	if err != nil {
		t.Fatalf("Encode(nil) failed: %v", err)
	}
	if vecs != nil {
		t.Errorf("Encode(nil) = %v, want nil", vecs)
	}
}
