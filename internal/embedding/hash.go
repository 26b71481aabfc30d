package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// hashGenerator is a deterministic, dependency-free embedding backend.
// It folds hashed word and character-trigram features into a fixed number
// of buckets. The vectors are crude compared to a learned model, but
// texts sharing vocabulary land close together, which is enough for
// offline operation and tests.
type hashGenerator struct {
	dimension int
}

func newHashGenerator(dimension int) *hashGenerator {
	if dimension <= 0 {
		dimension = 384
	}
	return &hashGenerator{dimension: dimension}
}

// Embed produces an unnormalized feature-hash vector. The Service
// normalizes all generator output before use.
func (g *hashGenerator) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, g.dimension)

	for _, feature := range hashFeatures(text) {
		h := fnv.New64a()
		h.Write([]byte(feature))
		sum := h.Sum64()
		bucket := int(sum % uint64(g.dimension))
		// Use one hash bit as the sign so collisions tend to cancel
		// rather than accumulate.
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	return vec, nil
}

func (g *hashGenerator) GetModel() string {
	return "feature-hash"
}

// hashFeatures extracts lowercase word and trigram features from text.
func hashFeatures(text string) []string {
	lowered := strings.ToLower(text)
	words := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var features []string
	for _, w := range words {
		features = append(features, "w:"+w)
		runes := []rune(w)
		for i := 0; i+3 <= len(runes); i++ {
			features = append(features, "t:"+string(runes[i:i+3]))
		}
	}
	return features
}
