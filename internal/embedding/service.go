package embedding

import (
	"context"
	"fmt"
	"log"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/llm"
)

// Service turns text into normalized fixed-dimension vectors. The backing
// generator is initialized lazily on first use; the realized dimension
// (which may differ from the configured default) is cached afterwards.
// Encode results are cached in an LRU keyed by input text.
type Service struct {
	cfg config.EmbeddingConfig

	mu        sync.Mutex
	generator llm.EmbeddingGenerator
	ready     bool
	dimension int
	cache     *lru.Cache[string, []float32]
}

// NewService creates an embedding service for the configured provider.
// No model is loaded until the first Encode call.
func NewService(cfg config.EmbeddingConfig) *Service {
	return &Service{cfg: cfg, dimension: cfg.Dimension}
}

// NewServiceWithGenerator creates a service backed by an explicit
// generator. Used by tests and callers that construct adapters themselves.
func NewServiceWithGenerator(cfg config.EmbeddingConfig, gen llm.EmbeddingGenerator) *Service {
	return &Service{cfg: cfg, dimension: cfg.Dimension, generator: gen}
}

// ensureReady lazily constructs the generator and the cache. It is
// idempotent; the first call may block noticeably (model warm-up).
func (s *Service) ensureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	if s.generator == nil {
		switch s.cfg.Provider {
		case "", "hash":
			s.generator = newHashGenerator(s.cfg.Dimension)
		case "ollama":
			s.generator = llm.NewOllamaClient(llm.OllamaConfig{
				BaseURL:        s.cfg.OllamaURL,
				EmbeddingModel: s.cfg.Model,
			})
		default:
			return fmt.Errorf("embedding: unknown provider %q", s.cfg.Provider)
		}
	}

	if s.cache == nil {
		size := s.cfg.CacheSize
		if size <= 0 {
			size = 2048
		}
		cache, err := lru.New[string, []float32](size)
		if err != nil {
			return fmt.Errorf("embedding: failed to create cache: %w", err)
		}
		s.cache = cache
	}

	// Probe once to learn the realized dimension, which can differ from
	// the configured default when the model decides otherwise.
	probe, err := s.generator.Embed(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("embedding: provider initialization failed: %w", err)
	}
	if len(probe) > 0 && len(probe) != s.dimension {
		log.Printf("embedding: realized dimension %d differs from configured %d, using %d",
			len(probe), s.dimension, len(probe))
		s.dimension = len(probe)
	}

	s.ready = true
	return nil
}

// Encode batches texts into normalized embeddings, one vector per input.
func (s *Service) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := s.cache.Get(text); ok {
			out[i] = vec
			continue
		}

		vec, err := s.generator.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding: encode failed: %w", err)
		}
		normalize(vec)
		s.cache.Add(text, vec)
		out[i] = vec
	}

	return out, nil
}

// EncodeSingle encodes one text into a normalized embedding.
func (s *Service) EncodeSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimension returns the realized vector width once the provider has been
// initialized, or the configured default before that.
func (s *Service) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimension
}

// Model returns the backing generator's model name, or "uninitialized".
func (s *Service) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generator == nil {
		return "uninitialized"
	}
	return s.generator.GetModel()
}
