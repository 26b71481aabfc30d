// Package extraction turns buffered conversation turns into semantic
// memories. Two extractors cooperate: an LLM extractor that mines a
// transcript batch, and a regex pattern extractor that catches obvious
// self-statements without an LLM round-trip. Extraction is fail-open:
// an LLM outage loses at most one batch, never the conversation.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/llm"
	"github.com/scrypster/mneme/pkg/types"
)

// Confidence assigned per extraction path. LLM output earns more trust
// than a regex hit.
const (
	llmConfidence     = 0.8
	patternConfidence = 0.5
)

type turn struct {
	user      string
	assistant string
}

// Extractor buffers conversation turns and extracts semantic memories
// in batches. Safe for concurrent use.
type Extractor struct {
	mu       sync.Mutex
	cfg      config.ExtractionConfig
	chat     llm.ChatGenerator // nil disables LLM extraction
	patterns *PatternExtractor // nil disables pattern extraction
	turns    []turn
}

// New creates an extractor. A nil chat generator disables the LLM path;
// pattern extraction still runs when enabled in the config.
func New(cfg config.ExtractionConfig, chat llm.ChatGenerator) *Extractor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	e := &Extractor{cfg: cfg, chat: chat}
	if cfg.PatternsEnabled {
		e.patterns = NewPatternExtractor()
	}
	return e
}

// AddTurn buffers one user/assistant exchange and reports whether the
// buffer has reached batch size and is ready for extraction.
func (e *Extractor) AddTurn(user, assistant string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.turns = append(e.turns, turn{user: user, assistant: assistant})
	return len(e.turns) >= e.cfg.BatchSize
}

// Pending returns the number of buffered turns.
func (e *Extractor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.turns)
}

// Extract runs one extraction pass over the buffered turns. Without
// force, it is a no-op until the buffer reaches batch size. The buffer
// is consumed exactly once per pass, including on LLM failure, so a
// flaky provider cannot cause the same turns to be re-extracted.
func (e *Extractor) Extract(ctx context.Context, force bool) (*types.ExtractionResult, error) {
	e.mu.Lock()
	if len(e.turns) == 0 || (!force && len(e.turns) < e.cfg.BatchSize) {
		e.mu.Unlock()
		return &types.ExtractionResult{}, nil
	}
	batch := e.turns
	e.turns = nil
	e.mu.Unlock()

	var llmMemories []*types.SemanticMemory
	if e.chat != nil {
		var err error
		llmMemories, err = e.extractWithLLM(ctx, batch)
		if err != nil {
			// Fail open: the batch is already consumed, pattern results
			// below still apply.
			log.Printf("extraction: LLM pass failed (batch of %d turns dropped): %v", len(batch), err)
		}
	}

	// The confidence threshold gates LLM output only; pattern hits carry
	// a fixed below-threshold confidence and would otherwise never pass.
	filtered := llmMemories[:0]
	for _, m := range llmMemories {
		if m.Importance >= e.cfg.MinImportance && m.Confidence >= e.cfg.ConfidenceThreshold {
			filtered = append(filtered, m)
		}
	}

	var patternMemories []*types.SemanticMemory
	if e.patterns != nil {
		for _, t := range batch {
			for _, m := range e.patterns.Extract(t.user) {
				if m.Importance >= e.cfg.MinImportance {
					patternMemories = append(patternMemories, m)
				}
			}
		}
	}

	return &types.ExtractionResult{Memories: mergeAndDedup(filtered, patternMemories)}, nil
}

// rawFact mirrors the JSON contract of the extraction prompt.
type rawFact struct {
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	Importance float64 `json:"importance"`
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
}

func (e *Extractor) extractWithLLM(ctx context.Context, batch []turn) ([]*types.SemanticMemory, error) {
	transcript := formatTranscript(batch)

	response, err := e.chat.Chat(ctx, extractionSystemPrompt, []llm.ChatMessage{
		{Role: "user", Content: "<transcript>\n" + transcript + "\n</transcript>"},
	})
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}

	arrayJSON := llm.ExtractJSONArray(response)

	var facts []rawFact
	if err := json.Unmarshal([]byte(arrayJSON), &facts); err != nil {
		return nil, fmt.Errorf("malformed extraction JSON: %w", err)
	}

	memories := make([]*types.SemanticMemory, 0, len(facts))
	for _, f := range facts {
		content := strings.TrimSpace(f.Content)
		if content == "" {
			continue
		}
		m := types.NewSemanticMemory(types.ParseMemoryType(f.Type), content)
		m.Importance = types.Clamp01(f.Importance)
		m.Confidence = llmConfidence
		m.Subject = strings.TrimSpace(f.Subject)
		m.Predicate = strings.TrimSpace(f.Predicate)
		m.Object = strings.TrimSpace(f.Object)
		memories = append(memories, m)
	}
	return memories, nil
}

// formatTranscript renders buffered turns for the extraction prompt.
func formatTranscript(batch []turn) string {
	var b strings.Builder
	for i, t := range batch {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Turn %d]\nUser: %s\nAssistant: %s", i+1, t.user, t.assistant)
	}
	return b.String()
}

// mergeAndDedup combines the two extraction paths, deduplicating on
// normalized content. On collision the higher-confidence memory wins,
// so an LLM fact always shadows the equivalent regex hit.
func mergeAndDedup(groups ...[]*types.SemanticMemory) []*types.SemanticMemory {
	var out []*types.SemanticMemory
	index := make(map[string]int)

	for _, group := range groups {
		for _, m := range group {
			key := normalizeContent(m.Content)
			if i, ok := index[key]; ok {
				if m.Confidence > out[i].Confidence {
					out[i] = m
				}
				continue
			}
			index[key] = len(out)
			out = append(out, m)
		}
	}
	return out
}

func normalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
