// Package service is the memory system facade: one object that owns the
// working-memory window, extraction pipeline, hybrid retriever, evolver,
// and context assembler, and exposes the operations a conversation agent
// calls. All orchestration lives here; the parts never call each other.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/mneme/internal/assembler"
	"github.com/scrypster/mneme/internal/buffer"
	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/embedding"
	"github.com/scrypster/mneme/internal/evolution"
	"github.com/scrypster/mneme/internal/extraction"
	"github.com/scrypster/mneme/internal/llm"
	"github.com/scrypster/mneme/internal/retrieval"
	"github.com/scrypster/mneme/internal/storage"
	"github.com/scrypster/mneme/internal/storage/postgres"
	"github.com/scrypster/mneme/internal/storage/sqlite"
	"github.com/scrypster/mneme/internal/tokens"
	"github.com/scrypster/mneme/pkg/types"
)

// ErrNoSession is returned by operations that need an open session.
var ErrNoSession = fmt.Errorf("no active session")

// Service is the unified memory system facade.
type Service struct {
	cfg      *config.Config
	store    storage.Store
	embedder *embedding.Service
	counter  *tokens.Counter

	working   *buffer.WorkingMemory
	extractor *extraction.Extractor
	retriever *retrieval.Retriever
	evolver   *evolution.Evolver
	assemble  *assembler.Assembler
	stream    *assembler.StreamContext

	mu           sync.Mutex
	session      *types.Session
	entityName   string
	systemPrompt string
	rules        []types.ProceduralRule
	sentiments   []float64
	nodesCreated int
}

// New creates a service with the storage backend named in the config.
func New(cfg *config.Config) (*Service, error) {
	var store storage.Store
	var err error

	switch cfg.Storage.Engine {
	case "", "sqlite":
		store, err = sqlite.New(cfg.Storage.Path)
	case "postgres":
		store, err = postgres.New(cfg.Storage.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	chat, err := llm.NewChatGenerator(cfg.LLM)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("configure LLM: %w", err)
	}

	return NewWithBackends(cfg, store, chat), nil
}

// NewWithBackends wires a service around explicit backends. Tests and
// embedding callers use this to inject fakes.
func NewWithBackends(cfg *config.Config, store storage.Store, chat llm.ChatGenerator) *Service {
	counter := tokens.NewCounter(nil)
	embedder := embedding.NewService(cfg.Embedding)

	return &Service{
		cfg:          cfg,
		store:        store,
		embedder:     embedder,
		counter:      counter,
		working:      buffer.New(counter, cfg.Context.WorkingMemoryTokens),
		extractor:    extraction.New(cfg.Extraction, chat),
		retriever:    retrieval.New(store, embedder, cfg.Retrieval, cfg.Consolidation.HalfLifeHours()),
		evolver:      evolution.New(store, cfg.Consolidation),
		assemble:     assembler.New(counter, cfg.Context),
		stream:       assembler.NewStreamContext(),
		systemPrompt: cfg.Server.DefaultSystem,
	}
}

// SetSystemPrompt overrides the system prompt used by BuildContext.
func (s *Service) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = prompt
}

// Close shuts down the storage backend.
func (s *Service) Close() error {
	return s.store.Close()
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// newSessionID returns "session_" plus 12 hex characters.
func newSessionID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// Fall back to a time-derived ID; uniqueness is per-process.
		return fmt.Sprintf("session_%012x", time.Now().UnixNano()&0xffffffffffff)
	}
	return "session_" + hex.EncodeToString(b)
}

// StartSession opens a new conversation session for an entity. The
// entity profile row is created or touched, active procedural rules are
// loaded, and the working memory window is cleared.
func (s *Service) StartSession(ctx context.Context, entityID, name, platform string) (string, error) {
	session := &types.Session{
		SessionID: newSessionID(),
		EntityID:  entityID,
		Platform:  platform,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	if entityID != "" {
		if err := s.store.TouchEntity(ctx, entityID, name, platform); err != nil {
			log.Printf("service: failed to touch entity %s: %v", entityID, err)
		}
	}

	rules, err := s.store.ActiveRules(ctx)
	if err != nil {
		log.Printf("service: failed to load procedural rules: %v", err)
		rules = nil
	}

	s.mu.Lock()
	s.session = session
	s.entityName = name
	s.rules = rules
	s.sentiments = nil
	s.nodesCreated = 0
	s.mu.Unlock()

	s.working.Clear()
	return session.SessionID, nil
}

// Session returns the active session, or nil.
func (s *Service) Session() *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// ---------------------------------------------------------------------------
// Conversation hot path
// ---------------------------------------------------------------------------

// ProcessTurn records one completed user/assistant exchange. The turn
// lands in working memory and the extraction buffer; when the buffer
// reaches batch size, extraction runs and its facts are persisted.
// Extraction failures never propagate — the conversation goes on.
func (s *Service) ProcessTurn(ctx context.Context, userText, assistantText string) error {
	s.mu.Lock()
	session := s.session
	name := s.entityName
	s.mu.Unlock()
	if session == nil {
		return ErrNoSession
	}

	now := time.Now().UTC()
	s.working.Add(types.Message{Role: "user", Content: userText, Timestamp: now, Name: name, Platform: session.Platform})
	s.working.Add(types.Message{Role: "assistant", Content: assistantText, Timestamp: now})
	s.stream.NoteViewer(name)

	s.mu.Lock()
	s.session.MessageCount += 2
	s.mu.Unlock()

	if s.extractor.AddTurn(userText, assistantText) {
		s.runExtraction(ctx, false)
	}
	return nil
}

// HandleInterrupt truncates the last assistant message to what the user
// actually heard before interrupting.
func (s *Service) HandleInterrupt(heardContent string) {
	s.working.HandleInterrupt(heardContent)
}

// AddStreamEvent records a live-stream event for context assembly.
func (s *Service) AddStreamEvent(eventType, description string) {
	s.stream.AddEvent(eventType, description)
}

// RecordSentiment stores one sentiment reading for the session entity
// and keeps the running values for session-end aggregation.
func (s *Service) RecordSentiment(ctx context.Context, sentiment float64, triggerText string) error {
	s.mu.Lock()
	session := s.session
	s.sentiments = append(s.sentiments, sentiment)
	s.mu.Unlock()
	if session == nil || session.EntityID == "" {
		return nil
	}

	return s.store.RecordSentiment(ctx, &types.SentimentEntry{
		EntityID:    session.EntityID,
		Sentiment:   sentiment,
		TriggerText: triggerText,
	})
}

// runExtraction flushes the extraction buffer and persists the results.
func (s *Service) runExtraction(ctx context.Context, force bool) {
	result, err := s.extractor.Extract(ctx, force)
	if err != nil {
		log.Printf("service: extraction failed: %v", err)
		return
	}
	if len(result.Memories) == 0 {
		return
	}
	s.persistMemories(ctx, result.Memories)
}

// persistMemories embeds and stores extracted memories. A fact whose
// content already exists for the entity is reinforced (mention count and
// importance bump) instead of duplicated.
func (s *Service) persistMemories(ctx context.Context, memories []*types.SemanticMemory) {
	s.mu.Lock()
	var entityID, episodeID string
	if s.session != nil {
		entityID = s.session.EntityID
		episodeID = "episode_" + s.session.SessionID
	}
	s.mu.Unlock()

	for _, m := range memories {
		m.EntityID = entityID
		m.SourceEpisodeID = episodeID

		if existing := s.findDuplicate(ctx, m.Content, entityID); existing != "" {
			if err := s.store.UpdateMention(ctx, existing); err != nil {
				log.Printf("service: failed to reinforce node %s: %v", existing, err)
			}
			continue
		}

		vec, err := s.embedder.EncodeSingle(ctx, m.Content)
		if err != nil {
			log.Printf("service: failed to embed memory (stored without vector): %v", err)
		} else {
			m.Embedding = vec
		}

		if err := s.store.PutNode(ctx, types.NodeFromMemory(m)); err != nil {
			log.Printf("service: failed to store memory: %v", err)
			continue
		}
		s.mu.Lock()
		s.nodesCreated++
		s.mu.Unlock()

		s.supersedeConflicting(ctx, m)
	}
}

// Conflict bounds: below the floor two facts are unrelated, at or above
// the ceiling they are duplicates and belong to consolidation merging.
const (
	conflictFloor   = 0.5
	conflictCeiling = 0.85
)

// supersedeConflicting looks for an older fact the new memory updates:
// same subject and predicate, semantically close but not a duplicate
// ("favorite game is Portal" replacing "favorite game is Hades"). The
// closest such fact is superseded — its validity window closes and a
// provenance edge records the replacement.
func (s *Service) supersedeConflicting(ctx context.Context, m *types.SemanticMemory) {
	if len(m.Embedding) == 0 || m.Subject == "" || m.Predicate == "" {
		return
	}

	candidates, err := s.store.EmbeddedNodes(ctx, m.EntityID)
	if err != nil {
		log.Printf("service: conflict check skipped: %v", err)
		return
	}

	bestID := ""
	bestSim := conflictFloor
	for i := range candidates {
		c := &candidates[i]
		if c.NodeID == m.ID || c.InvalidAt != nil {
			continue
		}
		old := types.MemoryFromNode(c)
		if old.Subject != m.Subject || old.Predicate != m.Predicate {
			continue
		}
		sim := embedding.CosineSimilarity(m.Embedding, c.Embedding)
		if sim >= bestSim && sim < conflictCeiling {
			bestSim = sim
			bestID = c.NodeID
		}
	}
	if bestID == "" {
		return
	}

	if err := s.store.InsertSupersedesEdge(ctx, m.ID, bestID); err != nil {
		log.Printf("service: failed to supersede node %s: %v", bestID, err)
	}
}

// findDuplicate looks for an existing node with the same normalized
// content. Full-text search narrows the candidates; only an exact
// (case- and whitespace-insensitive) content match counts.
func (s *Service) findDuplicate(ctx context.Context, content, entityID string) string {
	matches, err := s.store.FullTextSearch(ctx, content, entityID, 3)
	if err != nil {
		return ""
	}
	want := normalize(content)
	for _, m := range matches {
		if normalize(m.Node.Content) == want {
			return m.Node.NodeID
		}
	}
	return ""
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ---------------------------------------------------------------------------
// Context assembly
// ---------------------------------------------------------------------------

// BuildContext assembles the LLM context for the next response: system
// prompt, entity profile, retrieved memories relevant to the query,
// learned behavior rules, stream status, and the working-memory window,
// all fitted into the token budget.
func (s *Service) BuildContext(ctx context.Context, query string, budgetTokens int) (*assembler.Assembled, error) {
	s.mu.Lock()
	session := s.session
	systemPrompt := s.systemPrompt
	rules := s.rules
	s.mu.Unlock()

	var entityID string
	if session != nil {
		entityID = session.EntityID
	}

	memories, err := s.retriever.Retrieve(ctx, query, entityID, s.cfg.Retrieval.TopK)
	if err != nil {
		log.Printf("service: retrieval failed (context assembled without memories): %v", err)
		memories = nil
	}

	var profileText string
	if entityID != "" {
		profile, err := s.store.GetEntity(ctx, entityID)
		if err == nil {
			profileText = profile.FormatForContext()
		} else if err != storage.ErrNotFound {
			log.Printf("service: failed to load entity profile: %v", err)
		}
	}

	var extra []string
	if block := assembler.FormatRulesBlock(rules); block != "" {
		extra = append(extra, block)
	}
	if block := s.stream.FormatBlock(); block != "" {
		extra = append(extra, block)
	}

	return s.assemble.Assemble(assembler.Sections{
		SystemPrompt:  systemPrompt,
		EntityProfile: profileText,
		Memories:      memories,
		Messages:      s.working.Messages(),
		ExtraBlocks:   extra,
	}, budgetTokens), nil
}

// ---------------------------------------------------------------------------
// Direct memory operations
// ---------------------------------------------------------------------------

// SearchMemories runs hybrid retrieval without assembling a context.
func (s *Service) SearchMemories(ctx context.Context, query string, topK int) ([]types.RetrievalResult, error) {
	s.mu.Lock()
	var entityID string
	if s.session != nil {
		entityID = s.session.EntityID
	}
	s.mu.Unlock()
	return s.retriever.Retrieve(ctx, query, entityID, topK)
}

// AddMemory stores one memory directly, bypassing extraction.
func (s *Service) AddMemory(ctx context.Context, content, memoryType string, importance float64) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	m := types.NewSemanticMemory(types.ParseMemoryType(memoryType), content)
	m.Importance = types.Clamp01(importance)

	s.mu.Lock()
	if s.session != nil {
		m.EntityID = s.session.EntityID
	}
	s.mu.Unlock()

	vec, err := s.embedder.EncodeSingle(ctx, content)
	if err != nil {
		log.Printf("service: failed to embed memory (stored without vector): %v", err)
	} else {
		m.Embedding = vec
	}

	if err := s.store.PutNode(ctx, types.NodeFromMemory(m)); err != nil {
		return "", err
	}
	s.supersedeConflicting(ctx, m)
	return m.ID, nil
}

// AddRule stores a learned behavior rule and refreshes the active set
// used by BuildContext, so the rule applies from the next response.
func (s *Service) AddRule(ctx context.Context, ruleType, content string, confidence float64) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	rule := &types.ProceduralRule{
		RuleType:   ruleType,
		Content:    content,
		Confidence: types.Clamp01(confidence),
		Active:     true,
	}
	if err := s.store.PutRule(ctx, rule); err != nil {
		return "", err
	}

	rules, err := s.store.ActiveRules(ctx)
	if err != nil {
		log.Printf("service: failed to reload procedural rules: %v", err)
		return rule.ID, nil
	}
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	return rule.ID, nil
}

// GetAllMemories returns every valid memory for the session entity (all
// entities when no session is open). Superseded and merged-away nodes
// carry an invalid_at timestamp and are excluded.
func (s *Service) GetAllMemories(ctx context.Context) ([]*types.SemanticMemory, error) {
	s.mu.Lock()
	var entityID string
	if s.session != nil {
		entityID = s.session.EntityID
	}
	s.mu.Unlock()

	nodes, err := s.store.ListNodes(ctx, entityID)
	if err != nil {
		return nil, err
	}
	memories := make([]*types.SemanticMemory, 0, len(nodes))
	for i := range nodes {
		if nodes[i].InvalidAt != nil {
			continue
		}
		memories = append(memories, types.MemoryFromNode(&nodes[i]))
	}
	return memories, nil
}

// DeleteMemory removes one memory by ID.
func (s *Service) DeleteMemory(ctx context.Context, id string) error {
	return s.store.DeleteNode(ctx, id)
}

// DeleteAllMemories removes every memory for the session entity (all
// entities when no session is open) and returns the count.
func (s *Service) DeleteAllMemories(ctx context.Context) (int, error) {
	s.mu.Lock()
	var entityID string
	if s.session != nil {
		entityID = s.session.EntityID
	}
	s.mu.Unlock()
	return s.store.DeleteAllNodes(ctx, entityID)
}

// ---------------------------------------------------------------------------
// Session end
// ---------------------------------------------------------------------------

// EndSession closes the active session and runs the consolidation
// pipeline: flush extraction, write the episode node, merge/prune/
// reflect, refresh entity stats, close the session row, and append the
// consolidation log. Every step recovers independently — a failure in
// one never aborts the rest, so a crash-prone LLM or a locked row can't
// lose the whole session's bookkeeping.
func (s *Service) EndSession(ctx context.Context) (*types.ConsolidationLogEntry, error) {
	s.mu.Lock()
	session := s.session
	s.session = nil
	sentiments := s.sentiments
	s.mu.Unlock()
	if session == nil {
		return nil, ErrNoSession
	}

	// 1. Flush any buffered turns through extraction.
	s.runExtraction(ctx, true)

	// 2. Persist the episode node summarizing this session.
	summary := s.summarizeSession(session)
	if err := s.writeEpisodeNode(ctx, session, summary); err != nil {
		log.Printf("service: failed to write episode node: %v", err)
	}

	// 3. Evolve long-term memory.
	stats := s.evolver.Consolidate(ctx, session.EntityID)

	// 4. Refresh entity aggregates.
	if session.EntityID != "" {
		if err := s.updateEntityStats(ctx, session.EntityID, sentiments); err != nil {
			log.Printf("service: failed to update entity stats: %v", err)
		}
	}

	// 5. Close the session row.
	if err := s.store.CloseSession(ctx, session.SessionID, session.MessageCount, summary); err != nil {
		log.Printf("service: failed to close session: %v", err)
	}

	// 6. Append the consolidation log.
	s.mu.Lock()
	entry := &types.ConsolidationLogEntry{
		SessionID:    session.SessionID,
		NodesCreated: s.nodesCreated,
		EdgesCreated: stats.Merged, // one provenance edge per merge
		NodesMerged:  stats.Merged,
		NodesPruned:  stats.Pruned,
		Summary:      summary,
	}
	s.mu.Unlock()
	if err := s.store.AppendConsolidationLog(ctx, entry); err != nil {
		log.Printf("service: failed to append consolidation log: %v", err)
	}

	s.working.Clear()
	return entry, nil
}

// summarizeSession produces a short plain-text session summary from the
// working-memory window.
func (s *Service) summarizeSession(session *types.Session) string {
	messages := s.working.Messages()
	var firstUser string
	for _, m := range messages {
		if m.Role == "user" {
			firstUser = m.Content
			break
		}
	}
	if firstUser == "" {
		return fmt.Sprintf("Session with %d messages", session.MessageCount)
	}
	firstUser = s.assemble.FitText(firstUser, 30)
	return fmt.Sprintf("Session with %d messages, opened with: %s", session.MessageCount, firstUser)
}

// writeEpisodeNode stores the episodic memory for a finished session.
// Importance grows with conversation length and saturates at 0.9.
func (s *Service) writeEpisodeNode(ctx context.Context, session *types.Session, summary string) error {
	importance := 0.3 + float64(session.MessageCount)*0.05
	if importance > 0.9 {
		importance = 0.9
	}

	node := &types.KnowledgeNode{
		NodeID:     "episode_" + session.SessionID,
		EntityID:   session.EntityID,
		NodeType:   string(types.MemoryTypeEpisode),
		Content:    summary,
		Importance: importance,
		Metadata: map[string]interface{}{
			"platform":      session.Platform,
			"message_count": session.MessageCount,
		},
	}

	vec, err := s.embedder.EncodeSingle(ctx, summary)
	if err == nil {
		node.Embedding = vec
	}

	return s.store.PutNode(ctx, node)
}

// updateEntityStats recomputes the entity's fact count and average
// sentiment at session end.
func (s *Service) updateEntityStats(ctx context.Context, entityID string, sentiments []float64) error {
	nodes, err := s.store.ListNodes(ctx, entityID)
	if err != nil {
		return err
	}
	known := 0
	for _, n := range nodes {
		if n.InvalidAt == nil && n.NodeType != string(types.MemoryTypeEpisode) {
			known++
		}
	}

	avg := 0.0
	if len(sentiments) > 0 {
		for _, v := range sentiments {
			avg += v
		}
		avg /= float64(len(sentiments))
	}

	return s.store.UpdateEntityStats(ctx, entityID, known, avg)
}
