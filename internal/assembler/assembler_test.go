package assembler

import (
	"strings"
	"testing"

	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/tokens"
	"github.com/scrypster/mneme/pkg/types"
)

func defaultAllocation() config.BudgetAllocation {
	return config.BudgetAllocation{
		SystemPrompt:      0.15,
		EntityProfile:     0.10,
		SessionSummary:    0.10,
		RetrievedMemories: 0.15,
		RecentMessages:    0.35,
		FewShotExamples:   0.05,
		ResponseReserve:   0.10,
	}
}

func newTestAssembler() *Assembler {
	return New(tokens.NewCounter(nil), config.ContextConfig{
		DefaultBudgetTokens: 8192,
		BudgetAllocation:    defaultAllocation(),
	})
}

func TestFitTextWithinBudget(t *testing.T) {
	a := newTestAssembler()

	text := "short text"
	if got := a.FitText(text, 100); got != text {
		t.Errorf("FitText modified text that fits: %q", got)
	}
}

func TestFitTextTruncates(t *testing.T) {
	a := newTestAssembler()

	text := strings.Repeat("word ", 200) // ~250 tokens
	got := a.FitText(text, 50)
	if got == text {
		t.Fatal("oversized text not truncated")
	}
	if count := a.counter.Count(got); count > 50 {
		t.Errorf("truncated text still costs %d tokens, budget 50", count)
	}
	if !strings.HasPrefix(text, got) {
		t.Error("truncation must cut from the end")
	}
}

func TestFitTextZeroBudget(t *testing.T) {
	a := newTestAssembler()
	if got := a.FitText("anything", 0); got != "" {
		t.Errorf("zero budget returned %q", got)
	}
}

func TestFitMessagesKeepsNewest(t *testing.T) {
	a := newTestAssembler()

	messages := []types.Message{
		{Role: "user", Content: strings.Repeat("old ", 50)},
		{Role: "assistant", Content: strings.Repeat("mid ", 50)},
		{Role: "user", Content: "newest question"},
	}

	kept := a.FitMessages(messages, 30)
	if len(kept) == 0 {
		t.Fatal("no messages kept")
	}
	if kept[len(kept)-1].Content != "newest question" {
		t.Error("newest message missing")
	}
	// Chronological order preserved.
	for i := 1; i < len(kept); i++ {
		if kept[i-1].Content == "newest question" {
			t.Error("messages out of chronological order")
		}
	}
}

func TestFitMessagesOnePartialAtBoundary(t *testing.T) {
	a := newTestAssembler()

	messages := []types.Message{
		{Role: "user", Content: strings.Repeat("aaaa ", 100)},
		{Role: "assistant", Content: strings.Repeat("bbbb ", 100)},
		{Role: "user", Content: "tail"},
	}

	kept := a.FitMessages(messages, 80)

	truncated := 0
	for _, m := range kept {
		if strings.HasPrefix(m.Content, "aaaa") && len(m.Content) < 500 {
			truncated++
		}
		if strings.HasPrefix(m.Content, "bbbb") && len(m.Content) < 500 {
			truncated++
		}
	}
	if truncated > 1 {
		t.Errorf("%d messages truncated, want at most 1", truncated)
	}
	if total := a.counter.CountMessages(kept); total > 80+2 { // +2 list priming
		t.Errorf("kept messages cost %d tokens, budget 80", total)
	}
}

func TestAssembleComposesSections(t *testing.T) {
	a := newTestAssembler()

	out := a.Assemble(Sections{
		SystemPrompt:   "You are a helpful streamer companion.",
		EntityProfile:  "Name: Alice | Interactions: 12",
		SessionSummary: "Talked about tea and hiking.",
		Memories: []types.RetrievalResult{
			{ID: "m1", Content: "the user likes green tea", MemoryType: "preference", Score: 0.82},
		},
		Messages: []types.Message{
			{Role: "user", Content: "hi again!"},
		},
	}, 8192)

	for _, want := range []string{
		"You are a helpful streamer companion.",
		"[User Profile]",
		"Name: Alice",
		"[Relevant Memories]",
		"[Memory 1] (type: preference, score: 0.82)",
		"the user likes green tea",
		"[Session Summary]",
	} {
		if !strings.Contains(out.SystemPrompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, out.SystemPrompt)
		}
	}
	if len(out.Messages) != 1 {
		t.Errorf("messages = %v, want the window passed through", out.Messages)
	}
	if out.TokensUsed <= 0 || out.TokensUsed > out.Budget {
		t.Errorf("tokens used = %d, budget = %d", out.TokensUsed, out.Budget)
	}
}

func TestAssembleRedistributesAbsentSections(t *testing.T) {
	a := newTestAssembler()

	long := make([]types.Message, 0, 40)
	for i := 0; i < 40; i++ {
		long = append(long, types.Message{Role: "user", Content: strings.Repeat("chatter ", 20)})
	}

	// With profile, summary, few-shot, and memories absent, the message
	// window should receive their slices: 35% + 10% + 10% + 5% + 15% of
	// the budget instead of bare 35%.
	full := a.Assemble(Sections{SystemPrompt: "sys", Messages: long}, 1000)

	baseline := a.FitMessages(long, share(1000, 0.35))
	if len(full.Messages) <= len(baseline) {
		t.Errorf("redistribution kept %d messages, baseline %d — absent budgets not redistributed",
			len(full.Messages), len(baseline))
	}
}

func TestAssembleSkipsMemoriesBelowFloor(t *testing.T) {
	a := newTestAssembler()

	// 15% of 200 tokens = 30 < memoryFloor. The profile is present so
	// its slice stays put instead of topping up the memory block.
	out := a.Assemble(Sections{
		SystemPrompt:  "sys",
		EntityProfile: "Name: Alice",
		Memories: []types.RetrievalResult{
			{ID: "m1", Content: "fact", MemoryType: "atomic_fact", Score: 0.5},
		},
		Messages: []types.Message{{Role: "user", Content: "hello"}},
	}, 200)

	if strings.Contains(out.SystemPrompt, "[Relevant Memories]") {
		t.Error("memory block included below the budget floor")
	}
}

func TestAssembleIncludesExtraBlocks(t *testing.T) {
	a := newTestAssembler()

	out := a.Assemble(Sections{
		SystemPrompt: "sys",
		ExtraBlocks:  []string{"[Current Stream Status]\nActive viewers: 3"},
		Messages:     []types.Message{{Role: "user", Content: "hello"}},
	}, 8192)

	if !strings.Contains(out.SystemPrompt, "[Current Stream Status]") {
		t.Error("extra block missing from system prompt")
	}
}

func TestFormatMemoriesStopsAtBudget(t *testing.T) {
	a := newTestAssembler()

	memories := []types.RetrievalResult{
		{Content: strings.Repeat("first ", 20), MemoryType: "atomic_fact", Score: 0.9},
		{Content: strings.Repeat("second ", 20), MemoryType: "atomic_fact", Score: 0.8},
		{Content: strings.Repeat("third ", 20), MemoryType: "atomic_fact", Score: 0.7},
	}

	block := a.formatMemories(memories, 60)
	if !strings.Contains(block, "[Memory 1]") {
		t.Error("best memory missing")
	}
	if strings.Contains(block, "[Memory 3]") {
		t.Error("memory block exceeded budget")
	}
}

func TestFormatRulesBlockGroupsByType(t *testing.T) {
	rules := []types.ProceduralRule{
		{RuleType: "style", Content: "keep answers short"},
		{RuleType: "persona", Content: "stay upbeat"},
		{RuleType: "style", Content: "avoid jargon"},
	}

	block := FormatRulesBlock(rules)
	if !strings.HasPrefix(block, "[Learned Behavior Patterns]") {
		t.Errorf("block header wrong: %q", block)
	}
	if !strings.Contains(block, "persona:\n- stay upbeat") {
		t.Errorf("persona group missing:\n%s", block)
	}
	if !strings.Contains(block, "style:\n- keep answers short\n- avoid jargon") {
		t.Errorf("style group missing:\n%s", block)
	}

	if FormatRulesBlock(nil) != "" {
		t.Error("empty rules should render nothing")
	}
}

func TestStreamContextRing(t *testing.T) {
	s := NewStreamContext()

	for i := 0; i < 25; i++ {
		s.AddEvent("follow", "viewer followed")
	}
	block := s.FormatBlock()
	if got := strings.Count(block, "- follow:"); got != streamEventCapacity {
		t.Errorf("block lists %d events, want capped at %d", got, streamEventCapacity)
	}
}

func TestStreamContextViewers(t *testing.T) {
	s := NewStreamContext()

	if s.FormatBlock() != "" {
		t.Error("empty context should render nothing")
	}

	s.NoteViewer("alice")
	s.NoteViewer("bob")
	if got := s.ActiveViewers(); got != 2 {
		t.Errorf("active viewers = %d, want 2", got)
	}

	block := s.FormatBlock()
	if !strings.Contains(block, "Active viewers: 2") {
		t.Errorf("block missing viewer count:\n%s", block)
	}
}
