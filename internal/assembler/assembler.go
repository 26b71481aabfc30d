// Package assembler builds the final LLM context from its competing
// parts: system prompt, entity profile, retrieved memories, session
// summary, few-shot examples, and the recent message window. Every part
// gets a percentage slice of the total token budget; slices belonging to
// absent parts are redistributed rather than wasted.
package assembler

import (
	"fmt"
	"strings"

	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/tokens"
	"github.com/scrypster/mneme/pkg/types"
)

// memoryFloor is the minimum budget worth spending on the memory block;
// below it a single formatted memory wouldn't fit, so the slice is
// redistributed instead.
const memoryFloor = 50

// Sections carries the candidate content for one context assembly.
// Empty fields are simply absent; their budget flows elsewhere.
type Sections struct {
	SystemPrompt   string
	EntityProfile  string
	SessionSummary string
	FewShot        string
	Memories       []types.RetrievalResult
	Messages       []types.Message

	// ExtraBlocks are prompt-level additions (stream status, learned
	// behavior rules) appended to the system section.
	ExtraBlocks []string
}

// Assembled is the budget-fitted context ready to send to an LLM.
type Assembled struct {
	SystemPrompt string
	Messages     []types.Message
	TokensUsed   int
	Budget       int
}

// Assembler fits context sections into token budgets.
type Assembler struct {
	counter *tokens.Counter
	cfg     config.ContextConfig
}

// New creates an assembler.
func New(counter *tokens.Counter, cfg config.ContextConfig) *Assembler {
	if cfg.DefaultBudgetTokens <= 0 {
		cfg.DefaultBudgetTokens = 8192
	}
	return &Assembler{counter: counter, cfg: cfg}
}

// Assemble fits the given sections into budgetTokens (the configured
// default when <= 0) and composes the final system prompt plus message
// window. The response reserve share is left unspent.
func (a *Assembler) Assemble(in Sections, budgetTokens int) *Assembled {
	if budgetTokens <= 0 {
		budgetTokens = a.cfg.DefaultBudgetTokens
	}
	alloc := a.cfg.BudgetAllocation

	systemBudget := share(budgetTokens, alloc.SystemPrompt)
	profileBudget := share(budgetTokens, alloc.EntityProfile)
	summaryBudget := share(budgetTokens, alloc.SessionSummary)
	memoryBudget := share(budgetTokens, alloc.RetrievedMemories)
	messageBudget := share(budgetTokens, alloc.RecentMessages)
	fewShotBudget := share(budgetTokens, alloc.FewShotExamples)

	// Redistribute slices of absent sections: the profile slice prefers
	// the memory block (both describe the user), everything else falls
	// through to the message window.
	if in.EntityProfile == "" {
		if len(in.Memories) > 0 {
			memoryBudget += profileBudget
		} else {
			messageBudget += profileBudget
		}
		profileBudget = 0
	}
	if in.SessionSummary == "" {
		messageBudget += summaryBudget
		summaryBudget = 0
	}
	if in.FewShot == "" {
		messageBudget += fewShotBudget
		fewShotBudget = 0
	}
	if len(in.Memories) == 0 || memoryBudget < memoryFloor {
		messageBudget += memoryBudget
		memoryBudget = 0
	}

	var parts []string
	if in.SystemPrompt != "" {
		parts = append(parts, a.FitText(in.SystemPrompt, systemBudget))
	}
	for _, block := range in.ExtraBlocks {
		if block != "" {
			// Extra blocks ride on the system slice; they are small and
			// already bounded by their producers.
			parts = append(parts, block)
		}
	}
	if profileBudget > 0 {
		parts = append(parts, "[User Profile]\n"+a.FitText(in.EntityProfile, profileBudget))
	}
	if memoryBudget > 0 {
		if block := a.formatMemories(in.Memories, memoryBudget); block != "" {
			parts = append(parts, block)
		}
	}
	if summaryBudget > 0 {
		parts = append(parts, "[Session Summary]\n"+a.FitText(in.SessionSummary, summaryBudget))
	}
	if fewShotBudget > 0 {
		parts = append(parts, a.FitText(in.FewShot, fewShotBudget))
	}

	systemPrompt := strings.Join(parts, "\n\n")
	messages := a.FitMessages(in.Messages, messageBudget)

	return &Assembled{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		TokensUsed:   a.counter.Count(systemPrompt) + a.counter.CountMessages(messages),
		Budget:       budgetTokens,
	}
}

// FitText truncates text to fit the token budget. The first cut uses the
// text's own characters-per-token ratio with a 10% safety margin; if the
// estimate still overshoots, the text shrinks by 10% per iteration.
func (a *Assembler) FitText(text string, budget int) string {
	if text == "" || budget <= 0 {
		return ""
	}
	count := a.counter.Count(text)
	if count <= budget {
		return text
	}

	runes := []rune(text)
	ratio := float64(len(runes)) / float64(count)
	keep := int(float64(budget) * ratio * 0.9)
	if keep > len(runes) {
		keep = len(runes)
	}

	for keep > 0 {
		truncated := string(runes[:keep])
		if a.counter.Count(truncated) <= budget {
			return truncated
		}
		keep = keep * 9 / 10
	}
	return ""
}

// FitMessages keeps the newest messages that fit the budget, walking
// backward from the end. At most one message — the oldest included —
// may be truncated to use the remaining budget. Output stays in
// chronological order.
func (a *Assembler) FitMessages(messages []types.Message, budget int) []types.Message {
	if len(messages) == 0 || budget <= 0 {
		return nil
	}

	var kept []types.Message
	remaining := budget

	for i := len(messages) - 1; i >= 0; i-- {
		cost := a.counter.CountMessage(messages[i])
		if cost <= remaining {
			kept = append(kept, messages[i])
			remaining -= cost
			continue
		}

		// One partial message at the boundary, then stop.
		if fitted := a.FitText(messages[i].Content, remaining-4); fitted != "" {
			partial := messages[i]
			partial.Content = fitted
			kept = append(kept, partial)
		}
		break
	}

	// Reverse back to chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// formatMemories renders retrieval results as a labeled block, keeping
// as many entries as the budget allows, best-scored first.
func (a *Assembler) formatMemories(memories []types.RetrievalResult, budget int) string {
	header := "[Relevant Memories]"
	used := a.counter.Count(header)

	var b strings.Builder
	b.WriteString(header)

	included := 0
	for i, m := range memories {
		entry := fmt.Sprintf("\n[Memory %d] (type: %s, score: %.2f)\n%s", i+1, m.MemoryType, m.Score, m.Content)
		cost := a.counter.Count(entry)
		if used+cost > budget {
			break
		}
		b.WriteString(entry)
		used += cost
		included++
	}

	if included == 0 {
		return ""
	}
	return b.String()
}

// share converts a percentage allocation into tokens.
func share(total int, fraction float64) int {
	return int(float64(total) * fraction)
}
