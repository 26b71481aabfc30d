package extraction

import (
	"regexp"
	"strings"

	"github.com/scrypster/mneme/pkg/types"
)

// pattern maps a self-statement regex to the memory it produces. The
// first capture group is the extracted value.
type pattern struct {
	re         *regexp.Regexp
	memoryType types.MemoryType
	importance float64
	render     func(value string) (content, subject, predicate, object string)
}

// PatternExtractor catches obvious self-statements ("my name is X",
// "I live in Y") with regexes, so core identity facts survive even when
// no LLM is configured. English and Korean statement forms are covered.
type PatternExtractor struct {
	patterns []pattern
}

// NewPatternExtractor builds the default pattern set.
func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{patterns: []pattern{
		{
			// Single-token capture: a greedy multi-word capture would
			// swallow trailing clauses ("Mika and I live in ...").
			re:         regexp.MustCompile(`(?i)\bmy name is ([\p{L}][\p{L}.'-]{0,30})`),
			memoryType: types.MemoryTypeAtomicFact,
			importance: 0.9,
			render: func(v string) (string, string, string, string) {
				return "The user's name is " + v, "user", "name", v
			},
		},
		{
			re:         regexp.MustCompile(`(?i)\bi live in ([\p{L}][\p{L} .'-]{0,40})`),
			memoryType: types.MemoryTypeAtomicFact,
			importance: 0.8,
			render: func(v string) (string, string, string, string) {
				return "The user lives in " + v, "user", "lives_in", v
			},
		},
		{
			re:         regexp.MustCompile(`(?i)\bi work (?:as|at) (?:an? )?([\p{L}][\p{L} .'-]{0,40})`),
			memoryType: types.MemoryTypeAtomicFact,
			importance: 0.8,
			render: func(v string) (string, string, string, string) {
				return "The user works as/at " + v, "user", "works_at", v
			},
		},
		{
			re:         regexp.MustCompile(`(?i)\bi (?:really )?(?:like|love|enjoy) ([\p{L}\p{N}][\p{L}\p{N} .'-]{0,50})`),
			memoryType: types.MemoryTypePreference,
			importance: 0.5,
			render: func(v string) (string, string, string, string) {
				return "The user likes " + v, "user", "likes", v
			},
		},
		{
			re:         regexp.MustCompile(`(?i)\bi (?:hate|dislike|can't stand) ([\p{L}\p{N}][\p{L}\p{N} .'-]{0,50})`),
			memoryType: types.MemoryTypePreference,
			importance: 0.5,
			render: func(v string) (string, string, string, string) {
				return "The user dislikes " + v, "user", "dislikes", v
			},
		},
		{
			// 제 이름은 X예요/입니다. Lazy capture with a required
			// terminator keeps the copula ending out of the name.
			re:         regexp.MustCompile(`제 이름은 ([\p{L}]{1,20}?)(?:예요|이에요|입니다|이야|라고|$|[^\p{L}])`),
			memoryType: types.MemoryTypeAtomicFact,
			importance: 0.9,
			render: func(v string) (string, string, string, string) {
				return "The user's name is " + v, "user", "name", v
			},
		},
		{
			// 저는 X를/을 좋아해요
			re:         regexp.MustCompile(`저는 ([\p{L}\p{N} ]{1,30})[을를] 좋아해`),
			memoryType: types.MemoryTypePreference,
			importance: 0.5,
			render: func(v string) (string, string, string, string) {
				return "The user likes " + strings.TrimSpace(v), "user", "likes", strings.TrimSpace(v)
			},
		},
		{
			// X에 살아요/삽니다
			re:         regexp.MustCompile(`([\p{L}]{1,20})에 살(?:아요|고 있|아|ㅂ니다)`),
			memoryType: types.MemoryTypeAtomicFact,
			importance: 0.8,
			render: func(v string) (string, string, string, string) {
				return "The user lives in " + v, "user", "lives_in", v
			},
		},
	}}
}

// Extract runs all patterns over one user message and returns the
// memories they produce, confidence fixed at the pattern level.
func (p *PatternExtractor) Extract(text string) []*types.SemanticMemory {
	if text == "" {
		return nil
	}

	var memories []*types.SemanticMemory
	for _, pat := range p.patterns {
		match := pat.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		value := strings.TrimSpace(strings.Trim(match[1], ".,!?"))
		if value == "" {
			continue
		}

		content, subject, predicate, object := pat.render(value)
		m := types.NewSemanticMemory(pat.memoryType, content)
		m.Importance = pat.importance
		m.Confidence = patternConfidence
		m.Subject = subject
		m.Predicate = predicate
		m.Object = object
		memories = append(memories, m)
	}
	return memories
}
