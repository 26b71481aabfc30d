package assembler

import (
	"sort"
	"strings"

	"github.com/scrypster/mneme/pkg/types"
)

// FormatRulesBlock renders learned procedural rules as a prompt block,
// grouped by rule type. Returns "" when no rules exist.
func FormatRulesBlock(rules []types.ProceduralRule) string {
	if len(rules) == 0 {
		return ""
	}

	groups := make(map[string][]string)
	for _, r := range rules {
		groups[r.RuleType] = append(groups[r.RuleType], r.Content)
	}

	ruleTypes := make([]string, 0, len(groups))
	for rt := range groups {
		ruleTypes = append(ruleTypes, rt)
	}
	sort.Strings(ruleTypes)

	var b strings.Builder
	b.WriteString("[Learned Behavior Patterns]")
	for _, rt := range ruleTypes {
		b.WriteString("\n" + rt + ":")
		for _, content := range groups[rt] {
			b.WriteString("\n- " + content)
		}
	}
	return b.String()
}
