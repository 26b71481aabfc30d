package llm

import "strings"

// ExtractJSONArray extracts the first complete JSON array from a string
// that may contain extra text. LLMs add explanations before/after the JSON
// despite instructions, and frequently wrap output in markdown code fences.
func ExtractJSONArray(text string) string {
	text = stripCodeFences(text)

	start := strings.Index(text, "[")
	if start == -1 {
		return text // no array found, return as-is and let the parser fail
	}

	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escape {
			escape = false
			continue
		}
		if ch == '\\' {
			escape = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}

		// Only count brackets outside of strings.
		if !inString {
			switch ch {
			case '[':
				depth++
			case ']':
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	// Unbalanced array — return the remainder and let the parser fail.
	return text[start:]
}

// ExtractJSONObject extracts the first complete JSON object from a string
// that may contain extra text.
func ExtractJSONObject(text string) string {
	text = stripCodeFences(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escape {
			escape = false
			continue
		}
		if ch == '\\' {
			escape = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch ch {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text[start:]
}

// stripCodeFences removes markdown code block markers from LLM output.
func stripCodeFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}
