package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSONArrayPlain(t *testing.T) {
	in := `[{"content": "User likes tea", "type": "preference"}]`
	got := ExtractJSONArray(in)
	if got != in {
		t.Errorf("ExtractJSONArray changed clean input: %q", got)
	}
}

func TestExtractJSONArrayWithFences(t *testing.T) {
	in := "```json\n[{\"content\": \"a\"}]\n```"
	got := ExtractJSONArray(in)

	var parsed []map[string]interface{}
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("extracted text is not valid JSON: %v (%q)", err, got)
	}
	if len(parsed) != 1 || parsed[0]["content"] != "a" {
		t.Errorf("unexpected parsed result: %v", parsed)
	}
}

func TestExtractJSONArrayWithSurroundingText(t *testing.T) {
	in := `Here are the extracted facts:
[{"content": "User lives in Seoul", "type": "atomic_fact", "importance": 0.8}]
Let me know if you need anything else.`
	got := ExtractJSONArray(in)

	var parsed []map[string]interface{}
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("extracted text is not valid JSON: %v (%q)", err, got)
	}
}

func TestExtractJSONArrayNestedBrackets(t *testing.T) {
	in := `[{"content": "tags [a, b] inside", "list": [1, 2, [3]]}] trailing`
	got := ExtractJSONArray(in)

	var parsed []map[string]interface{}
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("nested brackets broke extraction: %v (%q)", err, got)
	}
}

func TestExtractJSONArrayBracketsInStrings(t *testing.T) {
	in := `[{"content": "uses [square] and \"quoted ]\" text"}]`
	got := ExtractJSONArray(in)

	var parsed []map[string]interface{}
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("brackets inside strings broke extraction: %v (%q)", err, got)
	}
}

func TestExtractJSONArrayNoArray(t *testing.T) {
	in := "no json here"
	if got := ExtractJSONArray(in); got != in {
		t.Errorf("expected passthrough for non-JSON input, got %q", got)
	}
}

func TestExtractJSONObject(t *testing.T) {
	in := "prefix {\"a\": {\"b\": 1}} suffix"
	got := ExtractJSONObject(in)

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("extracted object is not valid JSON: %v (%q)", err, got)
	}
}
