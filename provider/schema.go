package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// replySchemaJSON is the contract every provider reply must satisfy:
// one JSON object, required string answer, optional citation URLs and
// metadata, nothing else at the top level.
const replySchemaJSON = `{
  "type": "object",
  "required": ["answer"],
  "properties": {
    "answer": {"type": "string"},
    "citations": {
      "type": "array",
      "items": {"type": "string", "format": "uri"},
      "default": []
    },
    "meta": {"type": "object"}
  },
  "additionalProperties": false
}`

var replySchema = mustCompileReplySchema()

func mustCompileReplySchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(replySchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("provider: reply schema unparsable: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("reply.json", doc); err != nil {
		panic(fmt.Sprintf("provider: reply schema resource: %v", err))
	}
	s, err := c.Compile("reply.json")
	if err != nil {
		panic(fmt.Sprintf("provider: reply schema compile: %v", err))
	}
	return s
}

// ParsedReply is the outcome of validating one provider reply.
type ParsedReply struct {
	// Object is the validated reply, or the fallback object when Valid
	// is false.
	Object map[string]any
	// Answer is the reply's answer field; on fallback, the raw content.
	Answer string
	// Citations are the reply-body citation URLs (empty on fallback).
	Citations []string
	// Valid is false when the fallback path was taken.
	Valid bool
	// Reason holds the parse or validation failure on fallback.
	Reason string
}

// ParseReply strips any surrounding code fence, parses content as JSON
// and validates it against the reply schema. Any failure falls back to
// an object carrying the raw content as the answer; the invocation
// still counts as succeeded.
func ParseReply(content string) ParsedReply {
	candidate := stripFences(content)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return fallbackReply(content, fmt.Sprintf("invalid JSON: %v", err))
	}
	if err := replySchema.Validate(parsed); err != nil {
		return fallbackReply(content, fmt.Sprintf("schema violation: %v", err))
	}

	answer, _ := parsed["answer"].(string)
	var citations []string
	if raw, ok := parsed["citations"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				citations = append(citations, s)
			}
		}
	}
	return ParsedReply{
		Object:    parsed,
		Answer:    answer,
		Citations: citations,
		Valid:     true,
	}
}

func fallbackReply(content, reason string) ParsedReply {
	return ParsedReply{
		Object: map[string]any{
			"answer":    content,
			"citations": []any{},
			"meta":      map[string]any{"validation_error": reason},
		},
		Answer: content,
		Reason: reason,
	}
}

// stripFences unwraps a reply fenced as ```json ... ``` or ``` ... ```.
// A fence without a closer yields everything after the opener.
func stripFences(content string) string {
	if i := strings.Index(content, "```json"); i >= 0 {
		rest := content[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	if i := strings.Index(content, "```"); i >= 0 {
		rest := content[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(content)
}
