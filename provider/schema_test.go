package provider

import (
	"strings"
	"testing"
)

func TestParseReply_ValidObject(t *testing.T) {
	reply := ParseReply(`{"answer":"12h","citations":["https://x.test/a"],"meta":{"k":"v"}}`)
	if !reply.Valid {
		t.Fatalf("expected valid reply, got fallback: %s", reply.Reason)
	}
	if reply.Answer != "12h" {
		t.Errorf("Answer = %q, want 12h", reply.Answer)
	}
	if len(reply.Citations) != 1 || reply.Citations[0] != "https://x.test/a" {
		t.Errorf("Citations = %v, want [https://x.test/a]", reply.Citations)
	}
}

func TestParseReply_AnswerOnly(t *testing.T) {
	reply := ParseReply(`{"answer":"yes"}`)
	if !reply.Valid {
		t.Fatalf("expected valid reply, got fallback: %s", reply.Reason)
	}
	if len(reply.Citations) != 0 {
		t.Errorf("Citations = %v, want empty", reply.Citations)
	}
}

func TestParseReply_Fenced(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"json fence", "```json\n{\"answer\":\"12h\"}\n```"},
		{"bare fence", "```\n{\"answer\":\"12h\"}\n```"},
		{"fence with prose before", "Here you go:\n```json\n{\"answer\":\"12h\"}\n```"},
		{"unterminated fence", "```json\n{\"answer\":\"12h\"}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := ParseReply(tt.content)
			if !reply.Valid {
				t.Fatalf("expected valid reply, got fallback: %s", reply.Reason)
			}
			if reply.Answer != "12h" {
				t.Errorf("Answer = %q, want 12h", reply.Answer)
			}
		})
	}
}

func TestParseReply_PlainTextFallback(t *testing.T) {
	const content = "Plain text, not JSON"
	reply := ParseReply(content)
	if reply.Valid {
		t.Fatal("expected fallback for plain text")
	}
	if reply.Answer != content {
		t.Errorf("Answer = %q, want raw content", reply.Answer)
	}
	if len(reply.Citations) != 0 {
		t.Errorf("Citations = %v, want empty", reply.Citations)
	}
	meta, ok := reply.Object["meta"].(map[string]any)
	if !ok {
		t.Fatalf("Object[meta] = %T, want map", reply.Object["meta"])
	}
	if msg, _ := meta["validation_error"].(string); !strings.Contains(msg, "invalid JSON") {
		t.Errorf("validation_error = %q, want parse failure", msg)
	}
}

func TestParseReply_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing answer", `{"citations":[]}`},
		{"answer not a string", `{"answer":42}`},
		{"extra top-level property", `{"answer":"ok","source":"x"}`},
		{"citations not an array", `{"answer":"ok","citations":"https://x.test"}`},
		{"top-level array", `["answer"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := ParseReply(tt.content)
			if reply.Valid {
				t.Fatal("expected fallback")
			}
			if reply.Answer != tt.content {
				t.Errorf("Answer = %q, want raw content", reply.Answer)
			}
			if reply.Reason == "" {
				t.Error("expected a recorded failure reason")
			}
		})
	}
}

func TestParseReply_FallbackObjectShape(t *testing.T) {
	reply := ParseReply("not json")
	if got, ok := reply.Object["answer"].(string); !ok || got != "not json" {
		t.Errorf("Object[answer] = %v, want raw content", reply.Object["answer"])
	}
	if _, ok := reply.Object["citations"]; !ok {
		t.Error("fallback object must carry empty citations")
	}
}
