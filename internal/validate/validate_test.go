package validate

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, body string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return v
}

func TestValidClaudeMessagesPasses(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	body := decode(t, `{"model":"claude-sonnet-4","messages":[{"role":"user","content":"hi"}]}`)
	if err := v.Validate(DialectClaudeMessages, body); err != nil {
		t.Fatalf("expected valid request to pass, got %v", err)
	}
}

func TestMissingModelFailsClaude(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	body := decode(t, `{"messages":[{"role":"user","content":"hi"}]}`)
	if err := v.Validate(DialectClaudeMessages, body); err == nil {
		t.Fatal("expected validation error for missing model")
	}
}

func TestEmptyMessagesArrayFails(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	body := decode(t, `{"model":"claude-sonnet-4","messages":[]}`)
	if err := v.Validate(DialectClaudeMessages, body); err == nil {
		t.Fatal("expected validation error for empty messages array")
	}
}

func TestValidOpenAIResponsesPasses(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	body := decode(t, `{"model":"gpt-5","input":"hello"}`)
	if err := v.Validate(DialectOpenAIResponses, body); err != nil {
		t.Fatalf("expected valid request to pass, got %v", err)
	}
}

func TestValidGeminiGenerateContentPasses(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	body := decode(t, `{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)
	if err := v.Validate(DialectGeminiGenerate, body); err != nil {
		t.Fatalf("expected valid request to pass, got %v", err)
	}
}

func TestUnknownDialectErrors(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	if err := v.Validate(Dialect("unknown"), map[string]any{}); err == nil {
		t.Fatal("expected error for unregistered dialect")
	}
}
