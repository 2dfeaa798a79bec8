package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lumora/murmel/pkg/provider/llm"
)

func TestNewValidation(t *testing.T) {
	if _, err := New("", "some-model"); err == nil {
		t.Error("New with empty providerName: got nil error")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("New with empty model: got nil error")
	}
	if _, err := New("not-a-provider", "m"); err == nil {
		t.Error("New with unknown provider: got nil error")
	}
}

func TestBuildParamsRoleMapping(t *testing.T) {
	p, err := New("ollama", "llama3.2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "be brief",
		Messages: []llm.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "bye"},
		},
	})

	if params.Model != "llama3.2" {
		t.Errorf("model = %q, want llama3.2", params.Model)
	}
	wantRoles := []string{
		anyllmlib.RoleSystem,
		anyllmlib.RoleUser,
		anyllmlib.RoleAssistant,
		anyllmlib.RoleUser,
	}
	if len(params.Messages) != len(wantRoles) {
		t.Fatalf("len(messages) = %d, want %d", len(params.Messages), len(wantRoles))
	}
	for i, want := range wantRoles {
		if params.Messages[i].Role != want {
			t.Errorf("messages[%d].Role = %v, want %v", i, params.Messages[i].Role, want)
		}
	}
}

func TestBuildParamsOptionalFields(t *testing.T) {
	p, err := New("ollama", "llama3.2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if params.Temperature != nil {
		t.Error("temperature should be nil for zero value")
	}
	if params.MaxTokens != nil {
		t.Error("max tokens should be nil for zero value")
	}

	params = p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: "hi"}},
		Temperature: 0.9,
		MaxTokens:   64,
	})
	if params.Temperature == nil || *params.Temperature != 0.9 {
		t.Errorf("temperature = %v, want 0.9", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 64 {
		t.Errorf("max tokens = %v, want 64", params.MaxTokens)
	}
}
