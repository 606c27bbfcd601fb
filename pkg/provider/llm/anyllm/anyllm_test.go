package anyllm

import (
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

func TestProviders(t *testing.T) {
	if !slices.IsSorted(Providers) {
		t.Errorf("Providers not sorted: %v", Providers)
	}
	for _, want := range []string{"groq", "anthropic", "ollama", "openai"} {
		if !slices.Contains(Providers, want) {
			t.Errorf("Providers lacks %q", want)
		}
	}
}

func TestParams(t *testing.T) {
	p := &Provider{model: DefaultModel}
	params := p.params(llm.CompletionRequest{
		SystemPrompt: "You are on a phone call.",
		Messages: []llm.Message{
			{Role: llm.RoleAssistant, Content: "Hi there! How can I help you today?"},
			{Role: llm.RoleUser, Content: "what time is it"},
		},
		Temperature: 0.7,
		MaxTokens:   150,
	})

	if params.Model != DefaultModel {
		t.Errorf("model = %q", params.Model)
	}
	roles := make([]string, len(params.Messages))
	for i, m := range params.Messages {
		roles[i] = m.Role
	}
	if want := []string{anyllmlib.RoleSystem, llm.RoleAssistant, llm.RoleUser}; !slices.Equal(roles, want) {
		t.Errorf("roles = %v, want %v", roles, want)
	}
	if got := params.Messages[2].ContentString(); got != "what time is it" {
		t.Errorf("last message = %q", got)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 150 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestParams_ZeroValuesOmitted(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.params(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if len(params.Messages) != 1 || params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("params = %+v", params)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		backend   string
		model     string
		opts      []anyllmlib.Option
		wantModel string
		wantErr   bool
	}{
		{name: "groq default model", backend: "groq", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("gsk-test")}, wantModel: DefaultModel},
		{name: "case insensitive", backend: "Anthropic", model: "claude-3-5-haiku-latest", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}, wantModel: "claude-3-5-haiku-latest"},
		{name: "local ollama", backend: "ollama", model: "llama3.2", wantModel: "llama3.2"},
		{name: "no backend", model: "x", wantErr: true},
		{name: "unknown backend", backend: "fakecloud", model: "x", wantErr: true},
		{name: "model required", backend: "ollama", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.model != tt.wantModel {
				t.Errorf("model = %q, want %q", p.model, tt.wantModel)
			}
		})
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error without an API key")
	}
}

func TestEmptyRequest(t *testing.T) {
	p, err := New("ollama", "llama3.2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.StreamCompletion(t.Context(), llm.CompletionRequest{}); err == nil {
		t.Error("StreamCompletion: expected error for empty request")
	}
	if _, err := p.Complete(t.Context(), llm.CompletionRequest{}); err == nil {
		t.Error("Complete: expected error for empty request")
	}
	if p.Name() != "ollama" {
		t.Errorf("Name() = %q", p.Name())
	}
}
