package ai

import (
	"strings"
	"testing"
)

func TestUserPrompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		req      ExtractionRequest
		contains []string
		wantErr  bool
	}{
		{
			name:     "default instructions",
			req:      ExtractionRequest{Document: "  Jane Doe, Go engineer  "},
			contains: []string{"Jane Doe, Go engineer", defaultInstructions},
		},
		{
			name:     "custom instructions",
			req:      ExtractionRequest{Document: "resume", Instructions: "focus on backend roles"},
			contains: []string{"resume", "focus on backend roles"},
		},
		{
			name:    "empty document",
			req:     ExtractionRequest{Document: "   "},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := UserPrompt(tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Fatalf("expected prompt to contain %q, got %q", want, got)
				}
			}
		})
	}
}

func TestSystemPromptDescribesShape(t *testing.T) {
	t.Parallel()

	prompt := SystemPrompt()
	for _, key := range []string{"description", "soft_skills", "technical_skills", "experience_level", "education", "work_experience", "certifications"} {
		if !strings.Contains(prompt, `"`+key+`"`) {
			t.Fatalf("system prompt does not mention %q", key)
		}
	}
}
