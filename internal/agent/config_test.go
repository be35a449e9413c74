package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveChatbotConfigDefaults(t *testing.T) {
	t.Setenv("CHAT_MODEL", "")
	t.Setenv("TEMPERATURE", "")

	cfg := ResolveChatbotConfig(nil)
	assert.Equal(t, ChatbotConfig{ChatModel: "gemini-2.0-flash", Temperature: 0.7}, cfg)
}

func TestResolveConfigPrecedence(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		configurable map[string]any
		want         MathAgentConfig
	}{
		{
			name: "defaults",
			want: MathAgentConfig{MathModel: "gemini-2.0-flash", Temperature: 0.1},
		},
		{
			name:         "configurable overrides default",
			configurable: map[string]any{"math_model": "gemini-2.5-pro", "temperature": 0.3},
			want:         MathAgentConfig{MathModel: "gemini-2.5-pro", Temperature: 0.3},
		},
		{
			name:         "env overrides configurable",
			env:          map[string]string{"MATH_MODEL": "gemini-env", "TEMPERATURE": "0.0"},
			configurable: map[string]any{"math_model": "gemini-2.5-pro", "temperature": 0.3},
			want:         MathAgentConfig{MathModel: "gemini-env", Temperature: 0},
		},
		{
			name:         "nil and unknown values ignored",
			configurable: map[string]any{"math_model": nil, "chat_model": "other"},
			want:         MathAgentConfig{MathModel: "gemini-2.0-flash", Temperature: 0.1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MATH_MODEL", "")
			t.Setenv("TEMPERATURE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, ResolveMathAgentConfig(tt.configurable))
		})
	}
}
