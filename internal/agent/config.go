package agent

import (
	"github.com/spf13/viper"
)

const DefaultModel = "gemini-2.0-flash"

// ChatbotConfig is the chatbot's per-run configuration.
type ChatbotConfig struct {
	ChatModel   string  `json:"chat_model"`
	Temperature float64 `json:"temperature"`
}

// MathAgentConfig is shared by the math and MCP agents.
type MathAgentConfig struct {
	MathModel   string  `json:"math_model"`
	Temperature float64 `json:"temperature"`
}

// ResolveChatbotConfig layers defaults, run-supplied values and
// environment variables, in increasing priority.
func ResolveChatbotConfig(configurable map[string]any) ChatbotConfig {
	v := layered(configurable, map[string]any{
		"chat_model":  DefaultModel,
		"temperature": 0.7,
	})
	return ChatbotConfig{
		ChatModel:   v.GetString("chat_model"),
		Temperature: v.GetFloat64("temperature"),
	}
}

// ResolveMathAgentConfig is ResolveChatbotConfig for tool agents.
func ResolveMathAgentConfig(configurable map[string]any) MathAgentConfig {
	v := layered(configurable, map[string]any{
		"math_model":  DefaultModel,
		"temperature": 0.1,
	})
	return MathAgentConfig{
		MathModel:   v.GetString("math_model"),
		Temperature: v.GetFloat64("temperature"),
	}
}

// layered builds a viper instance where env (the key upper-cased) beats
// configurable, which beats defaults. Unknown or nil configurable keys are
// ignored.
func layered(configurable map[string]any, defaults map[string]any) *viper.Viper {
	v := viper.New()
	supplied := make(map[string]any)
	for k, def := range defaults {
		v.SetDefault(k, def)
		if val, ok := configurable[k]; ok && val != nil {
			supplied[k] = val
		}
	}
	_ = v.MergeConfigMap(supplied)
	v.AutomaticEnv()
	return v
}

// ModelKey is the configurable key that selects the model of agent id.
func ModelKey(id string) string {
	if id == ChatbotID {
		return "chat_model"
	}
	return "math_model"
}
