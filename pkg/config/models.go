package config

import (
	"fmt"
	"strings"
)

// Provider constants.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// API key environment variable names.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Model name constants.
const (
	ModelGPT4oMini       = "gpt-4o-mini"
	ModelGPT41Mini       = "gpt-4.1-mini"
	ModelClaudeHaiku     = "claude-haiku-4-5"
	ModelClaudeSonnet    = "claude-sonnet-4-5"
	ModelGeminiFlash     = "gemini-2.5-flash"
	ModelOllamaDefault   = "mistral-nemo:latest"
	DefaultModel         = ModelGPT4oMini
	DefaultOllamaHostURL = "http://localhost:11434"
)

// ModelInfo contains static information about a known LLM model.
type ModelInfo struct {
	Provider         string
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels registry contains provider and limit information for common models.
// Unknown models are inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	ModelGPT4oMini:     {Provider: ProviderOpenAI, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	ModelGPT41Mini:     {Provider: ProviderOpenAI, MaxContextTokens: 1000000, MaxOutputTokens: 32768},
	"gpt-4o":           {Provider: ProviderOpenAI, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	ModelClaudeHaiku:   {Provider: ProviderAnthropic, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	ModelClaudeSonnet:  {Provider: ProviderAnthropic, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	ModelGeminiFlash:   {Provider: ProviderGoogle, MaxContextTokens: 1000000, MaxOutputTokens: 8192},
	ModelOllamaDefault: {Provider: ProviderOllama, MaxContextTokens: 128000, MaxOutputTokens: 4096},
}

// ProviderPattern maps a model-name prefix to a provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model names.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"phi", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a given model.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns the ModelInfo for a model, with conservative defaults for unknown ones.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}
	provider, _ := GetModelProvider(modelName)
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// APIKeyEnv returns the secret name holding the credential for provider.
func APIKeyEnv(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return EnvAnthropicAPIKey
	case ProviderOpenAI:
		return EnvOpenAIAPIKey
	case ProviderGoogle:
		return EnvGoogleAPIKey
	case ProviderOllama:
		return EnvOllamaHost
	default:
		return ""
	}
}

// GetAPIKey resolves the credential for provider. For Ollama this is the host URL,
// defaulting to the local daemon.
func GetAPIKey(provider string) (string, error) {
	name := APIKeyEnv(provider)
	if name == "" {
		return "", fmt.Errorf("unknown provider %q", provider)
	}
	value, err := GetSecret(name)
	if err != nil {
		if provider == ProviderOllama {
			return DefaultOllamaHostURL, nil
		}
		return "", err
	}
	return value, nil
}
