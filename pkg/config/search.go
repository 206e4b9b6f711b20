package config

// Environment variable names for search API keys.
const (
	// EnvGoogleSearchAPIKey is the environment variable for Google Custom Search API key.
	EnvGoogleSearchAPIKey = "GOOGLE_SEARCH_API_KEY"
	// EnvGoogleSearchCX is the environment variable for Google Custom Search Engine ID.
	EnvGoogleSearchCX = "GOOGLE_SEARCH_CX"
)

// Search provider names.
const (
	SearchProviderAuto       = ""
	SearchProviderDuckDuckGo = "duckduckgo"
	SearchProviderGoogle     = "google"
)

// SearchAPIStatus describes which search backend will be used.
type SearchAPIStatus struct {
	Provider     string
	GoogleAPIKey string
	GoogleCX     string
}

// DetectSearchAPIs resolves the search backend for cfg. An empty provider prefers Google
// Custom Search when both credentials are present and falls back to DuckDuckGo, which
// needs no key. Explicitly choosing Google without credentials also falls back.
func DetectSearchAPIs(cfg SearchConfig) SearchAPIStatus {
	if cfg.Provider == SearchProviderDuckDuckGo {
		return SearchAPIStatus{Provider: SearchProviderDuckDuckGo}
	}

	key, keyErr := GetSecret(EnvGoogleSearchAPIKey)
	cx, cxErr := GetSecret(EnvGoogleSearchCX)
	if keyErr == nil && cxErr == nil {
		return SearchAPIStatus{Provider: SearchProviderGoogle, GoogleAPIKey: key, GoogleCX: cx}
	}

	if cfg.Provider == SearchProviderGoogle {
		getLogger().Warn("Google search selected but %s and %s are not both set; using DuckDuckGo",
			EnvGoogleSearchAPIKey, EnvGoogleSearchCX)
	}
	return SearchAPIStatus{Provider: SearchProviderDuckDuckGo}
}
