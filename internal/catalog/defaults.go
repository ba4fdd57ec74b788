package catalog

// Template returns a configuration carrying the default generation
// parameters and admin controls. Seed entries and catalog files start from it.
func Template() ModelConfiguration {
	return ModelConfiguration{
		Category:          CategoryGeneral,
		Size:              SizeMedium,
		Status:            StatusActive,
		QualityScore:      0.8,
		ReliabilityScore:  0.9,
		MaxTokens:         2048,
		ContextWindow:     4096,
		SupportsStreaming: true,
		Temperature:       0.7,
		TopP:              0.9,
		Enabled:           true,
		Priority:          5,
		Weight:            1.0,
	}
}

func seed(fn func(m *ModelConfiguration)) ModelConfiguration {
	m := Template()
	fn(&m)
	return m
}

// DefaultModels returns the built-in seed catalog.
func DefaultModels() []ModelConfiguration {
	return []ModelConfiguration{
		seed(func(m *ModelConfiguration) {
			m.Provider, m.ModelName, m.DisplayName = "claude", "claude-3-haiku-20240307", "Claude 3 Haiku"
			m.Category, m.Size = CategoryConversation, SizeMedium
			m.CostPer1KTokens, m.AvgResponseTimeMs = 0.008, 1200
			m.QualityScore, m.ReliabilityScore = 0.9, 0.95
			m.SupportedLanguages = []string{"en", "es", "fr", "de", "it", "pt", "ja", "ko", "zh"}
			m.PrimaryLanguages = []string{"en", "es", "fr"}
			m.MaxTokens, m.ContextWindow = 4096, 200000
			m.SupportsFunctions = true
			m.Priority, m.Weight = 1, 1.0
		}),
		seed(func(m *ModelConfiguration) {
			m.Provider, m.ModelName, m.DisplayName = "mistral", "mistral-small-latest", "Mistral Small"
			m.Category, m.Size = CategoryConversation, SizeSmall
			m.CostPer1KTokens, m.AvgResponseTimeMs = 0.0007, 800
			m.QualityScore, m.ReliabilityScore = 0.75, 0.88
			m.SupportedLanguages = []string{"en", "fr", "es", "de", "it"}
			m.PrimaryLanguages = []string{"fr", "en"}
			m.MaxTokens, m.ContextWindow = 2048, 32000
			m.Priority, m.Weight = 2, 0.8
		}),
		seed(func(m *ModelConfiguration) {
			m.Provider, m.ModelName, m.DisplayName = "deepseek", "deepseek-chat", "DeepSeek Chat"
			m.Category, m.Size = CategoryConversation, SizeLarge
			m.CostPer1KTokens, m.AvgResponseTimeMs = 0.0001, 1500
			m.QualityScore, m.ReliabilityScore = 0.8, 0.85
			m.SupportedLanguages = []string{"zh", "zh-cn", "zh-tw", "en"}
			m.PrimaryLanguages = []string{"zh", "zh-cn"}
			m.MaxTokens, m.ContextWindow = 4096, 64000
			m.SupportsFunctions = true
			m.Priority, m.Weight = 1, 1.0
		}),
		seed(func(m *ModelConfiguration) {
			m.Provider, m.ModelName, m.DisplayName = "ollama", "llama2:7b", "Llama 2 7B (Local)"
			m.Category, m.Size = CategoryGeneral, SizeMedium
			m.CostPer1KTokens, m.AvgResponseTimeMs = 0, 3000
			m.QualityScore, m.ReliabilityScore = 0.65, 0.9
			m.SupportedLanguages = []string{"en", "es", "fr", "de"}
			m.PrimaryLanguages = []string{"en"}
			m.MaxTokens, m.ContextWindow = 2048, 4096
			m.Priority, m.Weight = 5, 0.3
		}),
		seed(func(m *ModelConfiguration) {
			m.Provider, m.ModelName, m.DisplayName = "ollama", "mistral:7b", "Mistral 7B (Local)"
			m.Category, m.Size = CategoryConversation, SizeMedium
			m.CostPer1KTokens, m.AvgResponseTimeMs = 0, 2800
			m.QualityScore, m.ReliabilityScore = 0.7, 0.92
			m.SupportedLanguages = []string{"en", "fr", "es", "de", "it"}
			m.PrimaryLanguages = []string{"en", "fr"}
			m.MaxTokens, m.ContextWindow = 2048, 8192
			m.Priority, m.Weight = 4, 0.5
		}),
	}
}

// Providers is the fixed provider set checked by the health aggregator.
var Providers = []string{"claude", "mistral", "deepseek", "ollama"}
