package llm

import "dispatch-ai/internal/domain"

// Built-in model IDs.
const (
	ModelMistral7B   = "mistral-7b-instruct"
	ModelZephyr7B    = "zephyr-7b"
	ModelFlanT5      = "flan-t5-large"
	ModelLlama3      = "llama-3-8b-instruct"
	ModelPhi3Mini    = "phi-3-mini"
	ModelGeminiFlash = "gemini-flash"
	ModelGeminiPro   = "gemini-pro"
)

// Built-in bot identities.
const (
	BotDocumentation      = "documentation"
	BotBookingAssistant   = "booking-assistant"
	BotDispatchSummary    = "dispatch-summary"
	BotInvoiceNotes       = "invoice-notes"
	BotEmailComposer      = "email-composer"
	BotDriverSupport      = "driver-support"
	BotStatisticsInsights = "statistics-insights"
)

// DefaultCatalog returns the built-in catalog used when the config file has
// no catalog section.
func DefaultCatalog() Catalog {
	return Catalog{
		Models: []domain.ModelDescriptor{
			{
				ID:              ModelMistral7B,
				DisplayName:     "Mistral 7B Instruct",
				Provider:        domain.ProviderGenericInference,
				BackendModelID:  "mistralai/Mistral-7B-Instruct-v0.3",
				MaxOutputTokens: 512,
				Temperature:     0.7,
				Priority:        1,
				UseCases:        []string{"summaries", "short replies"},
				Strengths:       []string{"instruction following", "fast"},
				Limitations:     []string{"limited context"},
			},
			{
				ID:              ModelZephyr7B,
				DisplayName:     "Zephyr 7B Beta",
				Provider:        domain.ProviderGenericInference,
				BackendModelID:  "HuggingFaceH4/zephyr-7b-beta",
				MaxOutputTokens: 512,
				Temperature:     0.7,
				Priority:        2,
				UseCases:        []string{"conversational support"},
				Strengths:       []string{"friendly tone"},
				Limitations:     []string{"weaker on numbers"},
			},
			{
				ID:              ModelFlanT5,
				DisplayName:     "FLAN-T5 Large",
				Provider:        domain.ProviderGenericInference,
				BackendModelID:  "google/flan-t5-large",
				MaxOutputTokens: 256,
				Temperature:     0.3,
				Priority:        3,
				UseCases:        []string{"classification", "short notes"},
				Strengths:       []string{"cheap", "usually warm"},
				Limitations:     []string{"terse output"},
			},
			{
				ID:              ModelLlama3,
				DisplayName:     "Llama 3 8B Instruct",
				Provider:        domain.ProviderGenericInference,
				BackendModelID:  "meta-llama/Meta-Llama-3-8B-Instruct",
				MaxOutputTokens: 768,
				Temperature:     0.6,
				Priority:        1,
				UseCases:        []string{"booking dialogue"},
				Strengths:       []string{"reasoning", "multilingual"},
				Limitations:     []string{"gated model, needs token"},
			},
			{
				ID:              ModelPhi3Mini,
				DisplayName:     "Phi-3 Mini 4k",
				Provider:        domain.ProviderGenericInference,
				BackendModelID:  "microsoft/Phi-3-mini-4k-instruct",
				MaxOutputTokens: 512,
				Temperature:     0.5,
				Priority:        2,
				UseCases:        []string{"structured notes"},
				Strengths:       []string{"small", "precise"},
				Limitations:     []string{"4k context"},
			},
			{
				ID:              ModelGeminiFlash,
				DisplayName:     "Gemini Flash",
				Provider:        domain.ProviderChatGenerative,
				BackendModelID:  "gemini-1.5-flash",
				MaxOutputTokens: 1024,
				Temperature:     0.7,
				Priority:        1,
				UseCases:        []string{"email drafts", "quick answers"},
				Strengths:       []string{"low latency", "long context"},
				Limitations:     []string{"rate limited on free tier"},
			},
			{
				ID:              ModelGeminiPro,
				DisplayName:     "Gemini Pro",
				Provider:        domain.ProviderChatGenerative,
				BackendModelID:  "gemini-1.5-pro",
				MaxOutputTokens: 2048,
				Temperature:     0.5,
				Priority:        1,
				UseCases:        []string{"documentation", "analytics narratives"},
				Strengths:       []string{"long form", "analysis"},
				Limitations:     []string{"slower", "costly"},
			},
		},
		Default: []string{ModelMistral7B, ModelZephyr7B, ModelFlanT5},
		Bots: map[string][]string{
			BotDocumentation:      {ModelGeminiPro, ModelMistral7B},
			BotBookingAssistant:   {ModelLlama3, ModelMistral7B, ModelPhi3Mini},
			BotDispatchSummary:    {ModelMistral7B},
			BotInvoiceNotes:       {ModelPhi3Mini, ModelFlanT5},
			BotEmailComposer:      {ModelGeminiFlash, ModelLlama3},
			BotDriverSupport:      {ModelZephyr7B, ModelGeminiFlash, ModelMistral7B},
			BotStatisticsInsights: {ModelGeminiPro, ModelGeminiFlash},
		},
	}
}
