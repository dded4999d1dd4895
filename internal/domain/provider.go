package domain

import "context"

// Adapter translates a generation request into one provider-specific network
// call. Implementations never retry internally; retry and fallback policy
// belongs to the gateway.
type Adapter interface {
	// Invoke performs a single attempt against the given model.
	Invoke(ctx context.Context, model ModelDescriptor, req GenerationRequest) AttemptOutcome
	// Name returns the adapter's identifier (e.g., "inference", "chat").
	Name() string
}

// ModelCatalog resolves a bot identity to its ordered candidate models.
type ModelCatalog interface {
	ListFor(botIdentity string) []ModelDescriptor
	PrimaryFor(botIdentity string) ModelDescriptor
}

// Generator produces text for a bot identity.
type Generator interface {
	GenerateForBot(ctx context.Context, botIdentity, prompt, taskTag string) (*GenerationResult, error)
}

// BatchGenerator produces one result per prompt, in input order.
type BatchGenerator interface {
	GenerateBatch(ctx context.Context, botIdentity string, prompts []string, taskTag string) ([]GenerationResult, error)
}
