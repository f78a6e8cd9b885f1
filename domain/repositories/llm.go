package repositories

import "context"

// LargeLanguageModel abstracts any text generation provider
type LargeLanguageModel interface {
	// Generate sends a system instruction plus a user prompt and returns the model's reply
	Generate(ctx context.Context, system, prompt string) (string, error)
}
