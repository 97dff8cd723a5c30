// Package llm provides the reasoning-model client used for candidate
// screening and lead qualification. Two backends are available: any
// OpenAI-compatible chat completion endpoint and the Gemini API. Both sit
// behind the Client interface and retry transient failures a bounded number
// of times.
package llm

import "context"

// Request is a single completion request. System carries the role
// instruction, Prompt the full user content including any injected data
// blocks.
type Request struct {
	System string
	Prompt string
}

// Client produces one text completion per request.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
