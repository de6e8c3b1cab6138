// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o, an
// Anthropic model behind any-llm-go, or a local Ollama instance) and exposes a
// uniform interface for the FrontDesk gateway to perform chat completions
// without coupling to any specific SDK.
//
// Providers are deliberately narrower than a general agent toolkit: the
// receptionist brain only ever needs bounded, non-streaming completions with
// an optional JSON response contract. Tool calling and streaming are handled
// nowhere in the hot path and are therefore absent from this interface.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/chatterlinx/frontdesk/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content. The tiered router converts these
// counts into dollar cost for the per-tenant budget ledger.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Provided as a
	// convenience; some providers return it directly rather than computing it
	// from the parts.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history. If the provider does not natively support a
	// dedicated system prompt, implementors should prepend it as a
	// "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0]. Lower
	// values produce more deterministic outputs.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// JSONResponse requests the provider's JSON output mode. The model is
	// constrained to emit a single valid JSON object. Providers without a
	// native JSON mode should append an instruction to the system prompt and
	// leave validation to the caller.
	JSONResponse bool

	// User is an opaque end-user identifier forwarded to providers that
	// support one, for provider-side usage attribution. Providers without the
	// concept ignore it.
	User string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must propagate context cancellation promptly: when ctx is cancelled, Complete
// must return as quickly as possible.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens that the given message list
	// would consume in the model's context window. Used by the dialogue
	// processor to bound conversation history before sending a request.
	//
	// Implementations may call the provider's tokenisation API or perform a
	// local approximation. The result need not be exact but should not
	// undercount.
	CountTokens(messages []types.Message) (int, error)

	// Model returns the model identifier this provider sends requests to
	// (e.g., "gpt-4o-mini"). Used in logs and trace records.
	Model() string
}
