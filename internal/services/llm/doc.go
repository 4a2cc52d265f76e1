// Package llm provides a chat-completion client for note synthesis.
//
// The client speaks the OpenAI-compatible /v1/chat/completions protocol, so
// the same code talks to a local Ollama instance or a hosted router. An API
// key is optional.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Complete: send system/user prompts, receive the model's text.
// Client.HealthCheck: verify the endpoint answers and lists the model.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx, empty content, and network
// timeouts with exponential backoff (2 attempts by default). Callers that
// already run under a redelivering queue should keep this small. Context
// cancellation aborts retries immediately.
package llm
