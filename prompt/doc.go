// Package prompt asks a chat-completion model to write analysis code.
//
// An [Orchestrator] wraps a [ChatClient] (satisfied by *openai.Client) with a
// fixed geo-information scientist system instruction, a per-attempt timeout
// and a bounded exponential backoff. Every failure is a [*ServiceError] whose
// Reason tells callers whether retrying could help.
package prompt
