// Package model defines the provider agnostic abstractions for the completion
// collaborator.
//
// Core goals:
//   - A single streaming interface (Generate returns a chunk channel and an
//     error channel; both are closed when the stream ends)
//   - Tool call fragments tagged by index so callers can assemble arguments
//   - Transient failures classified as core.ErrTransientService and retried
//     at the collaborator boundary (WithRetry), never inside turn logic
//   - Lightweight scripted mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) live in sub packages so higher layers stay
// decoupled from vendor SDKs.
package model
