// Package agent drives a conversation: it turns one user input into a cycle
// of model turns and tool batches until the model answers without requesting
// tools.
//
// The package focuses on four concerns:
//
//  1. Context assembly through the prompt engine
//  2. Turn consumption, forwarding narration to the caller as it streams
//  3. Tool batch dispatch to the scheduler with results appended in request order
//  4. Safety limits (turns per input, tool calls per turn and per conversation)
//
// Execution model:
//   - Turns run strictly one after another; tools within a batch run concurrently
//   - History is owned by the Agent and only mutated between turns
//   - Cancelling the context ends the cycle leaving only complete exchanges in history
//
// An Agent serializes concurrent Run calls.
package agent
