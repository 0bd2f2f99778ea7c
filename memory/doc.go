// Package memory contains the long-term memory stores behind the save_memory
// and read_memory tools.
//
// Memories are append-only categorized notes. FileStore persists them as a
// markdown document (CONTEXT.md by default) that is also injected into the
// system prompt; InMemoryStore keeps them in process for tests and ephemeral
// sessions.
package memory
