// Package core provides the foundational domain types shared by every
// transcribe-talk component:
//
//   - Messages (role tagged entries of a conversation history)
//   - Tool call requests and results (one result per request, always)
//   - Events (ephemeral tagged records a Turn streams to the Agent)
//   - ToolContext (scoped execution surface handed to tool bodies)
//   - Limiter (counter backing the agent safety limits)
//   - The error taxonomy (sentinels plus typed errors that unwrap to them)
//
// The package keeps orchestration out of scope. It only holds data and small
// helpers so Turn, Scheduler and Agent can be tested by replaying fixed values.
package core
