// Package background coordinates asynchronous work decoupled from
// turn completion: fact extraction after user turns and fact-check
// execution on explicit request.
//
// # Model
//
// The Coordinator is an explicit task/handle abstraction: jobs are
// spawned, never awaited by the conversational turn, and tracked so
// shutdown can enumerate and drain outstanding work deterministically.
// Job contexts derive from the process context, not the request: a
// disconnect only removes a job's ability to push live notifications,
// never the work itself.
//
// # Failure semantics
//
// A job's failure is captured on its handle and as terminal job status
// in the store, retrievable by polling. It is logged and never
// propagates to, or blocks, the originating connection.
package background
