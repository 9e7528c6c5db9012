// Package serve implements the request-lifecycle core of a
// continuous-batching inference engine: the per-request branch tree and its
// state machine, the finish cascade, prefix-cache synchronization,
// preemption, and per-step output aggregation.
//
// # Reading Guide
//
// Start with these three files to understand the core:
//   - request_state.go: the branch tree with its pending/alive/finished
//     state machine and per-branch streaming-delta computation
//   - engine_state.go: the running/waiting queues, request-state map and
//     dirty flag
//   - postprocess.go: the per-step pipeline tying everything together
//
// # Collaborators
//
// The backend model, prefix cache, tokenizer, sampler and draft-token
// workspace are consumed through interfaces (interfaces.go, sampling.go);
// their internals belong to the surrounding server. prefix_cache.go ships a
// reference PrefixCache used by the replay harness and the tests.
//
// # Ownership
//
// All engine state is mutated from a single control goroutine, one step at
// a time; there is no internal locking. The stream callback runs
// synchronously inside the step and must not re-enter the engine.
package serve
