// Package orchestrator coordinates one task submission end to end: it
// persists a running execution record, resolves the model and tool set,
// hands the agent run to the dispatcher and records the terminal outcome.
//
// Every record created by Submit reaches exactly one terminal state, even
// when the caller stops waiting, the run fails or the dispatcher rejects
// the work.
package orchestrator
