// Package engine runs one agent task: a bounded loop that alternates model
// calls with tool calls until the model produces a final answer.
//
// Each loop iteration is one model call and counts against the run's step
// budget. Tool calls requested by the model are executed in order and
// recorded as steps (action = "tool(args)", observation = tool output); the
// final answer is recorded as a "final_answer" step.
//
// Failure policy:
//   - unknown tools, malformed arguments, schema violations and tool timeouts
//     are returned to the model as error observations so it can recover
//   - any other tool error or a tool panic aborts the run (ErrToolFailed)
//   - running out of budget aborts the run (ErrStepBudgetExhausted)
//   - an empty final answer aborts the run (ErrNoOutput)
//
// Failed runs return a *RunError carrying the steps executed so far.
//
// Lifecycle hooks (before/after model and tool calls, per step) are
// registered on a CallbackManager; a hook returning an error aborts the run.
package engine
