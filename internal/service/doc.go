// Package service supervises the data collection worker.
//
// A Supervisor turns a validated model.Request into an argument vector,
// spawns the worker in its working directory and follows it until it
// terminates. Every execution lives in a Registry as a Handle; the handle
// owns the only mutable model.Execution and publishes an immutable snapshot
// after each change, so observers never see a half applied transition.
//
// Data flow:
//
//	caller          Supervisor              Handle              worker
//	  |  Start(req) -->|  register PENDING -->|                    |
//	  |                |  exec.Cmd.Start ---------------------------> runs
//	  |<-- *Handle ----|  RUNNING ----------->|                    |
//	  |                |  monitor goroutine   |<-- lineWriter -----| stdout/stderr
//	  |  Stop(id) ---->|  SIGTERM, grace, SIGKILL ----------------->|
//	  |                |  cmd.Wait, outputs ->| terminal snapshot  |
//	  |                |  sinks, metrics      |                    |
//
// Invariants:
//   - the monitor goroutine is the only writer of an execution after launch
//   - a terminal snapshot never changes
//   - an exit detected before a stop signal reached the worker wins over the stop
//   - two concurrent stops send one signal and both wait for the same end
//
// Failures after launch are recorded in the execution, never returned.
package service
