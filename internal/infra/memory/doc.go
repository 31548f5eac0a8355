// Package memory provides in-process implementations of the pipeline's
// infrastructure contracts: a task queue with broker-like ack semantics, an
// acknowledgment log, a bar sink, a locker and a run repository.
//
// They back single-process runs and tests. Nothing here survives a restart.
package memory
