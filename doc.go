// Package conveyor provides a priority-ordered, retrying background job
// processing core for Go. It decouples request handling from long-running
// or asynchronous work: email delivery, report generation, file processing,
// maintenance tasks.
//
// Conveyor is designed as a library, not a service. Import it, register
// typed job definitions, and hand the scheduler units of work.
//
// # Quick Start
//
//	reg := job.NewRegistry()
//	job.RegisterDefinition(reg, sendEmail)
//
//	cfg := conveyor.DefaultConfig()
//	cfg.Concurrency = 8
//	sched := scheduler.New(cfg, reg, scheduler.WithAdapter(redisAdapter))
//	if err := sched.Start(ctx); err != nil {
//	    return err
//	}
//
//	jobID, err := sched.Enqueue(ctx, "email.send", payload, job.WithPriority(10))
//
// # Architecture
//
// All mutable state — the priority queue, running set, dead letter store,
// history ring, and metrics — is owned by a single control loop goroutine
// (mailbox pattern). Job bodies run in separate worker goroutines bounded
// by a concurrency limit; only their completion messages re-enter the loop.
// External callers talk to the loop through deadline-bound request/reply
// calls and can never be hung by an unresponsive scheduler.
//
// Durability is an explicit best-effort mirror: a pluggable persistence
// adapter (no-op, Redis, or Postgres) shadows queue mutations for crash
// recovery and is never allowed to fail or block an in-memory operation.
package conveyor
