// Package scheduler triggers work at wall-clock times.
//
// Two kinds of triggers exist: one-shot timers keyed by name (AddOnce) and
// cron schedules (AddCron, AddDaily). Triggers never run work themselves; they
// enqueue into the task engine.
package scheduler
