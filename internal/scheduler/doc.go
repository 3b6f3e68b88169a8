// Package scheduler binds reminders to triggers.
//
// It keeps at most one live registration per job id (reminder.JobID) and is
// responsible only for:
//   - planning and registering weekly (cron) and one-shot (timer) triggers
//   - computing next trigger times
//   - enqueueing firings into the task engine
//
// Execution, overlap gating and panic recovery live in internal/task/engine.
package scheduler
