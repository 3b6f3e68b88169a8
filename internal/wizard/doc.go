// Package wizard collects reminder parameters from a chat user through a
// linear state machine: SelectKind, SelectTarget, SelectSchedule,
// SelectMessage, SelectAck, Persist.
//
// Every question is a blocking read bounded by a per-step timeout, and the
// whole session by a session timeout. A session that runs out of time is
// abandoned; nothing is persisted and nothing is retried.
package wizard
