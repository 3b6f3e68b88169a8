// Package reminder holds the reminder domain: the data model, weekday and
// time-of-day parsing, the trigger planner and the two-phase dispatcher
// (ack window, then fallback private delivery).
//
// The chat platform and persistence are consumed through the Messenger and
// Store interfaces; the scheduler hosts ack continuations via Deferrer.
package reminder
