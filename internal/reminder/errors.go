package reminder

import "errors"

var (
	// ErrInvalidFormat reports malformed time or date input.
	ErrInvalidFormat = errors.New("invalid format")
	// ErrOutOfRange reports an hour or minute outside its bounds.
	ErrOutOfRange = errors.New("value out of range")
	// ErrUnreachable reports an announcement channel or inbox that cannot be reached.
	ErrUnreachable = errors.New("unreachable")
	// ErrBlocked reports a recipient that rejects private delivery.
	ErrBlocked = errors.New("recipient blocked private delivery")
	// ErrNotFound reports a reminder that no longer exists.
	ErrNotFound = errors.New("reminder not found")
	// ErrInvalidReminder reports a definition violating the reminder invariants.
	ErrInvalidReminder = errors.New("invalid reminder")
)
