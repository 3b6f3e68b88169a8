package adapter

import (
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/reminder"
)

// classifySendError maps a private-send failure onto the reminder taxonomy.
// 403 responses mean the user will not accept bot messages.
func classifySendError(userID int64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrNotStartedByUser) ||
		errors.Is(err, tele.ErrUserIsDeactivated) {
		return fmt.Errorf("%w: user %d: %v", reminder.ErrBlocked, userID, err)
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return fmt.Errorf("%w: user %d: %v", reminder.ErrBlocked, userID, err)
	}
	return fmt.Errorf("%w: user %d: %v", reminder.ErrUnreachable, userID, err)
}
