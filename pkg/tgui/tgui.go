package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Grid splits buttons into rows of cols and returns a ready ReplyMarkup.
func Grid(cols int, buttons []tele.Btn) *tele.ReplyMarkup {
	if cols <= 0 {
		cols = 2
	}
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Split(cols, buttons)...)
	return rm
}
