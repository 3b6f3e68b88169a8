// Package tgui provides small Telegram UI helpers: HTML-safe text for
// ParseMode="HTML", inline keyboards and "scope:action:payload" callback data.
package tgui
