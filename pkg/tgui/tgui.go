package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Keyboard builds an inline keyboard row by row.
type Keyboard struct {
	rows [][]tele.InlineButton
}

func NewKeyboard() *Keyboard { return &Keyboard{} }

// Row appends one row. Empty rows are ignored.
func (k *Keyboard) Row(btns ...tele.InlineButton) *Keyboard {
	if len(btns) > 0 {
		k.rows = append(k.rows, btns)
	}
	return k
}

// Markup returns the reply markup to put in kit.SendOptions.Markup.
func (k *Keyboard) Markup() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: k.rows}
}

// Button is a callback button; data is sent back verbatim.
func Button(text, data string) tele.InlineButton {
	return tele.InlineButton{Text: text, Data: data}
}
