// Package tgui holds small Telegram UI helpers: inline keyboards, callback
// data in "prefix:action:payload" form, and escaping for HTML parse mode.
package tgui
