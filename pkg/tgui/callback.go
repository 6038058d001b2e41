package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "prefix:action" or "prefix:action:payload".
func Data(prefix, action, payload string) (string, error) {
	s := strings.TrimSpace(prefix) + ":" + strings.TrimSpace(action)
	if payload != "" {
		s += ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// MustData is Data for constant inputs; it panics when the result is too long.
func MustData(prefix, action, payload string) string {
	s, err := Data(prefix, action, payload)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseData splits callback data produced by Data. ok is false when the
// prefix or action is missing.
func ParseData(data string) (prefix, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}
