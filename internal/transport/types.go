// Package transport holds the chat-platform neutral types shared by the
// command front end, the notifier and the log sink. The Telegram adapter
// is the only implementation.
package transport

import "context"

// Adapter is a bidirectional chat connection.
type Adapter interface {
	// Start delivers incoming updates to out until Stop or ctx ends.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// CommandMenuUpdater is implemented by adapters with a native command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

type BotCommand struct {
	Command     string
	Description string
}

// ChatTarget addresses a chat, or a forum topic inside it when ThreadID
// is set.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef points at a message the bot already sent.
type MessageRef struct {
	ChatTarget
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Markup is adapter specific; Telegram expects *telebot.ReplyMarkup.
	Markup any
}

type UpdateKind uint8

const (
	UpdateMessage UpdateKind = iota + 1
	UpdateCallback
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateMessage:
		return "message"
	case UpdateCallback:
		return "callback"
	}
	return "unknown"
}

// Update is one incoming event. Exactly one of Message or Callback is set,
// matching Kind.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID     int
	Chat   ChatTarget
	FromID int64
	Text   string
}

// Callback is an inline button press on message MessageID.
type Callback struct {
	ID        string
	Chat      ChatTarget
	MessageID int
	FromID    int64
	Data      string
}
