package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

const maxCommandDescription = 256

// SendText sends text, split into several messages when it exceeds the
// Telegram limit. Markup rides on the first part only; the returned ref
// points at that part.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	opt = orDefault(opt)
	chat := &tele.Chat{ID: to.ChatID}
	ref := kit.MessageRef{ChatTarget: to}
	for i, part := range SplitText(text, TextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		msg, err := a.bot.Send(chat, part, teleOptions(opt, to.ThreadID, i == 0))
		if err != nil {
			return ref, classify(err)
		}
		if i == 0 {
			ref.MessageID = msg.ID
		}
	}
	return ref, nil
}

// EditText rewrites a sent message. Parts beyond the first go out as new
// messages. Editing to identical content is not an error.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	opt = orDefault(opt)
	parts := SplitText(text, TextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: ref.ChatID}
	_, err := a.bot.Edit(&tele.Message{ID: ref.MessageID, Chat: chat}, parts[0], teleOptions(opt, 0, true))
	if err != nil && !errors.Is(err, tele.ErrSameMessageContent) {
		return classify(err)
	}
	for _, part := range parts[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, part, teleOptions(opt, ref.ThreadID, false)); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text}))
}

// UpdateMenuCommands publishes the command menu, skipping the API call
// when the list matches the last one published.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	list := make([]tele.Command, 0, len(cmds))
	sum := fnv.New64a()
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if len(desc) > maxCommandDescription {
			desc = desc[:maxCommandDescription]
		}
		list = append(list, tele.Command{Text: c.Command, Description: desc})
		sum.Write([]byte(c.Command))
		sum.Write([]byte{0})
		sum.Write([]byte(desc))
		sum.Write([]byte{0})
	}

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum.Sum64() == a.menuSum {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return classify(err)
	}
	a.menuSum = sum.Sum64()
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

func orDefault(opt *kit.SendOptions) *kit.SendOptions {
	if opt == nil {
		return &kit.SendOptions{}
	}
	return opt
}

func teleOptions(opt *kit.SendOptions, threadID int, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              threadID,
	}
	if rm, ok := opt.Markup.(*tele.ReplyMarkup); ok && withMarkup {
		so.ReplyMarkup = rm
	}
	return so
}

// classify turns Telegram flood control into a kit.RetryAfterError.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return kit.WithRetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	return err
}
