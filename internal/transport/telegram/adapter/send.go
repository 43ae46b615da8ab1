package adapter

import (
	"context"
	"fmt"
	"io"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"offerbot/internal/content"
	kit "offerbot/internal/transport"
)

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		}
		// Markup goes on the first chunk only.
		if i == 0 {
			sendOpt.ReplyMarkup = replyMarkup(opt)
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, mapError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ReplyMarkup:           inlineMarkup(opt.Inline),
	}
	if _, err := a.bot.Edit(storedRef(ref), chunks[0], sendOpt); err != nil {
		return mapError(err)
	}
	// Overflow past one message is sent as new messages.
	if len(chunks) > 1 {
		to := kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}
		for _, chunk := range chunks[1:] {
			if _, err := a.SendText(ctx, to, chunk, &kit.SendOptions{ParseMode: opt.ParseMode, DisablePreview: opt.DisablePreview}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Adapter) EditMarkup(ctx context.Context, ref kit.MessageRef, inline [][]kit.Button) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rm := inlineMarkup(inline)
	if rm == nil {
		rm = &tele.ReplyMarkup{}
	}
	_, err := a.bot.EditReplyMarkup(storedRef(ref), rm)
	return mapError(err)
}

func (a *Adapter) Delete(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(a.bot.Delete(storedRef(ref)))
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text}))
}

// SendContent sends it with ctl attached and returns the content as this
// identity now sees it.
func (a *Adapter) SendContent(ctx context.Context, chatID int64, it content.Item, ctl *content.Control) (kit.Delivered, error) {
	if err := ctx.Err(); err != nil {
		return kit.Delivered{}, err
	}
	what, ok := sendable(it)
	if !ok {
		return kit.Delivered{}, &kit.Error{Class: kit.ClassUnsupported, Description: content.Summary(it)}
	}

	opt := &tele.SendOptions{ReplyMarkup: controlMarkup(ctl)}
	switch v := it.(type) {
	case content.Text:
		if len(v.Entities) > 0 {
			opt.Entities = entitiesToTele(v.Entities)
		} else {
			opt.ParseMode = v.ParseMode
		}
	default:
		if m, ok := content.MediaOf(it); ok && len(m.Entities) > 0 {
			opt.Entities = entitiesToTele(m.Entities)
		}
	}

	msg, err := a.bot.Send(&tele.Chat{ID: chatID}, what, opt)
	if err != nil {
		return kit.Delivered{}, mapError(err)
	}
	return kit.Delivered{
		Ref:     kit.MessageRef{ChatID: chatID, MessageID: msg.ID},
		Content: contentFromTele(msg),
	}, nil
}

// SendItem sends it with the markup and parse mode of opt. Greetings and
// echoes use it; broadcasts go through SendContent.
func (a *Adapter) SendItem(ctx context.Context, to kit.ChatTarget, it content.Item, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	what, ok := sendable(it)
	if !ok {
		return kit.MessageRef{}, &kit.Error{Class: kit.ClassUnsupported, Description: content.Summary(it)}
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
		ThreadID:              to.ThreadID,
		ReplyMarkup:           replyMarkup(opt),
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOpt)
	if err != nil {
		return kit.MessageRef{}, mapError(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// CopyContent copies a message without the forward header.
func (a *Adapter) CopyContent(ctx context.Context, chatID int64, from kit.MessageRef, ctl *content.Control) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opt := &tele.SendOptions{ReplyMarkup: controlMarkup(ctl)}
	_, err := a.bot.Copy(&tele.Chat{ID: chatID}, storedRef(from), opt)
	return mapError(err)
}

// FetchFile downloads fileID into memory, refusing files above maxBytes.
func (a *Adapter) FetchFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := a.bot.FileByID(fileID)
	if err != nil {
		return nil, mapError(err)
	}
	if maxBytes > 0 && f.FileSize > maxBytes {
		return nil, fmt.Errorf("file %s is %d bytes, limit %d", fileID, f.FileSize, maxBytes)
	}
	rc, err := a.bot.File(&f)
	if err != nil {
		return nil, mapError(err)
	}
	defer rc.Close()

	r := io.Reader(rc)
	if maxBytes > 0 {
		r = io.LimitReader(rc, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file %s exceeds %d bytes", fileID, maxBytes)
	}
	return data, nil
}

// SendLog delivers a log line; it satisfies logx.Sender.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true, Silent: true})
	return err
}

func storedRef(ref kit.MessageRef) tele.StoredMessage {
	return tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
}
