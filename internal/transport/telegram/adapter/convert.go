package adapter

import (
	"bytes"

	tele "gopkg.in/telebot.v4"

	"offerbot/internal/content"
	kit "offerbot/internal/transport"
)

func userFromTele(u *tele.User) kit.User {
	if u == nil {
		return kit.User{}
	}
	return kit.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

func messageFromTele(m *tele.Message) *kit.Message {
	out := &kit.Message{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		From:     userFromTele(m.Sender),
		Text:     m.Text,
		Content:  contentFromTele(m),
		AlbumID:  m.AlbumID,
		Date:     m.Time(),
	}
	if m.Chat != nil {
		out.ChatID = m.Chat.ID
		out.IsGroup = m.Chat.Type != tele.ChatPrivate
	}
	return out
}

// contentFromTele decodes a platform message into the content union.
// Order matters: animations also carry a document.
func contentFromTele(m *tele.Message) content.Item {
	if m == nil {
		return content.Unsupported{Reason: "empty"}
	}
	caption := func(f tele.File) content.Media {
		return content.Media{
			FileID:   f.FileID,
			UniqueID: f.UniqueID,
			Caption:  m.Caption,
			Entities: entitiesFromTele(m.CaptionEntities),
		}
	}
	switch {
	case m.Sticker != nil:
		return content.Unsupported{Reason: "sticker"}
	case m.Animation != nil:
		return content.Unsupported{Reason: "animation"}
	case m.Audio != nil:
		return content.Unsupported{Reason: "audio"}
	case m.Poll != nil:
		return content.Unsupported{Reason: "poll"}
	case m.Contact != nil:
		return content.Unsupported{Reason: "contact"}
	case m.Venue != nil:
		return content.Unsupported{Reason: "venue"}
	case m.Location != nil:
		return content.Unsupported{Reason: "location"}
	case m.Dice != nil:
		return content.Unsupported{Reason: "dice"}
	case m.Photo != nil:
		return content.Photo{Media: caption(m.Photo.File)}
	case m.Video != nil:
		md := caption(m.Video.File)
		md.FileName = m.Video.FileName
		return content.Video{Media: md}
	case m.Document != nil:
		md := caption(m.Document.File)
		md.FileName = m.Document.FileName
		return content.Document{Media: md}
	case m.Voice != nil:
		return content.Voice{Media: caption(m.Voice.File)}
	case m.VideoNote != nil:
		md := caption(m.VideoNote.File)
		// Video notes cannot carry captions.
		md.Caption, md.Entities = "", nil
		return content.VideoNote{Media: md}
	case m.Text != "":
		return content.Text{Body: m.Text, Entities: entitiesFromTele(m.Entities)}
	default:
		return content.Unsupported{Reason: "unknown"}
	}
}

func entitiesFromTele(in tele.Entities) []content.Entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]content.Entity, 0, len(in))
	for _, e := range in {
		out = append(out, content.Entity{
			Type:          string(e.Type),
			Offset:        e.Offset,
			Length:        e.Length,
			URL:           e.URL,
			Language:      e.Language,
			CustomEmojiID: e.CustomEmojiID,
		})
	}
	return out
}

func entitiesToTele(in []content.Entity) tele.Entities {
	if len(in) == 0 {
		return nil
	}
	out := make(tele.Entities, 0, len(in))
	for _, e := range in {
		out = append(out, tele.MessageEntity{
			Type:        tele.EntityType(e.Type),
			Offset:      e.Offset,
			Length:      e.Length,
			URL:         e.URL,
			Language:    e.Language,
			CustomEmojiID: e.CustomEmojiID,
		})
	}
	return out
}

// fileFor picks the upload bytes when present, else the identity's file id.
func fileFor(m content.Media) tele.File {
	if m.Upload != nil {
		return tele.FromReader(bytes.NewReader(m.Upload.Data))
	}
	return tele.File{FileID: m.FileID}
}

// sendable converts it to a telebot value accepted by Bot.Send.
func sendable(it content.Item) (any, bool) {
	switch v := it.(type) {
	case content.Text:
		return v.Body, true
	case content.Photo:
		return &tele.Photo{File: fileFor(v.Media), Caption: v.Caption}, true
	case content.Video:
		return &tele.Video{File: fileFor(v.Media), Caption: v.Caption, FileName: uploadName(it, v.Media)}, true
	case content.Document:
		return &tele.Document{File: fileFor(v.Media), Caption: v.Caption, FileName: uploadName(it, v.Media)}, true
	case content.Voice:
		return &tele.Voice{File: fileFor(v.Media), Caption: v.Caption}, true
	case content.VideoNote:
		return &tele.VideoNote{File: fileFor(v.Media)}, true
	default:
		return nil, false
	}
}

func uploadName(it content.Item, m content.Media) string {
	if m.Upload != nil && m.Upload.Name != "" {
		return m.Upload.Name
	}
	if m.FileName != "" {
		return m.FileName
	}
	if m.Upload != nil {
		return content.UploadName(it)
	}
	return ""
}

func inlineMarkup(rows [][]kit.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			btn := tele.InlineButton{Text: b.Text}
			switch {
			case b.WebApp != "":
				btn.WebApp = &tele.WebApp{URL: b.WebApp}
			case b.URL != "":
				btn.URL = b.URL
			default:
				btn.Data = b.Data
			}
			r = append(r, btn)
		}
		kb = append(kb, r)
	}
	return &tele.ReplyMarkup{InlineKeyboard: kb}
}

func replyMarkup(opt *kit.SendOptions) *tele.ReplyMarkup {
	if opt == nil {
		return nil
	}
	if rm := inlineMarkup(opt.Inline); rm != nil {
		return rm
	}
	if opt.RemoveKeyboard {
		return &tele.ReplyMarkup{RemoveKeyboard: true}
	}
	if len(opt.ReplyKeyboard) == 0 {
		return nil
	}
	kb := make([][]tele.ReplyButton, 0, len(opt.ReplyKeyboard))
	for _, row := range opt.ReplyKeyboard {
		r := make([]tele.ReplyButton, 0, len(row))
		for _, text := range row {
			r = append(r, tele.ReplyButton{Text: text})
		}
		kb = append(kb, r)
	}
	return &tele.ReplyMarkup{ReplyKeyboard: kb, ResizeKeyboard: true}
}

func controlMarkup(ctl *content.Control) *tele.ReplyMarkup {
	if ctl == nil {
		return nil
	}
	return inlineMarkup([][]kit.Button{{{Text: ctl.Label, URL: ctl.URL}}})
}
