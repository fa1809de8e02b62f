package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/pithecene-io/tgdrop/types"
)

// ToInbound converts a Bot API message. It returns false for nil messages.
// Photo takes precedence over document, which takes precedence over text.
func ToInbound(m *tgbotapi.Message) (types.InboundMessage, bool) {
	if m == nil {
		return types.InboundMessage{}, false
	}

	msg := types.InboundMessage{MessageID: m.MessageID}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if m.From != nil {
		msg.SenderID = m.From.ID
	}
	if m.Caption != "" {
		caption := m.Caption
		msg.Caption = &caption
	}

	switch {
	case len(m.Photo) > 0:
		msg.Kind = types.KindPhoto
		msg.Photos = make([]types.PhotoVariant, 0, len(m.Photo))
		for _, p := range m.Photo {
			msg.Photos = append(msg.Photos, types.PhotoVariant{
				Width:  p.Width,
				Height: p.Height,
				File:   fileRef(p.FileID, p.FileSize),
			})
		}
	case m.Document != nil:
		msg.Kind = types.KindDocument
		msg.Document = &types.Document{
			MimeType: m.Document.MimeType,
			FileName: m.Document.FileName,
			File:     fileRef(m.Document.FileID, m.Document.FileSize),
		}
	case m.Text != "":
		msg.Kind = types.KindText
		msg.Text = m.Text
	default:
		msg.Kind = types.KindOther
	}
	return msg, true
}

// fileRef treats a zero size as unknown; the Bot API omits it when unknown.
func fileRef(id string, size int) types.FileReference {
	ref := types.FileReference{ID: id}
	if size > 0 {
		n := int64(size)
		ref.Size = &n
	}
	return ref
}
