package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/pithecene-io/tgdrop/types"
)

func TestToInbound_Nil(t *testing.T) {
	if _, ok := ToInbound(nil); ok {
		t.Error("nil message should not convert")
	}
}

func TestToInbound_Photo(t *testing.T) {
	msg, ok := ToInbound(&tgbotapi.Message{
		MessageID: 3,
		From:      &tgbotapi.User{ID: 1},
		Chat:      &tgbotapi.Chat{ID: 2},
		Caption:   "vacation",
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 100, Height: 75, FileSize: 1000},
			{FileID: "large", Width: 800, Height: 600},
		},
	})
	if !ok {
		t.Fatal("expected conversion")
	}
	if msg.Kind != types.KindPhoto || len(msg.Photos) != 2 {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Caption == nil || *msg.Caption != "vacation" {
		t.Errorf("Caption = %v", msg.Caption)
	}
	if s := msg.Photos[0].File.Size; s == nil || *s != 1000 {
		t.Errorf("small size = %v, want 1000", s)
	}
	if msg.Photos[1].File.Size != nil {
		t.Error("zero size should be unknown")
	}
	best, _ := msg.LargestPhoto()
	if best.File.ID != "large" {
		t.Errorf("largest = %s", best.File.ID)
	}
}

func TestToInbound_Document(t *testing.T) {
	msg, _ := ToInbound(&tgbotapi.Message{
		MessageID: 4,
		Document: &tgbotapi.Document{
			FileID:   "doc",
			FileName: "report.pdf",
			MimeType: "application/pdf",
			FileSize: 12,
		},
	})
	if msg.Kind != types.KindDocument || msg.Document == nil {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Document.MimeType != "application/pdf" || msg.Document.File.ID != "doc" {
		t.Errorf("document = %+v", msg.Document)
	}
	if msg.SenderID != 0 || msg.Caption != nil {
		t.Errorf("expected zero sender and nil caption, got %d %v", msg.SenderID, msg.Caption)
	}
}

func TestToInbound_TextAndOther(t *testing.T) {
	msg, _ := ToInbound(&tgbotapi.Message{Text: "https://example.com/x"})
	if msg.Kind != types.KindText || msg.Text != "https://example.com/x" {
		t.Errorf("msg = %+v", msg)
	}

	msg, _ = ToInbound(&tgbotapi.Message{Sticker: &tgbotapi.Sticker{FileID: "s"}})
	if msg.Kind != types.KindOther {
		t.Errorf("Kind = %s, want other", msg.Kind)
	}
}
