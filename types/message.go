//nolint:revive // types is a common Go package naming convention
package types

import "strconv"

// MessageKind discriminates the InboundMessage variants.
type MessageKind string

// Message kinds.
const (
	KindPhoto    MessageKind = "photo"
	KindDocument MessageKind = "document"
	KindText     MessageKind = "text"
	KindOther    MessageKind = "other"
)

// InboundMessage is one messaging-service event.
// Exactly one of Photos, Document, or Text is meaningful, selected by Kind.
// Produced by a transport, consumed once per dispatch, never mutated.
//
// Tags match the queue wire format (JSON and msgpack share field names).
type InboundMessage struct {
	// MessageID is the transport message identifier (unique per chat).
	MessageID int `json:"message_id" msgpack:"message_id"`
	// ChatID identifies the conversation the message arrived in.
	ChatID int64 `json:"chat_id" msgpack:"chat_id"`
	// SenderID identifies the sending user.
	SenderID int64 `json:"sender_id" msgpack:"sender_id"`
	// Kind selects the variant.
	Kind MessageKind `json:"kind" msgpack:"kind"`
	// Caption is the optional caption attached to media.
	Caption *string `json:"caption,omitempty" msgpack:"caption,omitempty"`
	// Photos lists the size variants of a photo (KindPhoto).
	Photos []PhotoVariant `json:"photos,omitempty" msgpack:"photos,omitempty"`
	// Document is the attached document (KindDocument).
	Document *Document `json:"document,omitempty" msgpack:"document,omitempty"`
	// Text is the message body (KindText).
	Text string `json:"text,omitempty" msgpack:"text,omitempty"`
}

// PhotoVariant is one resolution of a photo.
type PhotoVariant struct {
	Width  int           `json:"width" msgpack:"width"`
	Height int           `json:"height,omitempty" msgpack:"height,omitempty"`
	File   FileReference `json:"file" msgpack:"file"`
}

// Document is an attached file with a sender-declared MIME type.
type Document struct {
	MimeType string        `json:"mime_type" msgpack:"mime_type"`
	FileName string        `json:"file_name,omitempty" msgpack:"file_name,omitempty"`
	File     FileReference `json:"file" msgpack:"file"`
}

// DedupKey identifies a message within the process for duplicate suppression.
func (m *InboundMessage) DedupKey() string {
	return strconv.FormatInt(m.ChatID, 10) + ":" + strconv.Itoa(m.MessageID)
}

// LargestPhoto returns the widest photo variant.
// Ties keep the earliest variant in source order.
func (m *InboundMessage) LargestPhoto() (PhotoVariant, bool) {
	if len(m.Photos) == 0 {
		return PhotoVariant{}, false
	}
	best := m.Photos[0]
	for _, p := range m.Photos[1:] {
		if p.Width > best.Width {
			best = p
		}
	}
	return best, true
}
