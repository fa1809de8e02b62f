// Package policy decides whether an inbound message yields a file to save.
//
// An AccessPolicy has three optional dimensions: sender allow-list, MIME
// allow-list, and maximum byte size. An absent dimension allows everything;
// a present but empty allow-list allows nothing.
package policy

import (
	"net/url"
	"strings"

	"github.com/pithecene-io/tgdrop/types"
)

// AccessPolicy is read-only after construction and safe for concurrent use.
type AccessPolicy struct {
	senders   map[int64]struct{} // nil = any sender
	mimeTypes map[string]struct{} // nil = any type
	maxSize   *int64              // nil = unlimited
}

// New builds a policy. A nil pointer leaves that dimension unrestricted.
func New(senders *[]int64, mimeTypes *[]string, maxSize *int64) *AccessPolicy {
	p := &AccessPolicy{}
	if senders != nil {
		p.senders = make(map[int64]struct{}, len(*senders))
		for _, id := range *senders {
			p.senders[id] = struct{}{}
		}
	}
	if mimeTypes != nil {
		p.mimeTypes = make(map[string]struct{}, len(*mimeTypes))
		for _, m := range *mimeTypes {
			p.mimeTypes[normalizeMime(m)] = struct{}{}
		}
	}
	if maxSize != nil {
		v := *maxSize
		p.maxSize = &v
	}
	return p
}

// AllowAll returns a policy with no restrictions.
func AllowAll() *AccessPolicy {
	return &AccessPolicy{}
}

// MaxSize returns the configured limit, or nil when unlimited.
func (p *AccessPolicy) MaxSize() *int64 {
	return p.maxSize
}

// AllowsSender reports whether id passes the sender allow-list.
func (p *AccessPolicy) AllowsSender(id int64) bool {
	if p.senders == nil {
		return true
	}
	_, ok := p.senders[id]
	return ok
}

// AllowsMimeType reports whether mimeType passes the MIME allow-list.
// Parameters such as "; charset=utf-8" are ignored.
func (p *AccessPolicy) AllowsMimeType(mimeType string) bool {
	if p.mimeTypes == nil {
		return true
	}
	_, ok := p.mimeTypes[normalizeMime(mimeType)]
	return ok
}

func normalizeMime(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}

// Target is the file a message resolved to.
type Target struct {
	// Kind is the message variant the target came from.
	Kind types.MessageKind
	// File is set for photo and document targets.
	File *types.FileReference
	// URL is set for text targets.
	URL string
}

// Admit applies the sender and type checks and selects the file to pursue.
// A non-nil error is always a *Rejection.
func (p *AccessPolicy) Admit(msg *types.InboundMessage) (Target, error) {
	if !p.AllowsSender(msg.SenderID) {
		return Target{}, reject(ReasonSenderNotAllowed, "sender %d", msg.SenderID)
	}

	switch msg.Kind {
	case types.KindPhoto:
		photo, ok := msg.LargestPhoto()
		if !ok {
			return Target{}, reject(ReasonNoSupportedFile, "photo without variants")
		}
		ref := photo.File
		return Target{Kind: types.KindPhoto, File: &ref}, nil

	case types.KindDocument:
		if msg.Document == nil {
			return Target{}, reject(ReasonNoSupportedFile, "document without file")
		}
		if !p.AllowsMimeType(msg.Document.MimeType) {
			return Target{}, reject(ReasonTypeNotAllowed, "mime type %q", msg.Document.MimeType)
		}
		ref := msg.Document.File
		return Target{Kind: types.KindDocument, File: &ref}, nil

	case types.KindText:
		u, ok := ParseAbsoluteURL(msg.Text)
		if !ok {
			return Target{}, reject(ReasonNoSupportedFile, "text is not an absolute URL")
		}
		return Target{Kind: types.KindText, URL: u}, nil

	default:
		return Target{}, reject(ReasonNoSupportedFile, "message kind %q", msg.Kind)
	}
}

// CheckSize applies the size limit once remote metadata is known.
// Unknown size is treated as over the limit.
func (p *AccessPolicy) CheckSize(size *int64) error {
	if p.maxSize == nil {
		return nil
	}
	if size == nil {
		return reject(ReasonExceedsMaxSize, "unknown size, limit %dB", *p.maxSize)
	}
	if *size > *p.maxSize {
		return reject(ReasonExceedsMaxSize, "size %dB, limit %dB", *size, *p.maxSize)
	}
	return nil
}

// ParseAbsoluteURL returns the normalized form of text if it is an absolute URL
// with a scheme and host.
func ParseAbsoluteURL(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || strings.ContainsAny(text, " \t\n") {
		return "", false
	}
	u, err := url.Parse(text)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", false
	}
	return u.String(), true
}
