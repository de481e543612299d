// Package channels defines the outbound channel model: the channel enum,
// the per-channel outbound payload types, and the transport adapters that
// deliver them (SMTP email, WhatsApp HTTP bridge, webhook poster).
package channels

import (
	"strings"
	"time"
)

// Channel identifies the transport a conversation uses.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWidget   Channel = "widget"
	ChannelWebhook  Channel = "webhook"
	ChannelPlatform Channel = "platform"
)

// IsValid checks if the channel is valid.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelWhatsApp, ChannelWidget, ChannelWebhook, ChannelPlatform:
		return true
	default:
		return false
	}
}

// MediaKind classifies an attachment for providers that care about the
// difference (WhatsApp allows exactly one media item per message and wants
// to know what it is).
type MediaKind int

const (
	MediaImage MediaKind = iota
	MediaVideo
	MediaAudio
	MediaDocument
)

// String returns the string representation of MediaKind.
func (m MediaKind) String() string {
	switch m {
	case MediaImage:
		return "image"
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaDocument:
		return "document"
	default:
		return "unknown"
	}
}

// ClassifyMIME maps a MIME type onto a MediaKind. Anything unrecognized is
// treated as a document.
func ClassifyMIME(mimeType string) MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return MediaAudio
	default:
		return MediaDocument
	}
}

// Outbound is the tagged union of per-channel payloads. The dispatcher
// switches exhaustively on the concrete type, so adding a channel without
// handling it fails at the dispatch switch rather than at a provider.
type Outbound interface {
	Channel() Channel
}

// EmailOutbound is a fully rendered email ready for the SMTP sender.
type EmailOutbound struct {
	FromName    string
	FromAddress string
	To          string
	Subject     string
	HTMLBody    string
	InReplyTo   string
	References  string
}

func (EmailOutbound) Channel() Channel { return ChannelEmail }

// WhatsAppOutbound is a plain-text message with at most one media item.
type WhatsAppOutbound struct {
	To        string // phone number in E.164 form
	Text      string
	MediaURL  string
	MediaKind MediaKind
	MimeType  string
	FileName  string
}

func (WhatsAppOutbound) Channel() Channel { return ChannelWhatsApp }

// WidgetOutbound exists only for uniformity: widget delivery happens as a
// live-socket push when the message is written, not at dispatch time.
type WidgetOutbound struct {
	SessionID string
}

func (WidgetOutbound) Channel() Channel { return ChannelWidget }

// WebhookOutbound is a plain-text forward to a customer-supplied endpoint.
type WebhookOutbound struct {
	URL       string
	Text      string
	CaseID    string
	Timestamp time.Time
}

func (WebhookOutbound) Channel() Channel { return ChannelWebhook }
