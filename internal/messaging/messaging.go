// Package messaging adapts chat channels (Twilio WhatsApp, Telegram) to
// one normalized message shape. Provider errors are wrapped into the
// common failure taxonomy; the dispatcher never sees provider types.
package messaging

import (
	"context"
	"strings"
)

// Kind is the payload type of an inbound message.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindLocation Kind = "location"
	KindContact  Kind = "contact"
)

// NormalizedMessage is one inbound chat event, shorn of provider detail.
type NormalizedMessage struct {
	// EventID is the channel's delivery id, used for re-delivery dedup.
	EventID string
	// Sender is the normalized identity of the sender.
	Sender string
	Kind   Kind
	Text   string
	// MediaURL is set for image messages; the adapter downloads it.
	MediaURL  string
	Latitude  float64
	Longitude float64
	// ContactPhone is set for shared-contact messages.
	ContactPhone string
}

// Channel is the outbound side of a messaging adapter.
type Channel interface {
	Send(ctx context.Context, recipient, content string) error
	DownloadMedia(ctx context.Context, url string) ([]byte, error)
}

// NormalizePhone strips channel prefixes and separators from a
// phone-like sender id so it can serve as the stable user identity.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "whatsapp:")
	s = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(s)
	if strings.HasPrefix(s, "08") {
		s = "+62" + s[1:]
	}
	if s != "" && !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	return s
}
