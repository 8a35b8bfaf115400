package messaging

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/failure"
)

// Telegram is the alternate channel adapter. Unlike the webhook-driven
// WhatsApp adapter it long-polls for updates and pushes them to a
// handler.
type Telegram struct {
	api    *tgbotapi.BotAPI
	client *resty.Client
	logger *zap.Logger
}

func NewTelegram(token string, logger *zap.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{
		api:    api,
		client: resty.New().SetTimeout(30 * time.Second),
		logger: logger,
	}, nil
}

// Listen converts incoming updates to NormalizedMessages and hands them
// to handle. Blocks until the updates channel closes.
func (t *Telegram) Listen(handle func(*NormalizedMessage)) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	for update := range t.api.GetUpdatesChan(u) {
		if update.Message == nil {
			continue
		}
		msg := t.normalize(update.Message)
		if msg != nil {
			go handle(msg)
		}
	}
}

func (t *Telegram) normalize(m *tgbotapi.Message) *NormalizedMessage {
	msg := &NormalizedMessage{
		EventID: fmt.Sprintf("tg-%d-%d", m.Chat.ID, m.MessageID),
		Sender:  "tg:" + strconv.FormatInt(m.Chat.ID, 10),
		Kind:    KindText,
		Text:    m.Text,
	}

	switch {
	case len(m.Photo) > 0:
		// Largest photo size is last.
		photo := m.Photo[len(m.Photo)-1]
		url, err := t.api.GetFileDirectURL(photo.FileID)
		if err != nil {
			t.logger.Error("Failed to resolve photo URL",
				zap.Error(err), zap.Int64("chat_id", m.Chat.ID))
			return nil
		}
		msg.Kind = KindImage
		msg.MediaURL = url
		msg.Text = m.Caption
	case m.Location != nil:
		msg.Kind = KindLocation
		msg.Latitude = m.Location.Latitude
		msg.Longitude = m.Location.Longitude
	case m.Contact != nil:
		msg.Kind = KindContact
		msg.ContactPhone = NormalizePhone(m.Contact.PhoneNumber)
	}

	return msg
}

func (t *Telegram) Send(ctx context.Context, recipient, content string) error {
	chatID, err := strconv.ParseInt(strings.TrimPrefix(recipient, "tg:"), 10, 64)
	if err != nil {
		return failure.New(failure.AdapterPermanent, "telegram.send",
			fmt.Errorf("bad recipient %q: %w", recipient, err))
	}

	msg := tgbotapi.NewMessage(chatID, content)
	if _, err := t.api.Send(msg); err != nil {
		return failure.New(failure.AdapterTransient, "telegram.send", err)
	}
	return nil
}

func (t *Telegram) DownloadMedia(ctx context.Context, url string) ([]byte, error) {
	resp, err := t.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, failure.New(failure.AdapterTransient, "telegram.download_media", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, failure.New(failure.AdapterPermanent, "telegram.download_media",
			fmt.Errorf("status %d", resp.StatusCode()))
	}
	return resp.Body(), nil
}
