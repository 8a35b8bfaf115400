package messaging

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/failure"
)

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioWhatsApp sends and receives WhatsApp messages through the Twilio
// Messages API.
type TwilioWhatsApp struct {
	client     *resty.Client
	accountSID string
	authToken  string
	number     string
	logger     *zap.Logger
}

func NewTwilioWhatsApp(accountSID, authToken, number string, logger *zap.Logger) *TwilioWhatsApp {
	client := resty.New().
		SetBaseURL(twilioBaseURL).
		SetTimeout(15 * time.Second).
		SetBasicAuth(accountSID, authToken)

	return &TwilioWhatsApp{
		client:     client,
		accountSID: accountSID,
		authToken:  authToken,
		number:     number,
		logger:     logger,
	}
}

// ParseWebhook maps a Twilio form-encoded webhook delivery to a
// NormalizedMessage. Returns nil for deliveries that are not inbound
// messages (status callbacks, empty bodies with no media).
func (t *TwilioWhatsApp) ParseWebhook(r *http.Request) (*NormalizedMessage, error) {
	if err := r.ParseForm(); err != nil {
		return nil, failure.New(failure.Validation, "twilio.parse_webhook", err)
	}

	from := r.FormValue("From")
	if from == "" {
		return nil, nil
	}

	msg := &NormalizedMessage{
		EventID: r.FormValue("MessageSid"),
		Sender:  NormalizePhone(from),
		Kind:    KindText,
		Text:    r.FormValue("Body"),
	}

	if mediaURL := r.FormValue("MediaUrl0"); mediaURL != "" {
		contentType := r.FormValue("MediaContentType0")
		if len(contentType) >= 6 && contentType[:6] == "image/" {
			msg.Kind = KindImage
			msg.MediaURL = mediaURL
		}
	}
	if lat := r.FormValue("Latitude"); lat != "" {
		if latF, err := strconv.ParseFloat(lat, 64); err == nil {
			if lngF, err := strconv.ParseFloat(r.FormValue("Longitude"), 64); err == nil {
				msg.Kind = KindLocation
				msg.Latitude = latF
				msg.Longitude = lngF
			}
		}
	}

	return msg, nil
}

func (t *TwilioWhatsApp) Send(ctx context.Context, recipient, content string) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"From": "whatsapp:" + t.number,
			"To":   "whatsapp:" + recipient,
			"Body": content,
		}).
		Post(fmt.Sprintf("/Accounts/%s/Messages.json", t.accountSID))
	if err != nil {
		return failure.New(failure.AdapterTransient, "twilio.send", err)
	}
	if resp.IsError() {
		kind := failure.AdapterPermanent
		if resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusTooManyRequests {
			kind = failure.AdapterTransient
		}
		return failure.New(kind, "twilio.send",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	t.logger.Info("Message sent",
		zap.String("recipient", recipient),
		zap.Int("length", len(content)))
	return nil
}

func (t *TwilioWhatsApp) DownloadMedia(ctx context.Context, url string) ([]byte, error) {
	resp, err := t.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, failure.New(failure.AdapterTransient, "twilio.download_media", err)
	}
	if resp.IsError() {
		return nil, failure.New(failure.AdapterPermanent, "twilio.download_media",
			fmt.Errorf("status %d", resp.StatusCode()))
	}
	return resp.Body(), nil
}
