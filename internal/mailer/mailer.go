// Package mailer delivers generated reports by email.
package mailer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"

	"github.com/ecobot-id/ecobot/internal/failure"
)

// Service sends a report to one recipient.
type Service interface {
	SendReport(ctx context.Context, toEmail, subject, body string) error
}

// Mailer is the MailerSend-backed implementation. When no API key is
// configured it runs disabled and every send fails permanent, which the
// caller reports to the user as mail being unavailable.
type Mailer struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	Enabled bool
}

func NewMailer(apiKey, fromName, fromEmail string) *Mailer {
	m := &Mailer{
		Enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}
	if m.Enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}
	return m
}

func (m *Mailer) SendReport(ctx context.Context, toEmail, subject, body string) error {
	if !m.Enabled {
		return failure.New(failure.AdapterPermanent, "mailer.send",
			fmt.Errorf("mailer disabled (missing MAILERSEND_API_KEY or from address)"))
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Email: toEmail}})
	msg.SetSubject(subject)
	msg.SetText(body)

	res, err := m.client.Email.Send(ctx, msg)
	if err != nil {
		return failure.New(failure.AdapterTransient, "mailer.send", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(res.Body)
		kind := failure.AdapterPermanent
		if res.StatusCode >= 500 {
			kind = failure.AdapterTransient
		}
		return failure.New(kind, "mailer.send",
			fmt.Errorf("mailersend error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(raw))))
	}
	return nil
}
