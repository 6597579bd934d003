package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer submits one transactional email.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// ResendMailer sends through the Resend API.
type ResendMailer struct {
	client *resend.Client
	from   string
}

func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{client: resend.NewClient(apiKey), from: from}
}

func (m *ResendMailer) Send(ctx context.Context, e Email) error {
	sent, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{e.To},
		Subject: e.Subject,
		Html:    e.HTML,
	})
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	if sent == nil || sent.Id == "" {
		return fmt.Errorf("resend: empty response")
	}
	return nil
}

// noopMailer stands in when no API key is configured.
type noopMailer struct {
	log *zap.Logger
}

func (m noopMailer) Send(_ context.Context, e Email) error {
	m.log.Warn("RESEND_API_KEY not set, skipping email", zap.String("subject", e.Subject))
	return nil
}

// NewMailer returns a Resend mailer, or a logging no-op without a key.
func NewMailer(apiKey, from string, log *zap.Logger) Mailer {
	if strings.TrimSpace(apiKey) == "" {
		return noopMailer{log: log}
	}
	return NewResendMailer(apiKey, from)
}

var friendRequestTmpl = template.Must(template.New("friend_request").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
  <title>Friend Request on CallMe</title>
</head>
<body style="margin:0;padding:0;background:#FDFBF9;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',sans-serif;">
  <table width="100%" cellpadding="0" cellspacing="0" style="background:#FDFBF9;padding:40px 20px;">
    <tr>
      <td align="center">
        <table width="100%" cellpadding="0" cellspacing="0" style="max-width:480px;">
          <tr>
            <td align="center" style="padding-bottom:28px;">
              <img src="{{.AppURL}}/logo.png" alt="CallMe" width="64" height="64" style="border-radius:18px;display:block;" />
              <p style="margin:10px 0 0;font-size:22px;font-weight:700;color:#1a1a1a;">CallMe</p>
            </td>
          </tr>
          <tr>
            <td style="background:#ffffff;border-radius:22px;padding:36px 32px;border:1px solid #f0ede8;">
              <p style="margin:0 0 6px;font-size:13px;font-weight:600;color:#D46B50;text-transform:uppercase;letter-spacing:1px;">Friend Request</p>
              <h1 style="margin:0 0 16px;font-size:26px;font-weight:700;color:#1a1a1a;line-height:1.2;">{{.SenderName}} wants to connect</h1>
              <p style="margin:0 0 28px;font-size:16px;color:#6b7280;line-height:1.6;">
                Hey {{.RecipientName}}, <strong>{{.SenderName}}</strong> sent you a friend request on CallMe.
                Open the app to accept and start seeing when each other is free to talk.
              </p>
              <table cellpadding="0" cellspacing="0" width="100%">
                <tr>
                  <td align="center">
                    <a href="{{.AppURL}}" style="display:inline-block;background:#D46B50;color:#ffffff;text-decoration:none;font-size:16px;font-weight:600;padding:14px 36px;border-radius:14px;">Open CallMe →</a>
                  </td>
                </tr>
              </table>
            </td>
          </tr>
          <tr>
            <td align="center" style="padding-top:24px;">
              <p style="margin:0;font-size:12px;color:#9ca3af;">© {{.Year}} CallMe &nbsp;·&nbsp; <a href="{{.AppURL}}/privacy.html" style="color:#9ca3af;">Privacy Policy</a></p>
              <p style="margin:6px 0 0;font-size:12px;color:#d1d5db;">You received this because someone sent you a friend request.</p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>
`))

type friendRequestView struct {
	SenderName    string
	RecipientName string
	AppURL        string
	Year          int
}

// RenderFriendRequestEmail builds the friend request email. Names are
// escaped by the template.
func RenderFriendRequestEmail(to, senderName, recipientName, appURL string, now time.Time) (Email, error) {
	var buf bytes.Buffer
	err := friendRequestTmpl.Execute(&buf, friendRequestView{
		SenderName:    senderName,
		RecipientName: recipientName,
		AppURL:        strings.TrimRight(appURL, "/"),
		Year:          now.Year(),
	})
	if err != nil {
		return Email{}, fmt.Errorf("render friend request email: %w", err)
	}
	return Email{
		To:      to,
		Subject: fmt.Sprintf("%s wants to be your friend on CallMe", senderName),
		HTML:    buf.String(),
	}, nil
}
