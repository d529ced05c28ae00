package email

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"
)

// VerificationMailer builds and sends magic-link verification mail.
type VerificationMailer struct {
	sender  Sender
	baseURL string
	appName string
}

// NewVerificationMailer builds a mailer linking back to baseURL.
func NewVerificationMailer(sender Sender, baseURL, appName string) *VerificationMailer {
	if appName == "" {
		appName = "idbroker"
	}
	return &VerificationMailer{
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
		appName: appName,
	}
}

// Link builds the consumption URL carried in the mail.
func (m *VerificationMailer) Link(identifier, token string) string {
	q := url.Values{}
	q.Set("identifier", identifier)
	q.Set("token", token)
	return m.baseURL + "/auth/verify?" + q.Encode()
}

// SendVerification mails the magic link to the identifier address.
func (m *VerificationMailer) SendVerification(identifier, token string, expires time.Time) error {
	link := m.Link(identifier, token)
	subject := fmt.Sprintf("Sign in to %s", m.appName)
	text := fmt.Sprintf(
		"Sign in to %s\n\n%s\n\nThis link expires at %s. If you did not request it, ignore this email.\n",
		m.appName, link, expires.UTC().Format(time.RFC1123),
	)
	htmlBody := fmt.Sprintf(
		`<p>Sign in to <strong>%s</strong></p><p><a href="%s">Sign in</a></p><p>This link expires at %s. If you did not request it, ignore this email.</p>`,
		html.EscapeString(m.appName), html.EscapeString(link), expires.UTC().Format(time.RFC1123),
	)
	return m.sender.Send(identifier, subject, htmlBody, text)
}
