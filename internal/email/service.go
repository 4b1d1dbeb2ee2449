// Package email delivers invite notifications via SMTP.
package email

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendInviteEmail sends the single-use acceptance link for a draft invite.
// The link embeds the raw token; it is never logged or stored here.
func (s *Service) SendInviteEmail(to, draftTitle, acceptURL string, expiresAt time.Time) error {
	subject := fmt.Sprintf("You're invited to co-write %q", draftTitle)
	body := BuildInviteBody(draftTitle, acceptURL, expiresAt)
	return s.SendEmail([]string{to}, subject, body)
}

// BuildInviteBody renders the invite message.
func BuildInviteBody(draftTitle, acceptURL string, expiresAt time.Time) string {
	return fmt.Sprintf(
		"You've been invited to collaborate on the draft %q.\n\n"+
			"Accept the invite here:\n%s\n\n"+
			"This link can be used once and expires at %s.\n",
		draftTitle,
		acceptURL,
		expiresAt.UTC().Format(time.RFC1123),
	)
}
