// Package mailer is the mail transport: outbound sends via the Gmail API
// and inbound polling via IMAP with a UID watermark.
package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/sirupsen/logrus"

	"outreach-automation-go/internal/config"
	"outreach-automation-go/internal/faults"
)

const (
	sendAttempts = 3
	// sendTimeout bounds each Gmail API call so a hung transport cannot
	// block a worker past the caller's own deadline.
	sendTimeout = 30 * time.Second
)

// GmailSender sends outbound messages via the Gmail API.
type GmailSender struct {
	service    *gmail.Service
	userEmail  string
	senderName string
}

// NewGmailSender creates a sender from OAuth2 refresh-token credentials.
func NewGmailSender(cfg *config.MailConfig) (*GmailSender, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailSender{
		service:    service,
		userEmail:  cfg.UserEmail,
		senderName: cfg.SenderName,
	}, nil
}

// Send delivers one HTML message. A non-empty threadID is threaded via
// References/In-Reply-To so replies correlate with the outreach thread.
// Rate-limit errors are retried with quadratic backoff; anything else
// fails fast.
func (s *GmailSender) Send(ctx context.Context, to, subject, htmlBody, threadID string) error {
	raw := s.buildMessage(to, subject, htmlBody, threadID)
	message := &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(raw))}

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := s.service.Users.Messages.Send(s.userEmail, message).Context(callCtx).Do()
		cancel()
		if err == nil {
			logrus.Infof("Sent email to %s (subject %q)", to, subject)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		logrus.Warnf("Failed to send email to %s (attempt %d/%d): %v", to, attempt, sendAttempts, err)

		if rateLimited(err) {
			waitTime := time.Duration(attempt*attempt) * time.Second
			logrus.Infof("Rate limited, waiting %v before retry", waitTime)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		break
	}

	return wrapSendError(to, lastErr)
}

// wrapSendError classifies the exhausted failure: rate and quota rejections
// stay transient so the caller retries the event later, anything else is
// permanent.
func wrapSendError(to string, lastErr error) error {
	err := fmt.Errorf("failed to send email to %s after %d attempts: %w", to, sendAttempts, lastErr)
	if rateLimited(lastErr) {
		return faults.Transient(err)
	}
	return err
}

func rateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate")
}

// buildMessage assembles the raw RFC 822 message.
func (s *GmailSender) buildMessage(to, subject, htmlBody, threadID string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("From: %s <%s>\r\n", s.senderName, s.userEmail))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	if threadID != "" {
		b.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", threadID))
		b.WriteString(fmt.Sprintf("References: %s\r\n", threadID))
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)

	return b.String()
}

// TestConnection verifies the Gmail API credentials.
func (s *GmailSender) TestConnection(ctx context.Context) error {
	_, err := s.service.Users.GetProfile(s.userEmail).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to test Gmail API connection: %w", err)
	}
	return nil
}

// Close closes the sender (no-op for the Gmail API).
func (s *GmailSender) Close() error {
	return nil
}
