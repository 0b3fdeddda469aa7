package mailer

import (
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-automation-go/internal/config"
	"outreach-automation-go/internal/faults"
)

func testTemplates(t *testing.T) *Templates {
	t.Helper()
	tmpls, err := LoadTemplates(&config.MailConfig{
		SenderName:           "Muhammad",
		OutreachTemplatePath: "does-not-exist.html",
		ReplyTemplatePath:    "does-not-exist.html",
	})
	require.NoError(t, err)
	return tmpls
}

func TestRenderOutreachFillsAllSlots(t *testing.T) {
	tmpls := testTemplates(t)

	html, err := tmpls.RenderOutreach("Scaling Acme", "Acme Corp", "<p>We can help.</p>",
		[]string{"Automate intake", "Cut costs", "Grow revenue"})
	require.NoError(t, err)

	assert.Contains(t, html, "Scaling Acme")
	assert.Contains(t, html, "Acme Corp")
	assert.Contains(t, html, "<p>We can help.</p>")
	assert.Contains(t, html, "Automate intake")
	assert.Contains(t, html, "Grow revenue")
	assert.Contains(t, html, "Muhammad")
}

func TestRenderOutreachPadsMissingSolutions(t *testing.T) {
	tmpls := testTemplates(t)

	html, err := tmpls.RenderOutreach("Subject", "Acme", "Body", []string{"Only one"})
	require.NoError(t, err)
	assert.Contains(t, html, "Only one")
	assert.Contains(t, html, "Drive growth")
}

func TestRenderReply(t *testing.T) {
	tmpls := testTemplates(t)

	html, err := tmpls.RenderReply("<p>Thanks for getting back to us.</p>")
	require.NoError(t, err)
	assert.Contains(t, html, "Thanks for getting back to us.")
	assert.Contains(t, html, "Muhammad")
}

func TestBuildMessageHeaders(t *testing.T) {
	sender := &GmailSender{userEmail: "me@peekr.test", senderName: "Muhammad"}

	raw := sender.buildMessage("lead@acme.test", "Hello Acme", "<p>Hi</p>", "<thread-1@peekr.test>")
	assert.Contains(t, raw, "From: Muhammad <me@peekr.test>\r\n")
	assert.Contains(t, raw, "To: lead@acme.test\r\n")
	assert.Contains(t, raw, "Subject: Hello Acme\r\n")
	assert.Contains(t, raw, "In-Reply-To: <thread-1@peekr.test>\r\n")
	assert.Contains(t, raw, "References: <thread-1@peekr.test>\r\n")
	assert.Contains(t, raw, "Content-Type: text/html; charset=UTF-8\r\n")
	assert.Contains(t, raw, "<p>Hi</p>")
}

func TestBuildMessageWithoutThread(t *testing.T) {
	sender := &GmailSender{userEmail: "me@peekr.test", senderName: "Muhammad"}

	raw := sender.buildMessage("lead@acme.test", "Hello", "<p>Hi</p>", "")
	assert.NotContains(t, raw, "In-Reply-To")
	assert.NotContains(t, raw, "References")
}

func TestSendErrorClassification(t *testing.T) {
	rate := wrapSendError("lead@acme.test", errors.New("rate limit exceeded"))
	assert.True(t, faults.IsTransient(rate), "rate limiting should stay retriable")

	quota := wrapSendError("lead@acme.test", errors.New("user quota exceeded"))
	assert.True(t, faults.IsTransient(quota))

	rejected := wrapSendError("lead@acme.test", errors.New("invalid To header: bad recipient"))
	assert.False(t, faults.IsTransient(rejected), "a rejected recipient must not be retried")

	auth := wrapSendError("lead@acme.test", errors.New("oauth2: invalid_grant"))
	assert.False(t, faults.IsTransient(auth))
}

func TestParseMessageKeepsIdentityOnBodyFailure(t *testing.T) {
	section := &imap.BodySectionName{Peek: true}
	msg := &imap.Message{
		Uid:          7,
		InternalDate: time.Now(),
		Envelope: &imap.Envelope{
			Subject:   "Re: Growing Acme",
			MessageId: "<r1@acme.test>",
			From:      []*imap.Address{{MailboxName: "CEO", HostName: "Acme.Test"}},
		},
	}

	// No body section fetched: parsing fails, but the envelope identity
	// survives so the caller can still sink the message.
	parsed, err := parseMessage(msg, section)
	require.Error(t, err)
	assert.Equal(t, "<r1@acme.test>", parsed.MessageID)
	assert.Equal(t, "ceo@acme.test", parsed.Sender)
	assert.Equal(t, uint32(7), parsed.UID)
}
