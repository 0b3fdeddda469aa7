package mailer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"outreach-automation-go/internal/config"
	"outreach-automation-go/internal/faults"
	"outreach-automation-go/internal/models"
)

// Mailbox is the folder the reply pipeline watches.
const Mailbox = "INBOX"

// imapTimeout bounds every IMAP command so a hung server cannot stall the
// poller indefinitely.
const imapTimeout = 60 * time.Second

// IMAPInbox polls the inbox for inbound replies, resuming from a UID
// watermark so a restart never re-surfaces already-admitted messages.
type IMAPInbox struct {
	client *client.Client
}

// NewIMAPInbox connects and authenticates against the IMAP server.
func NewIMAPInbox(cfg *config.MailConfig) (*IMAPInbox, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	c.Timeout = imapTimeout

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &IMAPInbox{client: c}, nil
}

// PollSince fetches messages with UID greater than the watermark, returning
// the messages and the highest UID seen. A zero watermark limits the first
// scan to the last 24 hours so a fresh deployment does not replay the whole
// mailbox.
func (in *IMAPInbox) PollSince(lastUID uint32) ([]models.InboundMessage, uint32, error) {
	if _, err := in.client.Select(Mailbox, false); err != nil {
		return nil, lastUID, faults.Transient(fmt.Errorf("failed to select %s: %w", Mailbox, err))
	}

	criteria := imap.NewSearchCriteria()
	if lastUID == 0 {
		criteria.Since = time.Now().Add(-24 * time.Hour)
	} else {
		uidRange := new(imap.SeqSet)
		uidRange.AddRange(lastUID+1, 0)
		criteria.Uid = uidRange
	}

	uids, err := in.client.UidSearch(criteria)
	if err != nil {
		return nil, lastUID, faults.Transient(fmt.Errorf("failed to search messages: %w", err))
	}
	if len(uids) == 0 {
		return nil, lastUID, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- in.client.UidFetch(seqset, items, messages)
	}()

	var inbound []models.InboundMessage
	maxUID := lastUID
	for msg := range messages {
		if msg.Uid > maxUID {
			maxUID = msg.Uid
		}
		parsed, err := parseMessage(msg, section)
		if err != nil {
			// Surface the malformed message instead of skipping it: the
			// watermark advances past this UID either way, so the pipeline
			// must get a chance to sink it.
			logrus.Warnf("Failed to parse IMAP message uid %d: %v", msg.Uid, err)
			parsed.ParseError = err.Error()
		}
		inbound = append(inbound, parsed)
	}

	if err := <-done; err != nil {
		return nil, lastUID, faults.Transient(fmt.Errorf("failed to fetch messages: %w", err))
	}

	return inbound, maxUID, nil
}

// parseMessage converts an IMAP message into the engine's inbound shape.
// Message identity is the envelope Message-Id, falling back to the mailbox
// UID when a sender omits it.
func parseMessage(msg *imap.Message, section *imap.BodySectionName) (models.InboundMessage, error) {
	inbound := models.InboundMessage{
		UID:        msg.Uid,
		ReceivedAt: msg.InternalDate,
	}

	if msg.Envelope != nil {
		inbound.Subject = msg.Envelope.Subject
		inbound.MessageID = msg.Envelope.MessageId
		if len(msg.Envelope.From) > 0 {
			inbound.Sender = strings.ToLower(msg.Envelope.From[0].Address())
		}
	}
	if inbound.MessageID == "" {
		inbound.MessageID = fmt.Sprintf("uid-%d@%s", msg.Uid, Mailbox)
	}

	body, err := extractBody(msg, section)
	if err != nil {
		return inbound, err
	}
	inbound.Body = body

	return inbound, nil
}

// extractBody pulls the text content out of the message, preferring
// text/plain over HTML.
func extractBody(msg *imap.Message, section *imap.BodySectionName) (string, error) {
	r := msg.GetBody(section)
	if r == nil {
		return "", fmt.Errorf("failed to get message body")
	}

	entity, err := message.Read(r)
	if err != nil {
		return "", fmt.Errorf("failed to read message: %w", err)
	}

	var plain, html string
	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", fmt.Errorf("failed to read part: %w", err)
			}

			content, err := io.ReadAll(p.Body)
			if err != nil {
				return "", fmt.Errorf("failed to read part body: %w", err)
			}

			contentType := p.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") && plain == "" {
				plain = string(content)
			} else if strings.Contains(contentType, "text/html") && html == "" {
				html = string(content)
			}
		}
	} else {
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read message body: %w", err)
		}
		contentType := entity.Header.Get("Content-Type")
		if strings.Contains(contentType, "text/html") {
			html = string(content)
		} else {
			plain = string(content)
		}
	}

	if plain != "" {
		return strings.TrimSpace(plain), nil
	}
	return strings.TrimSpace(html), nil
}

// Close logs out of the IMAP server.
func (in *IMAPInbox) Close() error {
	return in.client.Logout()
}
